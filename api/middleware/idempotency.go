package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/carline-backend/api/responses"
	pkgerrors "github.com/angelmondragon/carline-backend/pkg/errors"
	"github.com/angelmondragon/carline-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/carline-backend/pkg/redis"
)

const (
	idempotencyHeader       = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotency-Replayed"
	maxIdempotencyKeyLen    = 255

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	pendingIdempotencyTTL  = time.Minute
)

// Write routes that honor Idempotency-Key, keyed by "METHOD pattern".
var idempotentRoutes = map[string]time.Duration{
	http.MethodPost + " /api/v1/transitions":     defaultIdempotencyTTL,
	http.MethodPost + " /api/v1/cars":            defaultIdempotencyTTL,
	http.MethodPost + " /api/admin/v1/cars/bulk": criticalIdempotencyTTL,
}

var errInFlight = pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress")

// storedResponse is what a completed request leaves behind under its key.
// A pending entry only reserves the key while the first attempt runs.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body"`
	BodyHash    string `json:"request_hash"`
}

// Idempotency replays the stored response when a client retries a covered
// route with the same Idempotency-Key. Requests without the header pass
// straight through. Server errors are not stored so the retry runs again.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, covered := routeTTL(r.Method, routePattern(r))
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if !covered || store == nil || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(clientKey) > maxIdempotencyKeyLen {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			g := gate{
				store: store,
				logg:  logg,
				key:   store.IdempotencyKey(buildScope(r), clientKey),
				hash:  hashBody(body),
			}

			prior, err := g.lookup(ctx)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if prior != nil {
				replay(w, prior)
				return
			}
			if err := g.reserve(ctx); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			// The client may be gone by now; the outcome still has to land.
			g.finish(context.WithoutCancel(ctx), capture, ttl)
		})
	}
}

type gate struct {
	store pkgredis.IdempotencyStore
	logg  *logger.Logger
	key   string
	hash  string
}

// lookup returns the completed response for the key, nil when the key is
// unused, or an error for a pending or mismatched entry.
func (g gate) lookup(ctx context.Context) (*storedResponse, error) {
	raw, err := g.store.Get(ctx, g.key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Storage(err, "check idempotency")
	}

	var prior storedResponse
	if err := json.Unmarshal([]byte(raw), &prior); err != nil {
		return nil, pkgerrors.Storage(err, "decode idempotency record")
	}
	if prior.BodyHash != g.hash {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
	}
	if prior.Pending {
		return nil, errInFlight
	}
	return &prior, nil
}

func (g gate) reserve(ctx context.Context) error {
	marker, _ := json.Marshal(storedResponse{Pending: true, BodyHash: g.hash})
	ok, err := g.store.SetNX(ctx, g.key, string(marker), pendingIdempotencyTTL)
	if err != nil {
		return pkgerrors.Storage(err, "reserve idempotency key")
	}
	if !ok {
		return errInFlight
	}
	return nil
}

func (g gate) finish(ctx context.Context, capture *responseCapture, ttl time.Duration) {
	status := capture.statusOrOK()
	if status >= http.StatusInternalServerError {
		if err := g.store.Del(ctx, g.key); err != nil {
			g.logFailure(ctx, "release idempotency key", err)
		}
		return
	}

	payload, err := json.Marshal(storedResponse{
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
		BodyHash:    g.hash,
	})
	if err != nil {
		g.logFailure(ctx, "marshal idempotency record", err)
		return
	}
	if err := g.store.Set(ctx, g.key, string(payload), ttl); err != nil {
		g.logFailure(ctx, "persist idempotency record", err)
	}
}

func (g gate) logFailure(ctx context.Context, msg string, err error) {
	if g.logg != nil {
		g.logg.Error(ctx, msg, err)
	}
}

func replay(w http.ResponseWriter, prior *storedResponse) {
	if prior.ContentType != "" {
		w.Header().Set("Content-Type", prior.ContentType)
	}
	w.Header().Set(idempotencyReplayHeader, "true")
	w.WriteHeader(prior.Status)
	if body, err := base64.StdEncoding.DecodeString(prior.Body); err == nil {
		_, _ = w.Write(body)
	}
}

// buildScope keeps keys from different stations and routes apart.
func buildScope(r *http.Request) string {
	role, _ := RoleFromContext(r.Context())
	return strings.Join([]string{string(role), r.Method, trimSlash(r.URL.Path)}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	// Middleware mounted on a subrouter sees a partial "/prefix/*" pattern.
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "*") {
			return pattern
		}
	}
	return r.URL.Path
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	ttl, ok := idempotentRoutes[method+" "+trimSlash(pattern)]
	return ttl, ok
}

// trimSlash folds "/api/v1/cars/" onto "/api/v1/cars"; chi serves both.
func trimSlash(path string) string {
	if len(path) > 1 {
		return strings.TrimSuffix(path, "/")
	}
	return path
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
