package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/carline-backend/api/controllers"
	analyticscontrollers "github.com/angelmondragon/carline-backend/api/controllers/analytics"
	"github.com/angelmondragon/carline-backend/api/middleware"
	"github.com/angelmondragon/carline-backend/internal/broadcast"
	"github.com/angelmondragon/carline-backend/internal/cars"
	"github.com/angelmondragon/carline-backend/internal/history"
	"github.com/angelmondragon/carline-backend/pkg/config"
	"github.com/angelmondragon/carline-backend/pkg/db"
	"github.com/angelmondragon/carline-backend/pkg/logger"
	"github.com/angelmondragon/carline-backend/pkg/redis"
)

// NewRouter mounts the API. redisClient and metricsHandler may be nil; without
// redis, idempotency keys are ignored.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	carService cars.Service,
	historyService history.Service,
	hub *broadcast.Hub,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.OperatorRole(logg),
	)

	checks := map[string]controllers.Pinger{"db": dbP}
	var idempotencyStore redis.IdempotencyStore
	if redisClient != nil {
		checks["redis"] = redisClient
		idempotencyStore = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, checks, logg))
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Get("/ws/car-status", controllers.CarStatusStream(hub, cfg.App.CORSOrigins, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Get("/ping", controllers.Ping())
		r.Post("/transitions", controllers.ApplyTransition(carService, logg))

		r.Route("/cars", func(r chi.Router) {
			r.Get("/", controllers.ListCars(carService, logg))
			r.Post("/", controllers.RegisterCar(carService, logg))
			r.Get("/search", controllers.SearchCar(carService, logg))
			r.Get("/{carId}", controllers.GetCar(carService, logg))
			r.Put("/{carId}", controllers.UpdateCar(carService, logg))
			r.Get("/{carId}/history", controllers.CarHistory(historyService, logg))
			r.Get("/{carId}/suggestions", controllers.Suggestions(carService, logg))
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/durations", analyticscontrollers.StageDurations(historyService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Post("/cars/bulk", controllers.BulkLoadCars(carService, logg))
		if !cfg.App.IsProd() {
			r.Delete("/cars/{carId}", controllers.DeleteCar(carService, logg))
		}
	})

	return r
}
