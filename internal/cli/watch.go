package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/carline-backend/pkg/client"
	"github.com/angelmondragon/carline-backend/pkg/enums"
	"github.com/angelmondragon/carline-backend/pkg/logger"
	"github.com/angelmondragon/carline-backend/pkg/observer"
)

func watchCmd(g *globals) *cobra.Command {
	var (
		status string
		delay  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show a live board that redraws on every relevant move",
		Long: `Watch opens the car status stream and re-reads the board from the API
whenever a watched stage changes. After a dropped connection it reconnects
and re-reads everything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(status)
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			header := http.Header{}
			if g.role != "" {
				header.Set(client.RoleHeader, g.role)
			}
			return runWatch(cmd.Context(), watchParams{
				Out:            cmd.OutOrStdout(),
				API:            api,
				Statuses:       statuses,
				Logger:         g.logger(os.Stderr),
				Dialer:         observer.WebsocketDialer{Header: header},
				ReconnectDelay: delay,
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show and react to these stages")
	cmd.Flags().DurationVar(&delay, "reconnect-delay", observer.DefaultReconnectDelay, "wait between reconnect attempts")
	return cmd
}

// indicatorPoll is how often the board checks for a lasting outage.
const indicatorPoll = 500 * time.Millisecond

type watchParams struct {
	Out            io.Writer
	API            *client.Client
	Statuses       []enums.CarStatus
	Logger         *logger.Logger
	Dialer         observer.Dialer
	ReconnectDelay time.Duration

	// Zero values use the observer defaults.
	DisconnectGrace time.Duration
	PollEvery       time.Duration
	Now             func() time.Time
}

// runWatch blocks until ctx ends. Interrupting the board is not an error.
func runWatch(ctx context.Context, p watchParams) error {
	out := &lockedWriter{w: p.Out}
	status := &linkIndicator{out: out}

	board := observer.NewView(
		func(ctx context.Context) ([]client.Car, error) {
			return p.API.ListCars(ctx, p.Statuses...)
		},
		func(cars []client.Car) {
			renderBoard(out, cars, time.Now())
		},
	)

	ch, err := observer.NewChannel(observer.Options{
		URL:             p.API.StreamURL(),
		Dialer:          p.Dialer,
		Logger:          p.Logger,
		ReconnectDelay:  p.ReconnectDelay,
		DisconnectGrace: p.DisconnectGrace,
		Now:             p.Now,
		OnStateChange: func(state observer.State) {
			if state == observer.StateOpen {
				status.opened()
			}
		},
	})
	if err != nil {
		return err
	}

	interest := observer.AnyChange()
	if len(p.Statuses) > 0 {
		interest = observer.ForStatuses(p.Statuses...)
	}
	unbind := board.Bind(ch, interest)
	defer unbind()

	pollEvery := p.PollEvery
	if pollEvery <= 0 {
		pollEvery = indicatorPoll
	}
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		ticker := time.NewTicker(pollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				status.check(ch.Disconnected())
			}
		}
	}()

	err = ch.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// linkIndicator prints the connection banner. Short drops that reconnect
// inside the grace period print nothing.
type linkIndicator struct {
	out io.Writer

	mu       sync.Mutex
	everOpen bool
	lost     bool
}

func (l *linkIndicator) opened() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.everOpen || l.lost {
		fmt.Fprintln(l.out, color.GreenString("● live"))
	}
	l.everOpen = true
	l.lost = false
}

func (l *linkIndicator) check(disconnected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if disconnected && !l.lost {
		l.lost = true
		fmt.Fprintln(l.out, color.YellowString("○ connection lost, reconnecting"))
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(b)
}
