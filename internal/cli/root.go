// Package cli implements the carline operator command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/carline-backend/pkg/client"
	"github.com/angelmondragon/carline-backend/pkg/enums"
	"github.com/angelmondragon/carline-backend/pkg/logger"
)

const (
	apiURLEnv     = "CARLINE_API_URL"
	roleEnv       = "CARLINE_ROLE"
	defaultAPIURL = "http://localhost:8080"
)

type globals struct {
	apiURL   string
	role     string
	logLevel string
}

// RootCmd returns the carline command with every subcommand attached.
func RootCmd(version string) *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:     "carline",
		Short:   "Operate the car line from a terminal",
		Version: version,
		Long: `carline drives the car line API: register cars, move them between
stages, read their history and watch the live board.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&g.apiURL, "api", envOr(apiURLEnv, defaultAPIURL), "API base url")
	root.PersistentFlags().StringVar(&g.role, "role", os.Getenv(roleEnv), "operator station (registration|staging|pickup|display)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level for the live board connection")

	root.AddCommand(listCmd(g))
	root.AddCommand(showCmd(g))
	root.AddCommand(searchCmd(g))
	root.AddCommand(registerCmd(g))
	root.AddCommand(moveCmd(g))
	root.AddCommand(suggestCmd(g))
	root.AddCommand(historyCmd(g))
	root.AddCommand(durationsCmd(g))
	root.AddCommand(loadCmd(g))
	root.AddCommand(deleteCmd(g))
	root.AddCommand(watchCmd(g))

	return root
}

func (g *globals) client() (*client.Client, error) {
	var opts []client.Option
	if strings.TrimSpace(g.role) != "" {
		role, err := enums.ParseOperatorRole(g.role)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithRole(role))
	}
	return client.New(g.apiURL, opts...)
}

func (g *globals) logger(out io.Writer) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: "carline-cli",
		Level:       logger.ParseLevel(g.logLevel),
		Output:      out,
	})
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseStatuses(raw string) ([]enums.CarStatus, error) {
	var out []enums.CarStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		status, err := enums.ParseCarStatus(part)
		if err != nil {
			return nil, fmt.Errorf("invalid status %q", part)
		}
		out = append(out, status)
	}
	return out, nil
}
