package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/carline-backend/pkg/client"
	"github.com/angelmondragon/carline-backend/pkg/enums"
)

func parseCarID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("car id must be a positive integer, got %q", raw)
	}
	return id, nil
}

func listCmd(g *globals) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cars, optionally filtered by stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(status)
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			cars, err := api.ListCars(cmd.Context(), statuses...)
			if err != nil {
				return fmt.Errorf("failed to list cars: %w", err)
			}
			printCars(cmd.OutOrStdout(), cars)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma separated stages, e.g. REGISTERED,ON_DECK")
	return cmd
}

func showCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show [car-id]",
		Short: "Show one car",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCarID(args[0])
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			car, err := api.GetCar(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to get car %d: %w", id, err)
			}
			printCar(cmd.OutOrStdout(), car)
			return nil
		},
	}
}

func searchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "search [id-or-plate]",
		Short: "Find a car by id or plate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := g.client()
			if err != nil {
				return err
			}
			car, err := api.SearchCar(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("no match for %q: %w", args[0], err)
			}
			printCar(cmd.OutOrStdout(), car)
			return nil
		},
	}
}

func registerCmd(g *globals) *cobra.Command {
	var (
		id                          int64
		carMake, model, colr, plate string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new car",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			carColor, err := enums.ParseCarColor(colr)
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			car, err := api.RegisterCar(cmd.Context(), client.NewCar{
				ID: id, Make: carMake, Model: model, Color: carColor, Plate: plate,
			})
			if err != nil {
				return fmt.Errorf("failed to register car: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Registered car %d (%s)\n", color.GreenString("✓"), car.ID, paintStatus(car.Status))
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "car id (required)")
	cmd.Flags().StringVar(&carMake, "make", "", "manufacturer")
	cmd.Flags().StringVar(&model, "model", "", "model")
	cmd.Flags().StringVar(&colr, "color", string(enums.CarColorOther), "color")
	cmd.Flags().StringVar(&plate, "plate", "", "license plate")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func moveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "move [car-id] [status]",
		Short: "Move a car to another stage",
		Long: `Move a car to any stage. Every move is recorded in the car's history and
pushed to every connected board.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCarID(args[0])
			if err != nil {
				return err
			}
			target, err := enums.ParseCarStatus(args[1])
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			car, err := api.Transition(cmd.Context(), id, target)
			if err != nil {
				return fmt.Errorf("failed to move car %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Car %d is now %s\n", color.GreenString("✓"), car.ID, paintStatus(car.Status))
			return nil
		},
	}
}

func suggestCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest [car-id]",
		Short: "Show the suggested next moves for a car",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCarID(args[0])
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			s, err := api.Suggestions(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to get suggestions for car %d: %w", id, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Car %d is %s\n", id, paintStatus(s.Current))
			if s.Primary != nil {
				fmt.Fprintf(out, "  next: %s\n", paintStatus(*s.Primary))
			}
			for _, alt := range s.Secondary {
				fmt.Fprintf(out, "  also: %s\n", paintStatus(alt))
			}
			return nil
		},
	}
}

func historyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "history [car-id]",
		Short: "Show the transition history of a car",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCarID(args[0])
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			entries, err := api.History(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to get history for car %d: %w", id, err)
			}
			printHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
}

func durationsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "durations",
		Short: "Show time from registration to each stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := g.client()
			if err != nil {
				return err
			}
			rows, err := api.Durations(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get durations: %w", err)
			}
			printDurations(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

func loadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "load [file.json]",
		Short: "Bulk load cars from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cars, err := readCarsFile(args[0])
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			n, err := api.BulkLoad(cmd.Context(), cars)
			if err != nil {
				return fmt.Errorf("failed to load cars: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Loaded %d cars\n", color.GreenString("✓"), n)
			return nil
		},
	}
}

func readCarsFile(path string) ([]client.NewCar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var cars []client.NewCar
	if err := json.Unmarshal(raw, &cars); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(cars) == 0 {
		return nil, fmt.Errorf("%s contains no cars", path)
	}
	return cars, nil
}

func deleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [car-id]",
		Short: "Delete a car (non-production only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCarID(args[0])
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			if err := api.DeleteCar(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete car %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted car %d\n", color.GreenString("✓"), id)
			return nil
		},
	}
}
