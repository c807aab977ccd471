package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/angelmondragon/carline-backend/pkg/client"
	"github.com/angelmondragon/carline-backend/pkg/enums"
)

var statusColors = map[enums.CarStatus]*color.Color{
	enums.CarStatusPreArrival: color.New(color.FgHiBlack),
	enums.CarStatusRegistered: color.New(color.FgCyan),
	enums.CarStatusOnDeck:     color.New(color.FgYellow, color.Bold),
	enums.CarStatusDone:       color.New(color.FgGreen),
	enums.CarStatusPickedUp:   color.New(color.FgBlue),
}

func paintStatus(status enums.CarStatus) string {
	if c, ok := statusColors[status]; ok {
		return c.Sprint(status.String())
	}
	return status.String()
}

func printCars(w io.Writer, cars []client.Car) {
	if len(cars) == 0 {
		fmt.Fprintln(w, "no cars")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPLATE\tCAR\tCOLOR")
	for _, car := range cars {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s %s\t%s\n", car.ID, paintStatus(car.Status), car.Plate, car.Make, car.Model, car.Color)
	}
	_ = tw.Flush()
}

func printCar(w io.Writer, car *client.Car) {
	fmt.Fprintf(w, "Car %d: %s %s (%s)\n", car.ID, car.Make, car.Model, car.Color)
	fmt.Fprintf(w, "  Plate:  %s\n", car.Plate)
	fmt.Fprintf(w, "  Status: %s\n", paintStatus(car.Status))
	stamps := []struct {
		label string
		at    *time.Time
	}{
		{"Registered", car.RegisteredAt},
		{"On deck", car.OnDeckAt},
		{"Done", car.CompletedAt},
		{"Picked up", car.PickedUpAt},
	}
	for _, s := range stamps {
		if s.at != nil {
			fmt.Fprintf(w, "  %-10s %s\n", s.label+":", s.at.Local().Format("15:04:05"))
		}
	}
}

func printHistory(w io.Writer, entries []client.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no transitions recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tFROM\tTO")
	for _, e := range entries {
		from := "-"
		if e.PreviousStatus != nil {
			from = paintStatus(*e.PreviousStatus)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ChangedAt.Local().Format("15:04:05"), from, paintStatus(e.NewStatus))
	}
	_ = tw.Flush()
}

func printDurations(w io.Writer, rows []client.StageDuration) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no stage timings yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tCARS\tMIN\tAVG\tMAX")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", paintStatus(r.Status), r.Count,
			seconds(r.MinSeconds), seconds(r.AvgSeconds), seconds(r.MaxSeconds))
	}
	_ = tw.Flush()
}

func seconds(v float64) string {
	return (time.Duration(v * float64(time.Second))).Round(time.Second).String()
}

// renderBoard prints cars grouped by stage in line order.
func renderBoard(w io.Writer, cars []client.Car, at time.Time) {
	byStatus := make(map[enums.CarStatus][]client.Car)
	for _, car := range cars {
		byStatus[car.Status] = append(byStatus[car.Status], car)
	}
	fmt.Fprintf(w, "── board @ %s ──\n", at.Local().Format("15:04:05"))
	for _, status := range enums.CarStatuses() {
		group := byStatus[status]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s (%d)\n", paintStatus(status), len(group))
		for _, car := range group {
			fmt.Fprintf(w, "  #%d %s %s %s\n", car.ID, car.Color, car.Make, car.Model)
		}
	}
	if len(cars) == 0 {
		fmt.Fprintln(w, "  (empty)")
	}
}
