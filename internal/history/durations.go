package history

import (
	"github.com/angelmondragon/carline-backend/pkg/db/models"
	"github.com/angelmondragon/carline-backend/pkg/enums"
)

// measuredStage reports whether durations are collected for the stage. The
// boundary stages (not yet arrived, already collected) are excluded.
func measuredStage(status enums.CarStatus) bool {
	return status != enums.CarStatusPreArrival && status != enums.CarStatusPickedUp && status.IsValid()
}

type durationAccumulator struct {
	count int
	min   float64
	max   float64
	total float64
}

func (a *durationAccumulator) add(seconds float64) {
	if a.count == 0 || seconds < a.min {
		a.min = seconds
	}
	if a.count == 0 || seconds > a.max {
		a.max = seconds
	}
	a.count++
	a.total += seconds
}

// aggregateDurations expects entries ordered by car, then changed_at, then id.
// For each consecutive pair within a car the elapsed time is attributed to the
// newer entry's stage. Pairs running backwards in time (clock skew between
// writers) are not sampled; their number is returned as skipped.
func aggregateDurations(entries []models.CarStatusHistory) (out []StageDuration, skipped int) {
	acc := map[enums.CarStatus]*durationAccumulator{}

	for i := 1; i < len(entries); i++ {
		older, newer := entries[i-1], entries[i]
		if older.CarID != newer.CarID || !measuredStage(newer.NewStatus) {
			continue
		}
		elapsed := newer.ChangedAt.Sub(older.ChangedAt).Seconds()
		if elapsed < 0 {
			skipped++
			continue
		}
		bucket, ok := acc[newer.NewStatus]
		if !ok {
			bucket = &durationAccumulator{}
			acc[newer.NewStatus] = bucket
		}
		bucket.add(elapsed)
	}

	out = make([]StageDuration, 0, len(enums.CarStatuses()))
	for _, status := range enums.CarStatuses() {
		if !measuredStage(status) {
			continue
		}
		row := StageDuration{Status: status}
		if bucket, ok := acc[status]; ok {
			row.Count = bucket.count
			row.MinSeconds = bucket.min
			row.MaxSeconds = bucket.max
			row.AvgSeconds = bucket.total / float64(bucket.count)
		}
		out = append(out, row)
	}
	return out, skipped
}
