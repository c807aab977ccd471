package analytics

import (
	"net/http"

	"github.com/angelmondragon/carline-backend/api/responses"
	"github.com/angelmondragon/carline-backend/internal/history"
	"github.com/angelmondragon/carline-backend/pkg/logger"
)

// StageDurations reports min, max and average seconds per stage, measured
// between consecutive ledger entries of each car.
func StageDurations(service history.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := service.AggregateDurations(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
