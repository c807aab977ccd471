package controllers

import (
	"net/http"

	"github.com/angelmondragon/carline-backend/api/responses"
	"github.com/angelmondragon/carline-backend/api/validators"
	"github.com/angelmondragon/carline-backend/internal/cars"
	"github.com/angelmondragon/carline-backend/pkg/enums"
	"github.com/angelmondragon/carline-backend/pkg/logger"
)

type transitionRequest struct {
	CarID        int64           `json:"car_id" validate:"required,gt=0"`
	TargetStatus enums.CarStatus `json:"target_status" validate:"required,car_status"`
}

// ApplyTransition moves a car to any stage and answers with the updated car.
func ApplyTransition(svc cars.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		car, err := svc.ApplyTransition(r.Context(), req.CarID, req.TargetStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, car)
	}
}
