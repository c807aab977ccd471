package controllers

import (
	"net/http"

	"github.com/angelmondragon/carline-backend/api/responses"
	"github.com/angelmondragon/carline-backend/api/validators"
	"github.com/angelmondragon/carline-backend/internal/cars"
	"github.com/angelmondragon/carline-backend/pkg/logger"
)

const (
	carIDParam   = "carId"
	maxSearchLen = 64
)

// ListCars returns every car, or only those in the statuses named by
// ?status=A,B.
func ListCars(svc cars.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := validators.ParseStatusFilter(r, "status")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var list []cars.CarDTO
		if len(statuses) == 0 {
			list, err = svc.ListAll(r.Context())
		} else {
			list, err = svc.ListByStatus(r.Context(), statuses...)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func GetCar(svc cars.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, carIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		car, err := svc.GetByID(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, car)
	}
}

// SearchCar looks a car up by id or plate.
func SearchCar(svc cars.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := validators.SanitizeString(r.URL.Query().Get("q"), maxSearchLen)
		car, err := svc.Search(r.Context(), term)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, car)
	}
}

func RegisterCar(svc cars.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input cars.NewCarInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		car, err := svc.Register(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, car)
	}
}

func UpdateCar(svc cars.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, carIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var input cars.UpdateCarInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		car, err := svc.UpdateDetails(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, car)
	}
}

func DeleteCar(svc cars.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, carIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

type bulkLoadRequest struct {
	Cars []cars.NewCarInput `json:"cars" validate:"required,min=1,max=1000,dive"`
}

// BulkLoadCars inserts a batch of PRE_ARRIVAL cars in one transaction.
func BulkLoadCars(svc cars.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkLoadRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		inserted, err := svc.BulkLoad(r.Context(), req.Cars)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]int{"inserted": inserted})
	}
}

// Suggestions returns the non-binding next moves for a car.
func Suggestions(svc cars.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathID(r, carIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		car, err := svc.GetByID(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cars.SuggestedTransitions(car.Status))
	}
}
