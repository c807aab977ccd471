// Package events defines the car status wire format pushed to observers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/carline-backend/pkg/enums"
)

// TypeCarStatusUpdate is the only envelope type observers accept.
const TypeCarStatusUpdate = "car_status_update"

// Channel is the well-known name of the broadcast stream.
const Channel = "car_status"

var (
	// ErrUnknownType is returned for envelopes carrying another type.
	ErrUnknownType = errors.New("unknown envelope type")
	// ErrInvalidPayload is returned when the data block fails the schema.
	ErrInvalidPayload = errors.New("invalid car status payload")
)

// Envelope wraps every pushed message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CarStatusUpdate signals that a car changed stage. Observers treat it as a
// prompt to re-read the car, never as the car's new state.
type CarStatusUpdate struct {
	CarID     int64     `json:"carId" validate:"gt=0"`
	OldStatus string    `json:"oldStatus" validate:"old_car_status"`
	NewStatus string    `json:"newStatus" validate:"car_status"`
	Timestamp time.Time `json:"timestamp" validate:"set_time"`
}

// NewCarStatusUpdate builds the event for a committed transition. A nil
// previous status is sent as UNKNOWN.
func NewCarStatusUpdate(carID int64, previous *enums.CarStatus, next enums.CarStatus, at time.Time) CarStatusUpdate {
	old := enums.CarStatusUnknown
	if previous != nil && previous.IsValid() {
		old = previous.String()
	}
	return CarStatusUpdate{
		CarID:     carID,
		OldStatus: old,
		NewStatus: next.String(),
		Timestamp: at.UTC(),
	}
}

// wireCarStatusUpdate only checks presence: pointers make a missing field
// fail "required" instead of decoding to a zero value. Field rules live on
// CarStatusUpdate.
type wireCarStatusUpdate struct {
	CarID     *int64  `json:"carId" validate:"required"`
	OldStatus *string `json:"oldStatus" validate:"required"`
	NewStatus *string `json:"newStatus" validate:"required"`
	Timestamp *string `json:"timestamp" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("car_status", func(fl validator.FieldLevel) bool {
		return enums.CarStatus(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("old_car_status", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return value == enums.CarStatusUnknown || enums.CarStatus(value).IsValid()
	})
	_ = v.RegisterValidation("set_time", func(fl validator.FieldLevel) bool {
		ts, ok := fl.Field().Interface().(time.Time)
		return ok && !ts.IsZero()
	})
	return v
}

// Validate checks the update against the wire schema.
func (u CarStatusUpdate) Validate() error {
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Encode validates the update and wraps it in a car_status_update envelope.
func Encode(update CarStatusUpdate) ([]byte, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	update.Timestamp = update.Timestamp.UTC()
	data, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("marshal car status update: %w", err)
	}
	return json.Marshal(Envelope{Type: TypeCarStatusUpdate, Data: data})
}

// Decode parses an envelope and validates its data block. Any error means the
// message must be discarded.
func Decode(raw []byte) (CarStatusUpdate, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return CarStatusUpdate{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Type != TypeCarStatusUpdate {
		return CarStatusUpdate{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if len(env.Data) == 0 {
		return CarStatusUpdate{}, fmt.Errorf("%w: data required", ErrInvalidPayload)
	}

	var wire wireCarStatusUpdate
	if err := json.Unmarshal(env.Data, &wire); err != nil {
		return CarStatusUpdate{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(wire); err != nil {
		return CarStatusUpdate{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ts, err := time.Parse(time.RFC3339, *wire.Timestamp)
	if err != nil {
		return CarStatusUpdate{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidPayload, err)
	}

	update := CarStatusUpdate{
		CarID:     *wire.CarID,
		OldStatus: *wire.OldStatus,
		NewStatus: *wire.NewStatus,
		Timestamp: ts.UTC(),
	}
	if err := update.Validate(); err != nil {
		return CarStatusUpdate{}, err
	}
	return update, nil
}
