package listing

import (
	"errors"
	"fmt"
)

// ErrUnknownVehicleType blocks a submission whose vehicle type cannot be
// determined. The seller has to restart from the first step.
var ErrUnknownVehicleType = errors.New("vehicle type is not set, please restart from the first step")

// ValidationError is a user-facing input problem tied to one field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// SubmitError carries the database's own message for a rejected insert so
// it can be shown to the seller unmodified.
type SubmitError struct {
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	return e.Message
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// UserMessage returns the text to show the seller for err.
func UserMessage(err error) string {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return err.Error()
}
