package incidents

import (
	"errors"
	"fmt"
)

// Error kinds exposed to callers. Check with errors.Is.
var (
	ErrValidation           = errors.New("validation error")
	ErrIncidentNotFound     = errors.New("incident not found")
	ErrPersistence          = errors.New("persistence error")
	ErrTransitionNotAllowed = errors.New("status transition not allowed")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// persistenceErr tags gateway failures so callers can tell them apart from
// domain errors. Not-found passes through untouched.
func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIncidentNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrTransitionNotAllowed) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
