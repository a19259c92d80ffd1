package walk

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionNotActive  = errors.New("session is not in progress")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrInvalidPayload    = errors.New("invalid payload")

	// ErrConfirmationCodeMismatch is an InvalidTransition: the session stays confirmed.
	ErrConfirmationCodeMismatch = fmt.Errorf("%w: confirmation code mismatch", ErrInvalidTransition)
)

// TransitionError describes a refused state change. It matches
// ErrInvalidTransition, and ErrSessionNotActive when the refused target
// needed an in-progress session.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	switch target {
	case ErrInvalidTransition:
		return true
	case ErrSessionNotActive:
		return e.To == StateCompleted && e.From != StateInProgress
	}
	return false
}

// HTTPStatus maps domain errors to response codes.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCoordinate), errors.Is(err, ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConfirmationCodeMismatch):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
