package domain

import (
	"errors"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBlocked      = errors.New("blocked")
	ErrPersistence  = errors.New("persistence error")
)

// Wire reasons, sent to the sender in deliveryFailed.
const (
	ReasonValidation   = "validation_error"
	ReasonNotFound     = "not_found"
	ReasonUnauthorized = "unauthorized"
	ReasonBlocked      = "blocked"
	ReasonPersistence  = "persistence_error"
)

// Reason classifies err. Anything unknown is reported as a persistence failure.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrUnauthorized):
		return ReasonUnauthorized
	case errors.Is(err, ErrBlocked):
		return ReasonBlocked
	default:
		return ReasonPersistence
	}
}

// Retryable: только ошибки хранилища имеет смысл повторять.
func Retryable(err error) bool {
	return err != nil && Reason(err) == ReasonPersistence
}
