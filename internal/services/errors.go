package services

import "errors"

// Service-level error sentinels. Callers match them with errors.Is; the API layer
// maps each onto a status code. Wrapped messages are safe to return to clients.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
)
