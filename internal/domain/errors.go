package domain

import "errors"

var (
	// ErrNotFound signals a missing row independent of the storage backend.
	ErrNotFound = errors.New("domain: not found")
	// ErrBadRequest indicates caller input validation errors.
	ErrBadRequest = errors.New("domain: bad request")
	// ErrUnauthorized indicates missing or insufficient credentials.
	ErrUnauthorized = errors.New("domain: unauthorized")
	// ErrConflict indicates a uniqueness violation such as a duplicate email.
	ErrConflict = errors.New("domain: conflict")
	// ErrInternal indicates an unexpected server-side failure.
	ErrInternal = errors.New("domain: internal error")
)
