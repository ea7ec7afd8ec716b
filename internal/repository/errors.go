package repository

import "errors"

var (
	// ErrSessionNotFound indicates no live session has the given ID
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists indicates a session with the same ID is already stored
	ErrSessionExists = errors.New("session already exists")

	// ErrInvalidSession indicates a session without an ID or controller
	ErrInvalidSession = errors.New("invalid session")
)
