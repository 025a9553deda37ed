package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")

	ErrInvalidAgentKey = errors.New("invalid agent key")
)
