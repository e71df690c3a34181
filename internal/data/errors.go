package data

import "errors"

var (
	// ErrNotFound is returned when a unit is not present in the registry.
	ErrNotFound = errors.New("transfer unit not found")
	// ErrNoSource is returned when a descriptor carries no download URL.
	ErrNoSource = errors.New("descriptor has no source url")
)
