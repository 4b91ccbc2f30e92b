package chatmodel

import "errors"

var (
	// ErrCatalogEmpty is returned when tool-calling is enabled with a
	// zero-length tool catalog.
	ErrCatalogEmpty = errors.New("tool catalog is empty")
	// ErrCatalogInvalid is returned when a tool descriptor fails schema
	// parsing (missing name, malformed parameters object).
	ErrCatalogInvalid = errors.New("tool catalog is invalid")
	// ErrToolCallMalformed is returned when the detector completes a
	// candidate but extraction finds no name or arguments.
	ErrToolCallMalformed = errors.New("tool call payload is malformed")
)
