package store

import "errors"

// Sentinel errors for the association graph. Callers classify with errors.Is;
// the HTTP layer maps them onto status codes.
var (
	// ErrNotFound means a referenced listing, property or building id is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the requested mutation would violate a graph invariant,
	// such as deleting a parent that still owns children or attaching to a
	// merged-away building.
	ErrConflict = errors.New("conflict")
)
