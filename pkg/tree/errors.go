package tree

import "errors"

var (
	// ErrNotFound is returned when the requested entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrInvalidState is returned when an operation targets an entry in the
	// wrong state, e.g. moving into a non-folder or a recycled folder.
	ErrInvalidState = errors.New("invalid entry state")

	// ErrNameExists is returned when an explicit rename or folder creation
	// collides with a live sibling of the same name.
	ErrNameExists = errors.New("name already exists in folder")

	// ErrTreeCycle is returned when traversal revisits an entry, which means
	// the stored tree contains a cycle or self-reference.
	ErrTreeCycle = errors.New("cycle detected in file tree")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("database error")
)
