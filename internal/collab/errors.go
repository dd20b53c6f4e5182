package collab

import "errors"

// ErrNotFound is returned when a collection, problem, room, membership, or
// realized problem does not exist (or the user may not access it).
var ErrNotFound = errors.New("collab: not found")
