package engine

import "github.com/google/uuid"

// newEntryID creates one history entry identifier.
// Params: none.
// Returns: random UUID string.
func newEntryID() string {
	return uuid.NewString()
}
