package governance

import "github.com/google/uuid"

// newID generates row identifiers. UUIDv4 keeps inserts collision-free
// across concurrent transactions without a sequence round-trip.
func newID() string { return uuid.NewString() }
