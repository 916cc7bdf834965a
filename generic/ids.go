package generic

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 string. Ids sort lexicographically in
// creation order, which keeps ledger and run listings stable.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
