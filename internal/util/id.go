package util

import "github.com/google/uuid"

// NewID returns a time ordered UUIDv7 string, falling back to v4.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsUUID reports whether raw parses as a UUID.
func IsUUID(raw string) bool {
	return uuid.Validate(raw) == nil
}
