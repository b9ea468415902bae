package models

import "github.com/google/uuid"

// NewToken generates a fresh random token for a subscriber. The same value
// is used in confirmation and unsubscribe links.
func NewToken() string {
	return uuid.NewString()
}
