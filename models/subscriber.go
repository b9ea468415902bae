package models

import (
	"time"
)

// SubscriberStatus represents whether a subscriber still wants to receive
// the newsletter.
type SubscriberStatus string

// Possible values for SubscriberStatus
const (
	StatusActive       SubscriberStatus = "active"       // Default state, set on creation.
	StatusUnsubscribed SubscriberStatus = "unsubscribed" // Followed an unsubscribe link.
)

// Subscriber stores the subscription state of a single email address.
// The subscriber store owns this record; copies held by the service are
// never authoritative.
type Subscriber struct {
	Email     string           `json:"email"`     // Identity used for deduplication by the store.
	Token     string           `json:"token"`     // Confirmation and unsubscribe token.
	Confirmed bool             `json:"confirmed"` // Whether the double opt-in was completed.
	Status    SubscriberStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt,omitempty"`
}

// UnsubscribeResult is the store's answer to an unsubscribe request.
type UnsubscribeResult struct {
	Success bool
	Email   string // Set when the store tells us who was unsubscribed.
}

// NewSubscriber returns the record the store should create for a fresh,
// unconfirmed subscription.
func NewSubscriber(email string, token string) Subscriber {
	return Subscriber{
		Email:     email,
		Token:     token,
		Confirmed: false,
		Status:    StatusActive,
	}
}

// CanConfirm reports whether the token-holder can still complete the
// double opt-in.
func (s Subscriber) CanConfirm() bool {
	return !s.Confirmed && s.Status == StatusActive
}
