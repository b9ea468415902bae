package db

import (
	"context"
	"errors"
	"time"

	"github.com/openresearch/newsletter-backend/models"
)

///////////////////////////////////////
//  *****   DATABASE SCHEMA   *****  //
///////////////////////////////////////

// Each of these mirrors a table row.

// SubscriberData is a subscriber row.
type SubscriberData struct {
	models.Subscriber
	ConfirmedAt    *time.Time // When the double opt-in completed.
	UnsubscribedAt *time.Time // When the subscriber left.
}

// EmailBlacklistData stores the emails from which we've received bounce or complaint notifications.
type EmailBlacklistData struct {
	Email     string    // Email to blacklist.
	Timestamp time.Time // When the bounce or complaint occurred.
	Reason    string    // eg. "Bounce" or "Complaint"
}

// ErrNotFound is returned when no subscriber matches a token or email.
var ErrNotFound = errors.New("subscriber not found")

// Database interface: These are the things that the Database should be able to do.
type Database interface {
	// Creates an unconfirmed subscriber. Returns nil if the email is taken.
	CreateSubscriber(ctx context.Context, email string, token string) (*models.Subscriber, error)
	// Confirms the unconfirmed, active subscriber holding token.
	ConfirmSubscriber(ctx context.Context, token string) (bool, error)
	// Marks the subscriber holding token as unsubscribed.
	Unsubscribe(ctx context.Context, token string) (models.UnsubscribeResult, error)
	// Removes the subscriber holding token.
	DeleteSubscriberByToken(ctx context.Context, token string) error
	// Removes active subscribers that were never confirmed and were created
	// before cutoff. Returns how many were removed.
	DeleteUnconfirmedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Retrieves a subscriber by email.
	GetSubscriber(ctx context.Context, email string) (SubscriberData, error)
	// Adds a bounce or complaint notification to the email blacklist.
	PutBlacklistedEmail(email string, reason string, timestamp string) error
	// Returns true if we've blacklisted an email.
	IsBlacklistedEmail(string) (bool, error)
	ClearTables() error
}

// Config is a configuration struct for a Database.
type Config struct {
	DbHost     string
	DbName     string
	DbUsername string
	DbPass     string
	// URL overrides the fields above when set.
	URL string
}

// parseTimestamp reads the ISO 8601 timestamps SES attaches to notifications.
func parseTimestamp(timestamp string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
