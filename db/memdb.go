package db

import (
	"context"
	"sync"
	"time"

	"github.com/openresearch/newsletter-backend/models"
)

// MemDatabase is an in-memory Database for development and tests.
type MemDatabase struct {
	mu          sync.Mutex
	subscribers map[string]SubscriberData // keyed by email
	blacklist   map[string]EmailBlacklistData
}

// InitMemDatabase returns an empty MemDatabase.
func InitMemDatabase() *MemDatabase {
	return &MemDatabase{
		subscribers: make(map[string]SubscriberData),
		blacklist:   make(map[string]EmailBlacklistData),
	}
}

func (db *MemDatabase) byToken(token string) (SubscriberData, bool) {
	for _, sub := range db.subscribers {
		if sub.Token == token {
			return sub, true
		}
	}
	return SubscriberData{}, false
}

// CreateSubscriber adds an unconfirmed subscriber unless email is taken.
func (db *MemDatabase) CreateSubscriber(ctx context.Context, email string, token string) (*models.Subscriber, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.subscribers[email]; ok {
		return nil, nil
	}
	sub := models.NewSubscriber(email, token)
	sub.CreatedAt = time.Now()
	db.subscribers[email] = SubscriberData{Subscriber: sub}
	return &sub, nil
}

// ConfirmSubscriber confirms the subscriber holding token, if it can still
// be confirmed.
func (db *MemDatabase) ConfirmSubscriber(ctx context.Context, token string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	sub, ok := db.byToken(token)
	if !ok || !sub.CanConfirm() {
		return false, nil
	}
	now := time.Now()
	sub.Confirmed = true
	sub.ConfirmedAt = &now
	db.subscribers[sub.Email] = sub
	return true, nil
}

// Unsubscribe marks the active subscriber holding token as unsubscribed.
func (db *MemDatabase) Unsubscribe(ctx context.Context, token string) (models.UnsubscribeResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	sub, ok := db.byToken(token)
	if !ok || sub.Status == models.StatusUnsubscribed {
		return models.UnsubscribeResult{}, nil
	}
	now := time.Now()
	sub.Status = models.StatusUnsubscribed
	sub.UnsubscribedAt = &now
	db.subscribers[sub.Email] = sub
	return models.UnsubscribeResult{Success: true, Email: sub.Email}, nil
}

// DeleteSubscriberByToken removes the subscriber holding token.
func (db *MemDatabase) DeleteSubscriberByToken(ctx context.Context, token string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	sub, ok := db.byToken(token)
	if !ok {
		return ErrNotFound
	}
	delete(db.subscribers, sub.Email)
	return nil
}

// DeleteUnconfirmedBefore purges stale pending subscriptions.
func (db *MemDatabase) DeleteUnconfirmedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	for email, sub := range db.subscribers {
		if sub.CanConfirm() && sub.CreatedAt.Before(cutoff) {
			delete(db.subscribers, email)
			n++
		}
	}
	return n, nil
}

// GetSubscriber retrieves the subscriber for email.
func (db *MemDatabase) GetSubscriber(ctx context.Context, email string) (SubscriberData, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	sub, ok := db.subscribers[email]
	if !ok {
		return sub, ErrNotFound
	}
	return sub, nil
}

// PutBlacklistedEmail adds email to the blacklist.
func (db *MemDatabase) PutBlacklistedEmail(email string, reason string, timestamp string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.blacklist[email] = EmailBlacklistData{Email: email, Reason: reason, Timestamp: parseTimestamp(timestamp)}
	return nil
}

// IsBlacklistedEmail returns true iff email is blacklisted.
func (db *MemDatabase) IsBlacklistedEmail(email string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.blacklist[email]
	return ok, nil
}

// ClearTables empties the database.
func (db *MemDatabase) ClearTables() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.subscribers = make(map[string]SubscriberData)
	db.blacklist = make(map[string]EmailBlacklistData)
	return nil
}
