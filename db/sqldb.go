package db

import (
	"context"
	"database/sql"
	_ "embed" // for the schema
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/openresearch/newsletter-backend/models"
)

//go:embed schema.sql
var schema string

// Postgres error code for unique_violation.
const uniqueViolation = "23505"

// SQLDatabase is a Database interface backed by postgresql.
type SQLDatabase struct {
	cfg  Config  // Configuration to define the DB connection.
	conn *sql.DB // The database connection.
}

func getConnectionString(cfg Config) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	connectionString := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.PathEscape(cfg.DbUsername),
		url.PathEscape(cfg.DbPass),
		url.PathEscape(cfg.DbHost),
		url.PathEscape(cfg.DbName))
	return connectionString
}

// InitSQLDatabase creates a DB connection based on information in a Config, and
// returns a pointer the resulting SQLDatabase object. If connection fails,
// returns an error.
func InitSQLDatabase(cfg Config) (*SQLDatabase, error) {
	log.Info().Str("host", cfg.DbHost).Msg("connecting to Postgres")
	conn, err := sql.Open("postgres", getConnectionString(cfg))
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &SQLDatabase{cfg: cfg, conn: conn}, nil
}

// EnsureSchema creates missing tables.
func (db *SQLDatabase) EnsureSchema(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying connection pool.
func (db *SQLDatabase) Close() error {
	return db.conn.Close()
}

// SUBSCRIBER DB FUNCTIONS

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// CreateSubscriber inserts an unconfirmed, active subscriber. If the email
// (or, improbably, the token) already exists, returns nil without error.
func (db *SQLDatabase) CreateSubscriber(ctx context.Context, email string, token string) (*models.Subscriber, error) {
	sub := models.NewSubscriber(email, token)
	err := db.conn.QueryRowContext(ctx,
		"INSERT INTO subscribers(email, token, confirmed, status) VALUES($1, $2, $3, $4) RETURNING created_at",
		sub.Email, sub.Token, sub.Confirmed, sub.Status).Scan(&sub.CreatedAt)
	if isUniqueViolation(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ConfirmSubscriber sets confirmed=true on the active, unconfirmed
// subscriber holding token. Returns false if there is no such subscriber.
func (db *SQLDatabase) ConfirmSubscriber(ctx context.Context, token string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE subscribers SET confirmed=TRUE, confirmed_at=NOW() WHERE token=$1 AND confirmed=FALSE AND status=$2",
		token, models.StatusActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Unsubscribe marks the active subscriber holding token as unsubscribed, and
// returns their email address. A token that is already unsubscribed does not
// match.
func (db *SQLDatabase) Unsubscribe(ctx context.Context, token string) (models.UnsubscribeResult, error) {
	var email string
	err := db.conn.QueryRowContext(ctx,
		"UPDATE subscribers SET status=$1, unsubscribed_at=NOW() WHERE token=$2 AND status<>$1 RETURNING email",
		models.StatusUnsubscribed, token).Scan(&email)
	if err == sql.ErrNoRows {
		return models.UnsubscribeResult{}, nil
	}
	if err != nil {
		return models.UnsubscribeResult{}, err
	}
	return models.UnsubscribeResult{Success: true, Email: email}, nil
}

// DeleteSubscriberByToken removes the subscriber holding token.
func (db *SQLDatabase) DeleteSubscriberByToken(ctx context.Context, token string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM subscribers WHERE token=$1", token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUnconfirmedBefore purges stale pending subscriptions.
func (db *SQLDatabase) DeleteUnconfirmedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM subscribers WHERE confirmed=FALSE AND status=$1 AND created_at < $2",
		string(models.StatusActive), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetSubscriber retrieves the subscriber row for email.
func (db *SQLDatabase) GetSubscriber(ctx context.Context, email string) (SubscriberData, error) {
	var data SubscriberData
	var status string
	err := db.conn.QueryRowContext(ctx,
		"SELECT email, token, confirmed, status, created_at, confirmed_at, unsubscribed_at FROM subscribers WHERE email=$1",
		email).Scan(&data.Email, &data.Token, &data.Confirmed, &status, &data.CreatedAt, &data.ConfirmedAt, &data.UnsubscribedAt)
	if err == sql.ErrNoRows {
		return data, ErrNotFound
	}
	data.Status = models.SubscriberStatus(status)
	return data, err
}

// EMAIL BLACKLIST DB FUNCTIONS

// PutBlacklistedEmail adds a bounce or complaint notification to the email blacklist.
func (db *SQLDatabase) PutBlacklistedEmail(email string, reason string, timestamp string) error {
	_, err := db.conn.Exec("INSERT INTO blacklisted_emails(email, reason, timestamp) VALUES($1, $2, $3)",
		email, reason, parseTimestamp(timestamp))
	return err
}

// IsBlacklistedEmail returns true iff we've blacklisted the passed email address for sending.
func (db *SQLDatabase) IsBlacklistedEmail(email string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM blacklisted_emails WHERE email=$1", email).Scan(&count)
	return count > 0, err
}

func tryExec(database *SQLDatabase, commands []string) error {
	for _, command := range commands {
		if _, err := database.conn.Exec(command); err != nil {
			return fmt.Errorf("command failed: %s\nwith error: %v",
				command, err.Error())
		}
	}
	return nil
}

// ClearTables nukes all the tables. ** Should only be used during testing **
func (db *SQLDatabase) ClearTables() error {
	return tryExec(db, []string{
		"DELETE FROM subscribers",
		"DELETE FROM blacklisted_emails",
	})
}
