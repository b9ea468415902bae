package db_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/openresearch/newsletter-backend/db"
	"github.com/openresearch/newsletter-backend/models"
)

// databases returns every backend to run the shared tests against. Postgres
// is included when TEST_DATABASE_URL is set (directly or via ../.env.test).
func databases(t *testing.T) map[string]db.Database {
	godotenv.Overload("../.env.test")
	dbs := map[string]db.Database{"memory": db.InitMemDatabase()}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		sqldb, err := db.InitSQLDatabase(db.Config{URL: url})
		if err != nil {
			t.Fatalf("InitSQLDatabase failed: %v", err)
		}
		if err := sqldb.EnsureSchema(context.Background()); err != nil {
			t.Fatalf("EnsureSchema failed: %v", err)
		}
		t.Cleanup(func() { sqldb.Close() })
		dbs["postgres"] = sqldb
	}
	for _, database := range dbs {
		if err := database.ClearTables(); err != nil {
			t.Fatal(err)
		}
	}
	return dbs
}

func TestCreateSubscriber(t *testing.T) {
	ctx := context.Background()
	for name, database := range databases(t) {
		sub, err := database.CreateSubscriber(ctx, "me@example.com", "token-1")
		if err != nil || sub == nil {
			t.Fatalf("[%s] CreateSubscriber failed: %v", name, err)
		}
		if sub.Confirmed || sub.Status != models.StatusActive {
			t.Errorf("[%s] new subscriber should be unconfirmed and active, got %+v", name, sub)
		}
		dup, err := database.CreateSubscriber(ctx, "me@example.com", "token-2")
		if err != nil {
			t.Errorf("[%s] duplicate email should not be an error: %v", name, err)
		}
		if dup != nil {
			t.Errorf("[%s] duplicate email should return nil subscriber", name)
		}
	}
}

func TestConfirmSubscriber(t *testing.T) {
	ctx := context.Background()
	for name, database := range databases(t) {
		database.CreateSubscriber(ctx, "me@example.com", "token-1")
		ok, err := database.ConfirmSubscriber(ctx, "token-1")
		if err != nil || !ok {
			t.Fatalf("[%s] ConfirmSubscriber failed: %v", name, err)
		}
		sub, err := database.GetSubscriber(ctx, "me@example.com")
		if err != nil {
			t.Fatal(err)
		}
		if !sub.Confirmed || sub.ConfirmedAt == nil {
			t.Errorf("[%s] subscriber should be confirmed", name)
		}
		if ok, _ := database.ConfirmSubscriber(ctx, "token-1"); ok {
			t.Errorf("[%s] a token should only confirm once", name)
		}
		if ok, _ := database.ConfirmSubscriber(ctx, "nope"); ok {
			t.Errorf("[%s] unknown tokens should not confirm", name)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	for name, database := range databases(t) {
		database.CreateSubscriber(ctx, "me@example.com", "token-1")
		result, err := database.Unsubscribe(ctx, "token-1")
		if err != nil {
			t.Fatal(err)
		}
		if !result.Success || result.Email != "me@example.com" {
			t.Errorf("[%s] unexpected unsubscribe result %+v", name, result)
		}
		sub, _ := database.GetSubscriber(ctx, "me@example.com")
		if sub.Status != models.StatusUnsubscribed {
			t.Errorf("[%s] status = %s, want unsubscribed", name, sub.Status)
		}
		if ok, _ := database.ConfirmSubscriber(ctx, "token-1"); ok {
			t.Errorf("[%s] unsubscribed subscribers can't confirm", name)
		}
		result, err = database.Unsubscribe(ctx, "unknown")
		if err != nil || result.Success {
			t.Errorf("[%s] unknown token should fail without error, got %+v, %v", name, result, err)
		}
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	ctx := context.Background()
	for name, database := range databases(t) {
		database.CreateSubscriber(ctx, "me@example.com", "token-1")
		if result, _ := database.Unsubscribe(ctx, "token-1"); !result.Success {
			t.Fatalf("[%s] first unsubscribe should succeed", name)
		}
		result, err := database.Unsubscribe(ctx, "token-1")
		if err != nil {
			t.Fatal(err)
		}
		if result.Success || result.Email != "" {
			t.Errorf("[%s] repeat unsubscribe should not match, got %+v", name, result)
		}
	}
}

func TestDeleteSubscriberByToken(t *testing.T) {
	ctx := context.Background()
	for name, database := range databases(t) {
		database.CreateSubscriber(ctx, "me@example.com", "token-1")
		if err := database.DeleteSubscriberByToken(ctx, "token-1"); err != nil {
			t.Fatalf("[%s] DeleteSubscriberByToken failed: %v", name, err)
		}
		if _, err := database.GetSubscriber(ctx, "me@example.com"); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("[%s] subscriber should be gone", name)
		}
		// The email can subscribe again after cleanup.
		sub, _ := database.CreateSubscriber(ctx, "me@example.com", "token-2")
		if sub == nil {
			t.Errorf("[%s] email should be free after delete", name)
		}
		if err := database.DeleteSubscriberByToken(ctx, "token-1"); err == nil {
			t.Errorf("[%s] deleting an unknown token should report an error", name)
		}
	}
}

func TestBlacklist(t *testing.T) {
	for name, database := range databases(t) {
		err := database.PutBlacklistedEmail("fail@example.com", "Bounce", "2017-07-21T18:47:13.498Z")
		if err != nil {
			t.Fatalf("[%s] PutBlacklistedEmail failed: %v", name, err)
		}
		blacklisted, err := database.IsBlacklistedEmail("fail@example.com")
		if err != nil || !blacklisted {
			t.Errorf("[%s] expected fail@example.com to be blacklisted", name)
		}
		blacklisted, _ = database.IsBlacklistedEmail("ok@example.com")
		if blacklisted {
			t.Errorf("[%s] ok@example.com shouldn't be blacklisted", name)
		}
	}
}

func TestDeleteUnconfirmedBefore(t *testing.T) {
	ctx := context.Background()
	for name, database := range databases(t) {
		database.CreateSubscriber(ctx, "pending@example.com", "token-p")
		database.CreateSubscriber(ctx, "confirmed@example.com", "token-c")
		database.ConfirmSubscriber(ctx, "token-c")

		n, err := database.DeleteUnconfirmedBefore(ctx, time.Now().Add(-time.Hour))
		if err != nil || n != 0 {
			t.Errorf("[%s] fresh subscribers should be kept, removed %d (%v)", name, n, err)
		}
		n, err = database.DeleteUnconfirmedBefore(ctx, time.Now().Add(time.Hour))
		if err != nil || n != 1 {
			t.Errorf("[%s] expected one stale subscriber removed, got %d (%v)", name, n, err)
		}
		if _, err := database.GetSubscriber(ctx, "confirmed@example.com"); err != nil {
			t.Errorf("[%s] confirmed subscriber should be kept: %v", name, err)
		}
	}
}
