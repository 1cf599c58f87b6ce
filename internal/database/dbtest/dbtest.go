// Package dbtest prepares a real Postgres database for integration tests.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nexus-im/messenger/internal/database"
)

const (
	urlEnv      = "TEST_DATABASE_URL"
	openTimeout = 10 * time.Second
)

const truncateQuery = `TRUNCATE messages, chat_members, chats, users RESTART IDENTITY CASCADE`

// Open connects to TEST_DATABASE_URL, migrates it and empties every table.
// The test is skipped when the variable is unset.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	url := os.Getenv(urlEnv)
	if url == "" {
		t.Skipf("%s not set", urlEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	db, err := database.Open(ctx, database.Options{
		URL:             url,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	if _, err := db.ExecContext(ctx, truncateQuery); err != nil {
		t.Fatalf("truncate test database: %v", err)
	}
	return db
}

// CreateUser inserts a user directly and returns its id.
func CreateUser(t testing.TB, db *sqlx.DB, username string) int64 {
	t.Helper()

	var id int64
	err := db.GetContext(context.Background(), &id,
		`INSERT INTO users (email, username, password_hash) VALUES ($1, $2, 'x') RETURNING id`,
		username+"@example.com", username)
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return id
}
