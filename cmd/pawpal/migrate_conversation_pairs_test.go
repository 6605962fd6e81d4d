package main

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/pawpal/internal/db"
	"github.com/4xmen/pawpal/pkg/config"
)

func createLegacyConversationDB(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer dbConn.Close()

	_, err = dbConn.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user1_id INTEGER NOT NULL,
			user2_id INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id),
			sender_id INTEGER NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		t.Fatalf("failed to create legacy schema: %v", err)
	}

	// conversations 1 and 2 are the same pair stored in both orders
	_, err = dbConn.Exec(`
		INSERT INTO users (id, username, email, password_hash) VALUES (1, 'rex', 'rex@example.com', 'x');
		INSERT INTO users (id, username, email, password_hash) VALUES (2, 'luna', 'luna@example.com', 'x');
		INSERT INTO users (id, username, email, password_hash) VALUES (3, 'milo', 'milo@example.com', 'x');
		INSERT INTO conversations (id, user1_id, user2_id, created_at, updated_at) VALUES (1, 1, 2, '2026-01-01 09:00:00', '2026-01-01 10:00:00');
		INSERT INTO conversations (id, user1_id, user2_id, created_at, updated_at) VALUES (2, 2, 1, '2026-01-02 09:00:00', '2026-01-02 10:00:00');
		INSERT INTO conversations (id, user1_id, user2_id, created_at, updated_at) VALUES (3, 3, 2, '2026-01-03 09:00:00', '2026-01-03 10:00:00');
		INSERT INTO messages (conversation_id, sender_id, content) VALUES (1, 1, 'hi');
		INSERT INTO messages (conversation_id, sender_id, content) VALUES (1, 2, 'hello');
		INSERT INTO messages (conversation_id, sender_id, content) VALUES (2, 2, 'again');
		INSERT INTO messages (conversation_id, sender_id, content) VALUES (3, 3, 'woof');
	`)
	if err != nil {
		t.Fatalf("failed to seed legacy data: %v", err)
	}

	return dbPath
}

func openRaw(t *testing.T, dbPath string) *sql.DB {
	t.Helper()
	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { dbConn.Close() })
	return dbConn
}

func queryCount(t *testing.T, dbConn *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := dbConn.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	return n
}

func TestConversationPairsMigrationMergesDuplicates(t *testing.T) {
	dbPath := createLegacyConversationDB(t)

	var out bytes.Buffer
	err := runConversationPairsMigration(&out, conversationPairsMigrationOptions{DatabasePath: dbPath})
	if err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	if !strings.Contains(out.String(), "Migration completed") {
		t.Fatalf("expected completion output, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "merged 1 duplicates and moved 1 messages") {
		t.Fatalf("unexpected summary: %s", out.String())
	}

	dbConn := openRaw(t, dbPath)

	legacy, err := db.HasLegacyConversationSchema(dbConn)
	if err != nil {
		t.Fatalf("failed to inspect schema: %v", err)
	}
	if legacy {
		t.Fatal("pair columns should exist after migration")
	}

	if got := queryCount(t, dbConn, "SELECT COUNT(*) FROM conversations"); got != 2 {
		t.Fatalf("conversation count = %d, want 2", got)
	}
	if got := queryCount(t, dbConn, "SELECT COUNT(*) FROM messages WHERE conversation_id = 1"); got != 3 {
		t.Fatalf("messages in surviving conversation = %d, want 3", got)
	}
	if got := queryCount(t, dbConn, "SELECT COUNT(*) FROM messages"); got != 4 {
		t.Fatalf("message count = %d, want 4", got)
	}

	var low, high int
	var updatedAt string
	err = dbConn.QueryRow(`SELECT pair_low, pair_high, CAST(updated_at AS TEXT) FROM conversations WHERE id = 1`).Scan(&low, &high, &updatedAt)
	if err != nil {
		t.Fatalf("failed to read surviving conversation: %v", err)
	}
	if low != 1 || high != 2 {
		t.Fatalf("pair = (%d, %d), want (1, 2)", low, high)
	}
	if updatedAt != "2026-01-02 10:00:00" {
		t.Fatalf("updated_at = %q, want the newest of the merged rows", updatedAt)
	}

	err = dbConn.QueryRow(`SELECT pair_low, pair_high FROM conversations WHERE id = 3`).Scan(&low, &high)
	if err != nil {
		t.Fatalf("failed to read conversation 3: %v", err)
	}
	if low != 2 || high != 3 {
		t.Fatalf("pair = (%d, %d), want (2, 3)", low, high)
	}

	if _, err := dbConn.Exec(`INSERT INTO conversations (user1_id, user2_id, pair_low, pair_high) VALUES (2, 1, 1, 2)`); err == nil {
		t.Fatal("unique pair index should reject a second (1, 2) conversation")
	}
}

func TestConversationPairsMigrationOpensWithStore(t *testing.T) {
	dbPath := createLegacyConversationDB(t)

	if _, err := db.New(db.DriverSQLite, dbPath); err == nil {
		t.Fatal("expected store to refuse the legacy schema")
	}

	if err := runConversationPairsMigration(&bytes.Buffer{}, conversationPairsMigrationOptions{DatabasePath: dbPath}); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	store, err := db.New(db.DriverSQLite, dbPath)
	if err != nil {
		t.Fatalf("store should open migrated database: %v", err)
	}
	store.Close()
}

func TestConversationPairsMigrationIdempotent(t *testing.T) {
	dbPath := createLegacyConversationDB(t)

	if err := runConversationPairsMigration(&bytes.Buffer{}, conversationPairsMigrationOptions{DatabasePath: dbPath}); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}

	var out bytes.Buffer
	if err := runConversationPairsMigration(&out, conversationPairsMigrationOptions{DatabasePath: dbPath}); err != nil {
		t.Fatalf("second migration should be idempotent, got error: %v", err)
	}
	if !strings.Contains(out.String(), "already migrated") {
		t.Fatalf("expected already migrated output, got: %s", out.String())
	}
}

func TestConversationPairsMigrationDryRun(t *testing.T) {
	dbPath := createLegacyConversationDB(t)

	var out bytes.Buffer
	err := runConversationPairsMigration(&out, conversationPairsMigrationOptions{
		DatabasePath: dbPath,
		DryRun:       true,
	})
	if err != nil {
		t.Fatalf("dry-run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Dry-run successful") {
		t.Fatalf("expected dry-run output, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "Would keep 2 of 3 conversations") {
		t.Fatalf("unexpected dry-run summary: %s", out.String())
	}

	dbConn := openRaw(t, dbPath)

	legacy, err := db.HasLegacyConversationSchema(dbConn)
	if err != nil {
		t.Fatalf("failed to inspect schema: %v", err)
	}
	if !legacy {
		t.Fatal("dry-run should not modify legacy schema")
	}
	if got := queryCount(t, dbConn, "SELECT COUNT(*) FROM conversations"); got != 3 {
		t.Fatalf("dry-run changed conversation count to %d", got)
	}
	if got := queryCount(t, dbConn, "SELECT COUNT(*) FROM messages WHERE conversation_id = 2"); got != 1 {
		t.Fatalf("dry-run moved messages out of conversation 2")
	}
}

func TestConversationPairsMigrationInvalidData(t *testing.T) {
	dbPath := createLegacyConversationDB(t)

	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	_, err = dbConn.Exec(`INSERT INTO conversations (id, user1_id, user2_id) VALUES (4, 3, 3)`)
	dbConn.Close()
	if err != nil {
		t.Fatalf("failed to seed invalid data: %v", err)
	}

	err = runConversationPairsMigration(&bytes.Buffer{}, conversationPairsMigrationOptions{DatabasePath: dbPath})
	if err == nil {
		t.Fatal("expected migration to fail for a self conversation")
	}
	if !strings.Contains(err.Error(), "invalid participants in conversation ids: [4]") {
		t.Fatalf("unexpected error: %v", err)
	}

	legacy, err := db.HasLegacyConversationSchema(openRaw(t, dbPath))
	if err != nil {
		t.Fatalf("failed to inspect schema after failed migration: %v", err)
	}
	if !legacy {
		t.Fatal("failed migration should leave legacy schema intact")
	}
}

func TestPlanConversationPairs(t *testing.T) {
	plan := planConversationPairs([]legacyConversation{
		{ID: 1, User1ID: 5, User2ID: 9},
		{ID: 2, User1ID: 9, User2ID: 5},
		{ID: 3, User1ID: 5, User2ID: 9},
		{ID: 4, User1ID: 0, User2ID: 9},
	})

	if got := plan.Keepers[conversationPair{Low: 5, High: 9}]; got != 1 {
		t.Fatalf("keeper = %d, want 1", got)
	}
	if len(plan.Duplicates) != 2 || plan.Duplicates[2] != 1 || plan.Duplicates[3] != 1 {
		t.Fatalf("duplicates = %v, want 2 and 3 merged into 1", plan.Duplicates)
	}
	if len(plan.InvalidIDs) != 1 || plan.InvalidIDs[0] != 4 {
		t.Fatalf("invalid ids = %v, want [4]", plan.InvalidIDs)
	}
}

func TestParseConversationPairsMigrationArgs(t *testing.T) {
	cfg := &config.Config{DatabaseDriver: db.DriverSQLite, DatabaseURL: "/tmp/default.db"}

	opts, err := parseConversationPairsMigrationArgs(cfg, nil)
	if err != nil {
		t.Fatalf("parse args failed: %v", err)
	}
	if opts.DatabasePath != "/tmp/default.db" {
		t.Fatalf("database path = %s, want the configured default", opts.DatabasePath)
	}

	opts, err = parseConversationPairsMigrationArgs(cfg, []string{"--dry-run", "--database", "/tmp/override.db"})
	if err != nil {
		t.Fatalf("parse args failed: %v", err)
	}
	if !opts.DryRun {
		t.Fatal("expected dry-run to be true")
	}
	if opts.DatabasePath != "/tmp/override.db" {
		t.Fatalf("database path = %s, want /tmp/override.db", opts.DatabasePath)
	}

	if _, err := parseConversationPairsMigrationArgs(cfg, []string{"--database"}); err == nil {
		t.Fatal("expected error for missing --database value")
	}
	if _, err := parseConversationPairsMigrationArgs(cfg, []string{"--unknown"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}

	pg := &config.Config{DatabaseDriver: db.DriverPostgres, DatabaseURL: "postgres://localhost/pawpal"}
	if _, err := parseConversationPairsMigrationArgs(pg, nil); err == nil {
		t.Fatal("expected error when no sqlite path is available")
	}
}

func TestRunCommandMigrateDryRun(t *testing.T) {
	dbPath := createLegacyConversationDB(t)
	cfg := &config.Config{DatabaseDriver: db.DriverSQLite, DatabaseURL: dbPath}

	if err := runCommand(cfg, []string{"migrate", "conversation-pairs", "--dry-run"}); err != nil {
		t.Fatalf("runCommand migrate dry-run failed: %v", err)
	}
}
