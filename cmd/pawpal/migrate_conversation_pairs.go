package main

import (
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/pawpal/internal/db"
	"github.com/4xmen/pawpal/pkg/config"
)

type conversationPairsMigrationOptions struct {
	DatabasePath string
	DryRun       bool
}

type legacyConversation struct {
	ID      int64
	User1ID int64
	User2ID int64
}

type conversationPair struct {
	Low  int64
	High int64
}

// pairPlan groups legacy conversations by their canonical pair. The
// lowest id in each group survives and absorbs the others' messages.
type pairPlan struct {
	Keepers       map[conversationPair]int64
	Duplicates    map[int64]int64
	Conversations int
	MovedMessages int64
	TotalMessages int64
	InvalidIDs    []int64
}

func runMigrate(cfg *config.Config, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migration target (supported: conversation-pairs)")
	}

	switch args[0] {
	case "conversation-pairs":
		opts, err := parseConversationPairsMigrationArgs(cfg, args[1:])
		if err != nil {
			return err
		}
		return runConversationPairsMigration(out, opts)
	default:
		return fmt.Errorf("unknown migration target: %s", args[0])
	}
}

func parseConversationPairsMigrationArgs(cfg *config.Config, args []string) (conversationPairsMigrationOptions, error) {
	opts := conversationPairsMigrationOptions{}
	if cfg.DatabaseDriver == db.DriverSQLite {
		opts.DatabasePath = cfg.DatabaseURL
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			opts.DryRun = true
		case "--database":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return opts, fmt.Errorf("--database requires a path")
			}
			opts.DatabasePath = args[i]
		default:
			return opts, fmt.Errorf("unknown migration flag: %s", args[i])
		}
	}

	if strings.TrimSpace(opts.DatabasePath) == "" {
		return opts, fmt.Errorf("database path cannot be empty (this migration only applies to sqlite3)")
	}

	return opts, nil
}

func runConversationPairsMigration(out io.Writer, opts conversationPairsMigrationOptions) error {
	dbConn, err := sql.Open(db.DriverSQLite, opts.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()

	// BEGIN IMMEDIATE must run on the same connection as the statements
	// that follow it.
	dbConn.SetMaxOpenConns(1)

	if err := dbConn.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := dbConn.Exec("BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	inTx := true
	defer func() {
		if inTx {
			_, _ = dbConn.Exec("ROLLBACK")
		}
	}()

	legacy, err := db.HasLegacyConversationSchema(dbConn)
	if err != nil {
		return fmt.Errorf("failed to inspect conversations schema: %w", err)
	}
	if !legacy {
		if _, err := dbConn.Exec("COMMIT"); err != nil {
			return fmt.Errorf("failed to finish migration transaction: %w", err)
		}
		inTx = false
		fmt.Fprintln(out, "Conversation pairs migration: already migrated (pair columns present or no conversations table).")
		return nil
	}

	records, err := loadLegacyConversations(dbConn)
	if err != nil {
		return err
	}

	plan := planConversationPairs(records)
	if len(plan.InvalidIDs) > 0 {
		return fmt.Errorf("invalid participants in conversation ids: %v", plan.InvalidIDs)
	}

	if plan.TotalMessages, err = countRows(dbConn, "SELECT COUNT(*) FROM messages"); err != nil {
		return fmt.Errorf("failed to count messages: %w", err)
	}
	if plan.MovedMessages, err = countMessagesIn(dbConn, plan.Duplicates); err != nil {
		return fmt.Errorf("failed to count messages to move: %w", err)
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run successful. Database: %s\n", opts.DatabasePath)
		fmt.Fprintf(out, "Would keep %d of %d conversations, merge %d duplicates and move %d messages.\n",
			len(plan.Keepers), plan.Conversations, len(plan.Duplicates), plan.MovedMessages)
		if _, err := dbConn.Exec("ROLLBACK"); err != nil {
			return fmt.Errorf("failed to finish dry-run rollback: %w", err)
		}
		inTx = false
		return nil
	}

	if err := rebuildConversationPairs(dbConn); err != nil {
		return err
	}

	if err := validateConversationPairsMigration(dbConn, plan); err != nil {
		return err
	}

	if _, err := dbConn.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	inTx = false

	fmt.Fprintf(out, "Migration completed. Database: %s\n", opts.DatabasePath)
	fmt.Fprintf(out, "Kept %d conversations, merged %d duplicates and moved %d messages.\n",
		len(plan.Keepers), len(plan.Duplicates), plan.MovedMessages)
	return nil
}

func loadLegacyConversations(dbConn *sql.DB) ([]legacyConversation, error) {
	rows, err := dbConn.Query(`SELECT id, user1_id, user2_id FROM conversations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy conversations: %w", err)
	}
	defer rows.Close()

	var records []legacyConversation
	for rows.Next() {
		var r legacyConversation
		if err := rows.Scan(&r.ID, &r.User1ID, &r.User2ID); err != nil {
			return nil, fmt.Errorf("failed to scan legacy conversation: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading legacy conversations: %w", err)
	}
	return records, nil
}

func planConversationPairs(records []legacyConversation) pairPlan {
	plan := pairPlan{
		Keepers:       make(map[conversationPair]int64),
		Duplicates:    make(map[int64]int64),
		Conversations: len(records),
	}

	// records arrive ordered by id, so the first one seen per pair is the oldest
	for _, r := range records {
		if r.User1ID <= 0 || r.User2ID <= 0 || r.User1ID == r.User2ID {
			plan.InvalidIDs = append(plan.InvalidIDs, r.ID)
			continue
		}
		pair := conversationPair{Low: min(r.User1ID, r.User2ID), High: max(r.User1ID, r.User2ID)}
		if keeper, ok := plan.Keepers[pair]; ok {
			plan.Duplicates[r.ID] = keeper
			continue
		}
		plan.Keepers[pair] = r.ID
	}

	sort.Slice(plan.InvalidIDs, func(i, j int) bool { return plan.InvalidIDs[i] < plan.InvalidIDs[j] })
	return plan
}

func countRows(dbConn *sql.DB, query string, args ...any) (int64, error) {
	var n int64
	err := dbConn.QueryRow(query, args...).Scan(&n)
	return n, err
}

func countMessagesIn(dbConn *sql.DB, duplicates map[int64]int64) (int64, error) {
	var total int64
	for id := range duplicates {
		n, err := countRows(dbConn, "SELECT COUNT(*) FROM messages WHERE conversation_id = ?", id)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// rebuildConversationPairs copies one row per canonical pair into the new
// table, keeping the oldest id and the newest updated_at, then repoints
// messages of merged duplicates at the survivor.
func rebuildConversationPairs(dbConn *sql.DB) error {
	steps := []struct {
		name  string
		query string
	}{
		{"create conversations_new", `
			CREATE TABLE conversations_new (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user1_id INTEGER NOT NULL REFERENCES users(id),
				user2_id INTEGER NOT NULL REFERENCES users(id),
				pair_low INTEGER NOT NULL,
				pair_high INTEGER NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				CHECK (pair_low < pair_high)
			)`},
		{"copy surviving conversations", `
			INSERT INTO conversations_new (id, user1_id, user2_id, pair_low, pair_high, created_at, updated_at)
			SELECT c.id, c.user1_id, c.user2_id,
				MIN(c.user1_id, c.user2_id), MAX(c.user1_id, c.user2_id),
				c.created_at,
				(SELECT MAX(d.updated_at) FROM conversations d
					WHERE MIN(d.user1_id, d.user2_id) = MIN(c.user1_id, c.user2_id)
					AND MAX(d.user1_id, d.user2_id) = MAX(c.user1_id, c.user2_id))
			FROM conversations c
			WHERE c.id = (SELECT MIN(d.id) FROM conversations d
				WHERE MIN(d.user1_id, d.user2_id) = MIN(c.user1_id, c.user2_id)
				AND MAX(d.user1_id, d.user2_id) = MAX(c.user1_id, c.user2_id))`},
		{"move messages of merged conversations", `
			UPDATE messages SET conversation_id = (
				SELECT n.id FROM conversations_new n
				JOIN conversations o ON o.id = messages.conversation_id
				WHERE n.pair_low = MIN(o.user1_id, o.user2_id)
				AND n.pair_high = MAX(o.user1_id, o.user2_id))
			WHERE conversation_id NOT IN (SELECT id FROM conversations_new)
			AND conversation_id IN (SELECT id FROM conversations)`},
		{"drop legacy conversations", `DROP TABLE conversations`},
		{"rename conversations_new", `ALTER TABLE conversations_new RENAME TO conversations`},
		{"create idx_conversations_pair", `CREATE UNIQUE INDEX idx_conversations_pair ON conversations(pair_low, pair_high)`},
		{"create idx_conversations_user1", `CREATE INDEX IF NOT EXISTS idx_conversations_user1 ON conversations(user1_id)`},
		{"create idx_conversations_user2", `CREATE INDEX IF NOT EXISTS idx_conversations_user2 ON conversations(user2_id)`},
	}

	for _, step := range steps {
		if _, err := dbConn.Exec(step.query); err != nil {
			return fmt.Errorf("failed to %s: %w", step.name, err)
		}
	}
	return nil
}

func validateConversationPairsMigration(dbConn *sql.DB, plan pairPlan) error {
	conversationCount, err := countRows(dbConn, "SELECT COUNT(*) FROM conversations")
	if err != nil {
		return fmt.Errorf("failed to validate conversations count: %w", err)
	}
	if conversationCount != int64(len(plan.Keepers)) {
		return fmt.Errorf("conversation count mismatch after migration: got %d want %d", conversationCount, len(plan.Keepers))
	}

	messageCount, err := countRows(dbConn, "SELECT COUNT(*) FROM messages")
	if err != nil {
		return fmt.Errorf("failed to validate messages count: %w", err)
	}
	if messageCount != plan.TotalMessages {
		return fmt.Errorf("message count mismatch after migration: got %d want %d", messageCount, plan.TotalMessages)
	}

	for dup := range plan.Duplicates {
		left, err := countRows(dbConn, "SELECT COUNT(*) FROM messages WHERE conversation_id = ?", dup)
		if err != nil {
			return fmt.Errorf("failed to validate merged conversation %d: %w", dup, err)
		}
		if left != 0 {
			return fmt.Errorf("conversation %d still has %d messages after merge", dup, left)
		}
	}

	legacy, err := db.HasLegacyConversationSchema(dbConn)
	if err != nil {
		return fmt.Errorf("failed to validate conversations schema: %w", err)
	}
	if legacy {
		return fmt.Errorf("pair columns missing after migration")
	}

	return nil
}
