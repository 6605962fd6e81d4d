package messages

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/4xmen/pawpal/internal/db"
	"github.com/4xmen/pawpal/internal/models"
	"github.com/4xmen/pawpal/pkg/apperror"
)

var ErrEmptyContent = apperror.Validation("Message content is required")

// Log is the append-only message history of conversations. Callers are
// expected to have checked participation already.
type Log struct {
	db *db.DB
}

func NewLog(database *db.DB) *Log {
	return &Log{db: database}
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, u.username, u.avatar, m.content, m.is_read, m.created_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id
`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	m := &models.Message{}
	var avatar sql.NullString
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderUsername, &avatar, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
		return nil, err
	}
	if avatar.Valid {
		m.SenderAvatar = &avatar.String
	}
	return m, nil
}

// Append stores content as sent; only the emptiness check trims it. The
// conversation's last-activity time moves in the same transaction.
func (l *Log) Append(ctx context.Context, conversationID, senderID int, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "messages.Append.Begin")
	}
	defer tx.Rollback()

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content)
		VALUES (?, ?, ?)
		RETURNING id
	`, conversationID, senderID, content).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "messages.Append.Insert")
	}

	if _, err := tx.Exec(ctx,
		"UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		conversationID,
	); err != nil {
		return nil, errors.Wrap(err, "messages.Append.Touch")
	}

	msg, err := scanMessage(tx.QueryRow(ctx, messageSelect+" WHERE m.id = ?", id))
	if err != nil {
		return nil, errors.Wrap(err, "messages.Append.Select")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "messages.Append.Commit")
	}
	return msg, nil
}

// ListAndMarkRead marks every unread message from the other participant as
// read and returns the full history ordered by (created_at, id). The
// returned rows already show the read state the reader caused. marked is
// the number of messages that flipped to read.
func (l *Log) ListAndMarkRead(ctx context.Context, conversationID, readerID int) (msgs []models.Message, marked int64, err error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "messages.ListAndMarkRead.Begin")
	}
	defer tx.Rollback()

	res, err := tx.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = ? AND sender_id != ? AND is_read = FALSE
	`, conversationID, readerID)
	if err != nil {
		return nil, 0, errors.Wrap(err, "messages.ListAndMarkRead.Mark")
	}
	if marked, err = res.RowsAffected(); err != nil {
		return nil, 0, errors.Wrap(err, "messages.ListAndMarkRead.RowsAffected")
	}

	rows, err := tx.Query(ctx, messageSelect+`
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC, m.id ASC
	`, conversationID)
	if err != nil {
		return nil, 0, errors.Wrap(err, "messages.ListAndMarkRead.Query")
	}
	defer rows.Close()

	msgs = make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "messages.ListAndMarkRead.Scan")
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "messages.ListAndMarkRead.Rows")
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, 0, errors.Wrap(err, "messages.ListAndMarkRead.Commit")
	}
	return msgs, marked, nil
}
