package conversations

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/4xmen/pawpal/internal/db"
	"github.com/4xmen/pawpal/internal/models"
	"github.com/4xmen/pawpal/pkg/apperror"
)

// ErrNotFound covers both a missing conversation and one the caller is not
// part of, so existence does not leak.
var ErrNotFound = apperror.NotFound("Conversation not found or access denied")

// Directory maps an unordered pair of users to exactly one conversation.
type Directory struct {
	db *db.DB
}

func NewDirectory(database *db.DB) *Directory {
	return &Directory{db: database}
}

func canonicalPair(a, b int) (low, high int) {
	if a < b {
		return a, b
	}
	return b, a
}

const conversationColumns = "id, user1_id, user2_id, created_at, updated_at"

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	c := &models.Conversation{}
	if err := row.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

// GetOrCreate returns the conversation for {a, b}, creating it with
// user1=a, user2=b when none exists. created reports whether this call
// inserted the row. The unique index on the canonical pair makes racing
// first contacts converge on a single row.
func (d *Directory) GetOrCreate(ctx context.Context, a, b int) (*models.Conversation, bool, error) {
	if a <= 0 || b <= 0 {
		return nil, false, apperror.Validation("Other user ID is required")
	}
	if a == b {
		return nil, false, apperror.Validation("Cannot start a conversation with yourself")
	}
	low, high := canonicalPair(a, b)

	tx, err := d.db.Begin(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "conversations.GetOrCreate.Begin")
	}
	defer tx.Rollback()

	res, err := tx.Exec(ctx, `
		INSERT INTO conversations (user1_id, user2_id, pair_low, pair_high)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (pair_low, pair_high) DO NOTHING
	`, a, b, low, high)
	if err != nil {
		return nil, false, errors.Wrap(err, "conversations.GetOrCreate.Insert")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.Wrap(err, "conversations.GetOrCreate.RowsAffected")
	}

	conv, err := scanConversation(tx.QueryRow(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE pair_low = ? AND pair_high = ?",
		low, high,
	))
	if err != nil {
		return nil, false, errors.Wrap(err, "conversations.GetOrCreate.Select")
	}

	if err := tx.Commit(); err != nil {
		return nil, false, errors.Wrap(err, "conversations.GetOrCreate.Commit")
	}

	return conv, affected == 1, nil
}

// GetForParticipant returns ErrNotFound unless userID is one of the two
// participants.
func (d *Directory) GetForParticipant(ctx context.Context, conversationID, userID int) (*models.Conversation, error) {
	conv, err := scanConversation(d.db.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = ?
	`, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "conversations.GetForParticipant")
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotFound
	}
	return conv, nil
}

// ListForUser returns the user's conversations, most recently active
// first, each with the counterpart, last message and unread count.
// updated_at has one-second resolution on SQLite, so same-second activity
// is ordered by the latest message id.
func (d *Directory) ListForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	rows, err := d.db.Query(ctx, `
		SELECT
			c.id, c.user1_id, c.user2_id, c.created_at, c.updated_at,
			u.id, u.username, u.avatar,
			m.content, m.created_at,
			(SELECT COUNT(*) FROM messages um
			 WHERE um.conversation_id = c.id
			   AND um.sender_id != ?
			   AND um.is_read = FALSE) AS unread_count
		FROM conversations c
		JOIN users u ON u.id = CASE WHEN c.user1_id = ? THEN c.user2_id ELSE c.user1_id END
		LEFT JOIN messages m ON m.id = (
			SELECT lm.id FROM messages lm
			WHERE lm.conversation_id = c.id
			ORDER BY lm.created_at DESC, lm.id DESC
			LIMIT 1
		)
		WHERE c.user1_id = ? OR c.user2_id = ?
		ORDER BY c.updated_at DESC, COALESCE(m.id, 0) DESC, c.id DESC
	`, userID, userID, userID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "conversations.ListForUser.Query")
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var s models.ConversationSummary
		var avatar, lastMessage sql.NullString
		var lastMessageTime sql.NullTime
		if err := rows.Scan(
			&s.ID, &s.User1ID, &s.User2ID, &s.CreatedAt, &s.UpdatedAt,
			&s.OtherUserID, &s.OtherUsername, &avatar,
			&lastMessage, &lastMessageTime,
			&s.UnreadCount,
		); err != nil {
			return nil, errors.Wrap(err, "conversations.ListForUser.Scan")
		}
		if avatar.Valid {
			s.OtherAvatar = &avatar.String
		}
		if lastMessage.Valid {
			s.LastMessage = &lastMessage.String
		}
		if lastMessageTime.Valid {
			s.LastMessageTime = &lastMessageTime.Time
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "conversations.ListForUser.Rows")
	}

	return summaries, nil
}
