package models

import "time"

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Avatar       *string   `json:"avatar"`
	Bio          *string   `json:"bio"`
	Location     *string   `json:"location"`
	CreatedAt    time.Time `json:"joinedDate"`
}

type UserStats struct {
	PostsCount    int `json:"postsCount"`
	LikesReceived int `json:"likesReceived"`
}

// Conversation is a pairwise thread. User1ID/User2ID keep the order of the
// first request; uniqueness is enforced on the unordered pair.
type Conversation struct {
	ID        int       `json:"id"`
	User1ID   int       `json:"user1_id"`
	User2ID   int       `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Conversation) HasParticipant(userID int) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Counterpart returns the other participant's id.
func (c *Conversation) Counterpart(userID int) int {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

type ConversationSummary struct {
	Conversation
	OtherUserID     int        `json:"other_user_id"`
	OtherUsername   string     `json:"other_username"`
	OtherAvatar     *string    `json:"other_avatar"`
	LastMessage     *string    `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time"`
	UnreadCount     int        `json:"unread_count"`
}

type Message struct {
	ID             int       `json:"id"`
	ConversationID int       `json:"conversation_id"`
	SenderID       int       `json:"sender_id"`
	SenderUsername string    `json:"sender_username,omitempty"`
	SenderAvatar   *string   `json:"sender_avatar,omitempty"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}
