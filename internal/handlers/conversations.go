package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/pawpal/internal/conversations"
	"github.com/4xmen/pawpal/internal/users"
)

type ConversationHandler struct {
	directory *conversations.Directory
	users     *users.Store
	log       logrus.FieldLogger
}

func NewConversationHandler(directory *conversations.Directory, store *users.Store, log logrus.FieldLogger) *ConversationHandler {
	return &ConversationHandler{directory: directory, users: store, log: log}
}

type CreateConversationRequest struct {
	OtherUserID int `json:"otherUserId"`
}

// List returns the caller's conversations, most recent activity first.
func (h *ConversationHandler) List(c *gin.Context) {
	id := currentIdentity(c)

	list, err := h.directory.ListForUser(c.Request.Context(), id.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "conversations": list})
}

// Create returns the conversation with otherUserId, starting it if needed.
// 201 means this request created it.
func (h *ConversationHandler) Create(c *gin.Context) {
	id := currentIdentity(c)

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OtherUserID <= 0 {
		fail(c, http.StatusBadRequest, "Other user ID is required")
		return
	}
	if req.OtherUserID == id.ID {
		fail(c, http.StatusBadRequest, "Cannot start a conversation with yourself")
		return
	}

	ctx := c.Request.Context()
	exists, err := h.users.Exists(ctx, req.OtherUserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !exists {
		respondError(c, h.log, users.ErrUserNotFound)
		return
	}

	conv, created, err := h.directory.GetOrCreate(ctx, id.ID, req.OtherUserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.log.WithFields(logrus.Fields{"conversation_id": conv.ID, "user_id": id.ID}).Info("conversation started")
	}
	c.JSON(status, gin.H{"success": true, "conversation": conv})
}
