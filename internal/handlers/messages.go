package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/pawpal/internal/conversations"
	"github.com/4xmen/pawpal/internal/messages"
	"github.com/4xmen/pawpal/internal/models"
)

// Realtime pushes events to connected participants.
type Realtime interface {
	IsUserOnline(userID int) bool
	NotifyMessage(recipientID, senderID int, msg *models.Message)
	NotifyRead(conversationID, readerID, counterpartID int, count int64)
}

// OfflineNotifier reaches recipients who have no live connection.
type OfflineNotifier interface {
	NotifyNewMessage(recipientID int, senderUsername string)
}

type MessageHandler struct {
	directory *conversations.Directory
	log       *messages.Log
	realtime  Realtime
	offline   OfflineNotifier
	logger    logrus.FieldLogger
}

func NewMessageHandler(directory *conversations.Directory, msgLog *messages.Log, realtime Realtime, offline OfflineNotifier, logger logrus.FieldLogger) *MessageHandler {
	return &MessageHandler{
		directory: directory,
		log:       msgLog,
		realtime:  realtime,
		offline:   offline,
		logger:    logger,
	}
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

// List returns the full history and marks the counterpart's messages read.
func (h *MessageHandler) List(c *gin.Context) {
	id := currentIdentity(c)
	convID, ok := pathID(c, "id")
	if !ok {
		respondError(c, h.logger, conversations.ErrNotFound)
		return
	}

	ctx := c.Request.Context()
	conv, err := h.directory.GetForParticipant(ctx, convID, id.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	list, marked, err := h.log.ListAndMarkRead(ctx, conv.ID, id.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if marked > 0 && h.realtime != nil {
		h.realtime.NotifyRead(conv.ID, id.ID, conv.Counterpart(id.ID), marked)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "messages": list})
}

// Send appends a message and notifies the recipient live or by push.
func (h *MessageHandler) Send(c *gin.Context) {
	id := currentIdentity(c)
	convID, ok := pathID(c, "id")
	if !ok {
		respondError(c, h.logger, conversations.ErrNotFound)
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(c, h.logger, messages.ErrEmptyContent)
		return
	}

	ctx := c.Request.Context()
	conv, err := h.directory.GetForParticipant(ctx, convID, id.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	msg, err := h.log.Append(ctx, conv.ID, id.ID, req.Content)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	recipient := conv.Counterpart(id.ID)
	online := false
	if h.realtime != nil {
		h.realtime.NotifyMessage(recipient, id.ID, msg)
		online = h.realtime.IsUserOnline(recipient)
	}
	if !online && h.offline != nil {
		h.offline.NotifyNewMessage(recipient, id.Username)
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "message": msg})
}
