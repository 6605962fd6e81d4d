package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/pawpal/internal/push"
)

type PushHandler struct {
	notifier *push.Notifier
	log      logrus.FieldLogger
}

// NewPushHandler accepts a nil notifier; both routes then report 404.
func NewPushHandler(notifier *push.Notifier, log logrus.FieldLogger) *PushHandler {
	return &PushHandler{notifier: notifier, log: log}
}

func (h *PushHandler) VAPIDKey(c *gin.Context) {
	if !h.notifier.Enabled() {
		fail(c, http.StatusNotFound, "Push notifications are not enabled")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "publicKey": h.notifier.VAPIDPublicKey()})
}

func (h *PushHandler) Subscribe(c *gin.Context) {
	id := currentIdentity(c)

	var sub push.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.notifier.Subscribe(c.Request.Context(), id.ID, sub); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true})
}
