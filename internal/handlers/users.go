package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/pawpal/internal/users"
)

type UserHandler struct {
	users *users.Store
	log   logrus.FieldLogger
}

func NewUserHandler(store *users.Store, log logrus.FieldLogger) *UserHandler {
	return &UserHandler{users: store, log: log}
}

type UpdateProfileRequest struct {
	Username *string `json:"username"`
	Avatar   *string `json:"avatar"`
	Bio      *string `json:"bio"`
	Location *string `json:"location"`
}

// Update edits the caller's own profile. Omitted optional fields are cleared.
func (h *UserHandler) Update(c *gin.Context) {
	id := currentIdentity(c)
	target, ok := pathID(c, "id")
	if !ok || target != id.ID {
		fail(c, http.StatusForbidden, "Forbidden")
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.Update(c.Request.Context(), target, users.ProfileUpdate{
		Username: req.Username,
		Avatar:   emptyToNil(req.Avatar),
		Bio:      emptyToNil(req.Bio),
		Location: emptyToNil(req.Location),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": userView{User: user}})
}
