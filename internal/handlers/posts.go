package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/pawpal/internal/models"
	"github.com/4xmen/pawpal/internal/posts"
)

type PostHandler struct {
	posts *posts.Store
	log   logrus.FieldLogger
}

func NewPostHandler(store *posts.Store, log logrus.FieldLogger) *PostHandler {
	return &PostHandler{posts: store, log: log}
}

type CreatePostRequest struct {
	Type        models.PostType `json:"type"`
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Location    *string         `json:"location"`
	Details     json.RawMessage `json:"details"`
}

// decodeDetails picks the detail variant from the post type.
func decodeDetails(typ models.PostType, raw json.RawMessage) (models.PostDetails, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch typ {
	case models.PostAdoption:
		var d models.AdoptionDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	case models.PostDiscussion:
		var d models.DiscussionDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	case models.PostHelp:
		var d models.HelpDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	}
	return nil, nil
}

func (h *PostHandler) Create(c *gin.Context) {
	id := currentIdentity(c)

	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Type.Valid() {
		fail(c, http.StatusBadRequest, "Invalid post type")
		return
	}
	details, err := decodeDetails(req.Type, req.Details)
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid post details")
		return
	}

	post, err := h.posts.Create(c.Request.Context(), id.ID, posts.NewPost{
		Type:        req.Type,
		Title:       emptyToNil(req.Title),
		Description: emptyToNil(req.Description),
		Location:    emptyToNil(req.Location),
		Details:     details,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "post": post})
}

func (h *PostHandler) Get(c *gin.Context) {
	postID, ok := pathID(c, "id")
	if !ok {
		respondError(c, h.log, posts.ErrPostNotFound)
		return
	}

	post, err := h.posts.Get(c.Request.Context(), postID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "post": post})
}

// Delete is owner-only; anyone else gets 403.
func (h *PostHandler) Delete(c *gin.Context) {
	id := currentIdentity(c)
	postID, ok := pathID(c, "id")
	if !ok {
		respondError(c, h.log, posts.ErrPostNotFound)
		return
	}

	if err := h.posts.Delete(c.Request.Context(), postID, id.ID); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Post deleted successfully"})
}

func (h *PostHandler) ToggleLike(c *gin.Context) {
	id := currentIdentity(c)
	postID, ok := pathID(c, "id")
	if !ok {
		respondError(c, h.log, posts.ErrPostNotFound)
		return
	}

	liked, count, err := h.posts.ToggleLike(c.Request.Context(), postID, id.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "liked": liked, "likeCount": count})
}
