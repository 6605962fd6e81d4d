package handlers

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/pawpal/internal/auth"
	"github.com/4xmen/pawpal/internal/models"
	"github.com/4xmen/pawpal/internal/users"
	"github.com/4xmen/pawpal/pkg/apperror"
)

const identityKey = "identity"

var errInvalidCredentials = apperror.Unauthorized("Invalid email or password")

type AuthHandler struct {
	creds *auth.Service
	users *users.Store
	log   logrus.FieldLogger
}

func NewAuthHandler(creds *auth.Service, store *users.Store, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{creds: creds, users: store, log: log}
}

type RegisterRequest struct {
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Avatar   *string `json:"avatar"`
	Bio      *string `json:"bio"`
	Location *string `json:"location"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userView struct {
	*models.User
	Stats *models.UserStats `json:"stats,omitempty"`
}

// Register creates an account and signs the caller in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "Username, email, and password are required")
		return
	}
	if utf8.RuneCountInString(req.Password) < auth.MinPasswordLength {
		respondError(c, h.log, auth.ErrWeakPassword)
		return
	}

	ctx := c.Request.Context()
	taken, err := h.users.EmailOrUsernameTaken(ctx, req.Email, req.Username)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if taken {
		respondError(c, h.log, users.ErrUserExists)
		return
	}

	hash, err := h.creds.HashPassword(req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	user, err := h.users.Create(ctx, users.NewUser{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Avatar:       emptyToNil(req.Avatar),
		Bio:          emptyToNil(req.Bio),
		Location:     emptyToNil(req.Location),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	token, err := h.creds.IssueToken(identityOf(user))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.WithField("user_id", user.ID).Info("user registered")
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": userView{User: user}, "token": token})
}

// Login exchanges email and password for a token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.users.FindByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if apperror.IsCode(err, apperror.CodeNotFound) {
			err = errInvalidCredentials
		}
		respondError(c, h.log, err)
		return
	}

	ok, err := h.creds.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !ok {
		respondError(c, h.log, errInvalidCredentials)
		return
	}

	token, err := h.creds.IssueToken(identityOf(user))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": userView{User: user}, "token": token})
}

// Me returns the caller's profile with post and like statistics.
func (h *AuthHandler) Me(c *gin.Context) {
	id := currentIdentity(c)
	ctx := c.Request.Context()

	user, err := h.users.GetByID(ctx, id.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	stats, err := h.users.Stats(ctx, user.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": userView{User: user, Stats: &stats}})
}

// RequireIdentity rejects anonymous requests with 401.
func RequireIdentity(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := resolver.Resolve(c.Request)
		if !ok {
			fail(c, http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}
		c.Set(identityKey, id)
		c.Set("user_id", id.ID)
		c.Next()
	}
}

func currentIdentity(c *gin.Context) auth.Identity {
	id, _ := c.MustGet(identityKey).(auth.Identity)
	return id
}

func identityOf(u *models.User) auth.Identity {
	return auth.Identity{ID: u.ID, Username: u.Username, Email: u.Email}
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
