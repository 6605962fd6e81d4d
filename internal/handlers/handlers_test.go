package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/pawpal/internal/auth"
	"github.com/4xmen/pawpal/internal/conversations"
	"github.com/4xmen/pawpal/internal/db"
	"github.com/4xmen/pawpal/internal/messages"
	"github.com/4xmen/pawpal/internal/models"
	"github.com/4xmen/pawpal/internal/posts"
	"github.com/4xmen/pawpal/internal/users"
)

type fakeRealtime struct {
	mu       sync.Mutex
	online   map[int]bool
	messages []*models.Message
	reads    []int64
}

func (f *fakeRealtime) IsUserOnline(userID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeRealtime) NotifyMessage(_, _ int, msg *models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeRealtime) NotifyRead(_, _, _ int, count int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, count)
}

type fakeOffline struct {
	recipients []int
}

func (f *fakeOffline) NotifyNewMessage(recipientID int, _ string) {
	f.recipients = append(f.recipients, recipientID)
}

type testEnv struct {
	router   *gin.Engine
	db       *db.DB
	creds    *auth.Service
	realtime *fakeRealtime
	offline  *fakeOffline
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(db.DriverSQLite, filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	logger, _ := test.NewNullLogger()
	creds := auth.New(auth.Options{Secret: "test-jwt-secret"})
	userStore := users.NewStore(database)
	directory := conversations.NewDirectory(database)
	realtime := &fakeRealtime{online: map[int]bool{}}
	offline := &fakeOffline{}

	authHandler := NewAuthHandler(creds, userStore, logger)
	userHandler := NewUserHandler(userStore, logger)
	convHandler := NewConversationHandler(directory, userStore, logger)
	msgHandler := NewMessageHandler(directory, messages.NewLog(database), realtime, offline, logger)
	postHandler := NewPostHandler(posts.NewStore(database), logger)
	pushHandler := NewPushHandler(nil, logger)

	router := gin.New()
	api := router.Group("/api")
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.GET("/posts/:id", postHandler.Get)

	protected := api.Group("")
	protected.Use(RequireIdentity(auth.NewResolver(creds)))
	protected.GET("/auth/me", authHandler.Me)
	protected.PUT("/users/:id", userHandler.Update)
	protected.GET("/conversations", convHandler.List)
	protected.POST("/conversations", convHandler.Create)
	protected.GET("/conversations/:id/messages", msgHandler.List)
	protected.POST("/conversations/:id/messages", msgHandler.Send)
	protected.POST("/posts", postHandler.Create)
	protected.DELETE("/posts/:id", postHandler.Delete)
	protected.POST("/posts/:id/like", postHandler.ToggleLike)
	protected.GET("/push/vapid-key", pushHandler.VAPIDKey)

	return &testEnv{router: router, db: database, creds: creds, realtime: realtime, offline: offline}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

// register creates a user through the API and returns its id and token.
func (e *testEnv) register(t *testing.T, username string) (int, string) {
	t.Helper()
	w, resp := e.do(t, "POST", "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := resp["user"].(map[string]any)
	return int(user["id"].(float64)), resp["token"].(string)
}

func (e *testEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestRegister(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantError  string
	}{
		{
			name:       "valid registration",
			body:       map[string]string{"username": "rex", "email": "rex@example.com", "password": "password123", "bio": "good boy"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "duplicate email",
			body:       map[string]string{"username": "other", "email": "rex@example.com", "password": "password123"},
			wantStatus: http.StatusConflict,
			wantError:  "User with this email or username already exists",
		},
		{
			name:       "duplicate username",
			body:       map[string]string{"username": "rex", "email": "other@example.com", "password": "password123"},
			wantStatus: http.StatusConflict,
			wantError:  "User with this email or username already exists",
		},
		{
			name:       "short password",
			body:       map[string]string{"username": "newuser", "email": "new@example.com", "password": "12345"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Password must be at least 6 characters",
		},
		{
			name:       "missing email",
			body:       map[string]string{"username": "newuser", "password": "password123"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Username, email, and password are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, "POST", "/api/auth/register", "", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantError != "" {
				assert.Equal(t, false, resp["success"])
				assert.Equal(t, tt.wantError, resp["error"])
				return
			}

			assert.Equal(t, true, resp["success"])
			assert.NotEmpty(t, resp["token"])
			user := resp["user"].(map[string]any)
			assert.Equal(t, "rex", user["username"])
			assert.Equal(t, "good boy", user["bio"])
			assert.NotContains(t, user, "password_hash")
			assert.Contains(t, user, "joinedDate")
		})
	}

	assert.Equal(t, 1, env.count(t, "users"), "rejected registrations write nothing")
}

func TestLogin(t *testing.T) {
	env := setupTestEnv(t)
	userID, _ := env.register(t, "loginuser")

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
	}{
		{name: "valid login", body: map[string]string{"email": "loginuser@example.com", "password": "password123"}, wantStatus: http.StatusOK},
		{name: "wrong password", body: map[string]string{"email": "loginuser@example.com", "password": "wrongpassword"}, wantStatus: http.StatusUnauthorized},
		{name: "unknown email", body: map[string]string{"email": "nobody@example.com", "password": "password123"}, wantStatus: http.StatusUnauthorized},
		{name: "missing password", body: map[string]string{"email": "loginuser@example.com"}, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, "POST", "/api/auth/login", "", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			switch tt.wantStatus {
			case http.StatusOK:
				token, _ := resp["token"].(string)
				claims, ok := env.creds.VerifyToken(token)
				require.True(t, ok)
				assert.Equal(t, userID, claims.Identity.ID)
			case http.StatusUnauthorized:
				assert.Equal(t, "Invalid email or password", resp["error"])
			}
		})
	}
}

func TestRequireIdentity(t *testing.T) {
	env := setupTestEnv(t)

	for _, token := range []string{"", "invalid-token"} {
		w, resp := env.do(t, "GET", "/api/auth/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, map[string]any{"success": false, "error": "Unauthorized"}, resp)
	}
}

func TestMeIncludesStats(t *testing.T) {
	env := setupTestEnv(t)
	_, token := env.register(t, "rex")
	_, fanToken := env.register(t, "fan")

	w, resp := env.do(t, "POST", "/api/posts", token, map[string]any{"type": "media", "description": "nap"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	postID := int(resp["post"].(map[string]any)["id"].(float64))

	w, _ = env.do(t, "POST", fmt.Sprintf("/api/posts/%d/like", postID), fanToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = env.do(t, "GET", "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := resp["user"].(map[string]any)["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["postsCount"])
	assert.Equal(t, float64(1), stats["likesReceived"])
}

func TestUpdateProfile(t *testing.T) {
	env := setupTestEnv(t)
	aliceID, aliceToken := env.register(t, "alice")
	bobID, _ := env.register(t, "bob")

	w, resp := env.do(t, "PUT", fmt.Sprintf("/api/users/%d", bobID), aliceToken, map[string]string{"bio": "hacked"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", resp["error"])

	w, resp = env.do(t, "PUT", fmt.Sprintf("/api/users/%d", aliceID), aliceToken, map[string]string{"location": "Porto"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	user := resp["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "Porto", user["location"])

	w, resp = env.do(t, "PUT", fmt.Sprintf("/api/users/%d", aliceID), aliceToken, map[string]string{"username": "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Username already taken", resp["error"])
}

func TestCreateConversation(t *testing.T) {
	env := setupTestEnv(t)
	aliceID, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")

	w, resp := env.do(t, "POST", "/api/conversations", aliceToken, map[string]int{"otherUserId": bobID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	conv := resp["conversation"].(map[string]any)
	convID := conv["id"]
	assert.Equal(t, float64(aliceID), conv["user1_id"])
	assert.Equal(t, float64(bobID), conv["user2_id"])

	w, resp = env.do(t, "POST", "/api/conversations", aliceToken, map[string]int{"otherUserId": bobID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, convID, resp["conversation"].(map[string]any)["id"])

	w, resp = env.do(t, "POST", "/api/conversations", bobToken, map[string]int{"otherUserId": aliceID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, convID, resp["conversation"].(map[string]any)["id"])

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{name: "missing other user", body: map[string]any{}, wantStatus: http.StatusBadRequest},
		{name: "self", body: map[string]int{"otherUserId": aliceID}, wantStatus: http.StatusBadRequest},
		{name: "unknown user", body: map[string]int{"otherUserId": 9999}, wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, "POST", "/api/conversations", aliceToken, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, false, resp["success"])
		})
	}

	assert.Equal(t, 1, env.count(t, "conversations"))
}

func TestMessageScenario(t *testing.T) {
	env := setupTestEnv(t)
	_, aliceToken := env.register(t, "alice")
	bobID, bobToken := env.register(t, "bob")

	_, resp := env.do(t, "POST", "/api/conversations", aliceToken, map[string]int{"otherUserId": bobID})
	convID := int(resp["conversation"].(map[string]any)["id"].(float64))
	path := fmt.Sprintf("/api/conversations/%d/messages", convID)

	w, resp := env.do(t, "POST", path, aliceToken, map[string]string{"content": "Hi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Hi", resp["message"].(map[string]any)["content"])
	require.Len(t, env.realtime.messages, 1)
	assert.Equal(t, []int{bobID}, env.offline.recipients, "offline recipient gets a push")

	_, resp = env.do(t, "GET", "/api/conversations", bobToken, nil)
	summaries := resp["conversations"].([]any)
	require.Len(t, summaries, 1)
	assert.Equal(t, float64(1), summaries[0].(map[string]any)["unread_count"])
	assert.Equal(t, "Hi", summaries[0].(map[string]any)["last_message"])
	assert.Equal(t, "alice", summaries[0].(map[string]any)["other_username"])

	w, resp = env.do(t, "GET", path, bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := resp["messages"].([]any)
	require.Len(t, list, 1)
	msg := list[0].(map[string]any)
	assert.Equal(t, "Hi", msg["content"])
	assert.Equal(t, true, msg["is_read"])
	assert.Equal(t, "alice", msg["sender_username"])
	assert.Equal(t, []int64{1}, env.realtime.reads)

	_, resp = env.do(t, "GET", "/api/conversations", bobToken, nil)
	assert.Equal(t, float64(0), resp["conversations"].([]any)[0].(map[string]any)["unread_count"])

	// Alice reading her own message does not mark anything.
	_, resp = env.do(t, "GET", "/api/conversations", aliceToken, nil)
	assert.Equal(t, float64(0), resp["conversations"].([]any)[0].(map[string]any)["unread_count"])

	env.realtime.online[bobID] = true
	w, _ = env.do(t, "POST", path, aliceToken, map[string]string{"content": "Still there?"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []int{bobID}, env.offline.recipients, "online recipient gets no push")
}

func TestMessagesAccessMasking(t *testing.T) {
	env := setupTestEnv(t)
	_, aliceToken := env.register(t, "alice")
	bobID, _ := env.register(t, "bob")
	_, carolToken := env.register(t, "carol")

	_, resp := env.do(t, "POST", "/api/conversations", aliceToken, map[string]int{"otherUserId": bobID})
	convID := int(resp["conversation"].(map[string]any)["id"].(float64))

	paths := []string{
		fmt.Sprintf("/api/conversations/%d/messages", convID),
		"/api/conversations/9999/messages",
		"/api/conversations/abc/messages",
	}
	for _, path := range paths {
		for _, method := range []string{"GET", "POST"} {
			w, resp := env.do(t, method, path, carolToken, map[string]string{"content": "let me in"})
			assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", method, path)
			assert.Equal(t, "Conversation not found or access denied", resp["error"])
		}
	}
	assert.Equal(t, 0, env.count(t, "messages"))
}

func TestSendBlankMessage(t *testing.T) {
	env := setupTestEnv(t)
	_, aliceToken := env.register(t, "alice")
	bobID, _ := env.register(t, "bob")

	_, resp := env.do(t, "POST", "/api/conversations", aliceToken, map[string]int{"otherUserId": bobID})
	convID := int(resp["conversation"].(map[string]any)["id"].(float64))

	w, resp := env.do(t, "POST", fmt.Sprintf("/api/conversations/%d/messages", convID), aliceToken, map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Message content is required", resp["error"])
	assert.Equal(t, 0, env.count(t, "messages"))
	assert.Empty(t, env.realtime.messages)
}

func TestPostOwnership(t *testing.T) {
	env := setupTestEnv(t)
	_, ownerToken := env.register(t, "owner")
	_, otherToken := env.register(t, "other")

	w, resp := env.do(t, "POST", "/api/posts", ownerToken, map[string]any{
		"type":    "adoption",
		"title":   "Meet Biscuit",
		"details": map[string]any{"petName": "Biscuit", "urgent": true},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	post := resp["post"].(map[string]any)
	assert.Equal(t, "Biscuit", post["details"].(map[string]any)["petName"])
	path := fmt.Sprintf("/api/posts/%v", post["id"])

	w, resp = env.do(t, "DELETE", path, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "You can only delete your own posts", resp["error"])

	w, _ = env.do(t, "GET", path, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, "DELETE", path, ownerToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, "GET", path, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, "POST", "/api/posts", ownerToken, map[string]any{"type": "meme"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPushDisabled(t *testing.T) {
	env := setupTestEnv(t)
	_, token := env.register(t, "alice")

	w, resp := env.do(t, "GET", "/api/push/vapid-key", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, resp["success"])
}

func TestStoreFailureIsInternalError(t *testing.T) {
	env := setupTestEnv(t)
	_, token := env.register(t, "alice")
	require.NoError(t, env.db.Close())

	w, resp := env.do(t, "GET", "/api/conversations", token, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]any{"success": false, "error": "Internal server error"}, resp)
}
