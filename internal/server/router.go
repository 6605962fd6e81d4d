package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/pawpal/internal/auth"
	"github.com/4xmen/pawpal/internal/conversations"
	"github.com/4xmen/pawpal/internal/db"
	"github.com/4xmen/pawpal/internal/handlers"
	"github.com/4xmen/pawpal/internal/messages"
	"github.com/4xmen/pawpal/internal/posts"
	"github.com/4xmen/pawpal/internal/push"
	"github.com/4xmen/pawpal/internal/users"
	"github.com/4xmen/pawpal/internal/ws"
)

// Options configures the router. Push may be nil.
type Options struct {
	DB          *db.DB
	Credentials *auth.Service
	Hub         *ws.Hub
	Push        *push.Notifier
	Logger      logrus.FieldLogger

	CORSOrigins  string
	LoginRate    int64
	RegisterRate int64
}

func NewRouter(opts Options) *gin.Engine {
	log := opts.Logger
	if opts.CORSOrigins == "" {
		opts.CORSOrigins = "*"
	}
	if opts.LoginRate <= 0 {
		opts.LoginRate = 5
	}
	if opts.RegisterRate <= 0 {
		opts.RegisterRate = 2
	}

	userStore := users.NewStore(opts.DB)
	directory := conversations.NewDirectory(opts.DB)
	resolver := auth.NewResolver(opts.Credentials)

	authHandler := handlers.NewAuthHandler(opts.Credentials, userStore, log)
	userHandler := handlers.NewUserHandler(userStore, log)
	convHandler := handlers.NewConversationHandler(directory, userStore, log)
	var realtime handlers.Realtime
	if opts.Hub != nil {
		realtime = opts.Hub
	}
	msgHandler := handlers.NewMessageHandler(directory, messages.NewLog(opts.DB), realtime, opts.Push, log)
	postHandler := handlers.NewPostHandler(posts.NewStore(opts.DB), log)
	pushHandler := handlers.NewPushHandler(opts.Push, log)

	router := gin.New()
	router.Use(requestLogger(log))
	router.Use(panicRecovery(log))
	router.Use(cors(opts.CORSOrigins))

	api := router.Group("/api")
	{
		loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: opts.LoginRate})
		registerLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: opts.RegisterRate})

		api.POST("/auth/register", rateLimit(registerLimiter, log), authHandler.Register)
		api.POST("/auth/login", rateLimit(loginLimiter, log), authHandler.Login)
		api.GET("/posts/:id", postHandler.Get)
	}

	protected := api.Group("")
	protected.Use(handlers.RequireIdentity(resolver))
	{
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
		protected.POST("/push/subscriptions", pushHandler.Subscribe)
	}

	if opts.Hub != nil {
		router.GET("/ws", websocketHandler(resolver, opts.Hub, log))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
	})

	return router
}

// websocketHandler accepts the token from the Authorization header or the
// token query parameter, since browsers cannot set headers on upgrade.
func websocketHandler(resolver *auth.Resolver, hub *ws.Hub, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := resolver.Resolve(c.Request)
		if !ok {
			if token := c.Query("token"); token != "" {
				id, ok = resolver.ResolveToken(token)
			}
		}
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}

		if err := hub.Serve(c.Writer, c.Request, id.ID); err != nil {
			log.WithError(err).WithField("user_id", id.ID).Warn("websocket upgrade failed")
		}
	}
}
