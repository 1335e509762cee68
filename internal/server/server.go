package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/handlers"
	"github.com/emilythestrangee/discuss/backend/internal/middleware"
)

type Config struct {
	Port           string
	AllowedOrigins []string
	JWTSecret      []byte
}

type Server struct {
	cfg      Config
	db       database.Service
	handler  *handlers.Handler
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

func New(cfg Config, db database.Service, handler *handlers.Handler, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	return &Server{cfg: cfg, db: db, handler: handler, gatherer: gatherer, log: log}
}

// HTTPServer wraps the routes in an http.Server listening on the configured port.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         "0.0.0.0:" + s.cfg.Port,
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.log))

	// Credentials cannot be combined with a wildcard origin.
	allowCredentials := true
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" {
			allowCredentials = false
		}
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: allowCredentials,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	h := s.handler
	optional := middleware.OptionalAuth(s.cfg.JWTSecret)

	api := r.Group("/api")
	{
		// Auth routes (public)
		api.POST("/register", h.Auth.Register)
		api.POST("/login", h.Auth.Login)

		// Public reads
		api.GET("/posts", h.Post.GetPosts)
		api.GET("/posts/:id", optional, h.Post.GetPost)
		api.GET("/posts/:id/comments", h.Comment.GetComments)
		api.GET("/comments/:commentId/replies", h.Comment.GetReplies)
		api.GET("/users/:id", h.User.GetUserProfile)
		api.GET("/users/:id/karma", h.User.GetKarma)

		// Protected routes (authentication required)
		protected := api.Group("")
		protected.Use(middleware.Auth(s.cfg.JWTSecret))
		{
			protected.GET("/me", h.Auth.GetMe)

			protected.POST("/posts", h.Post.CreatePost)
			protected.POST("/posts/:id/vote", h.Post.VotePost)
			protected.POST("/posts/:id/recount", h.Post.RecountPost)

			protected.POST("/posts/:id/comments", h.Comment.CreateComment)
			protected.DELETE("/comments/:commentId", h.Comment.DeleteComment)
			protected.POST("/comments/:commentId/vote", h.Comment.VoteComment)
			protected.POST("/comments/:commentId/recount", h.Comment.RecountComment)

			protected.GET("/notifications", h.Notification.List)
			protected.GET("/notifications/unread-count", h.Notification.UnreadCount)
			protected.POST("/notifications/read-all", h.Notification.MarkAllRead)
			protected.POST("/notifications/:id/read", h.Notification.MarkRead)
		}
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	stats := s.db.Health()
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
