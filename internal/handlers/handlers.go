package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/comments"
	"github.com/emilythestrangee/discuss/backend/internal/karma"
	"github.com/emilythestrangee/discuss/backend/internal/middleware"
	"github.com/emilythestrangee/discuss/backend/internal/notifications"
	"github.com/emilythestrangee/discuss/backend/internal/votes"
)

// Deps are the components the HTTP layer drives.
type Deps struct {
	DB            *gorm.DB
	Ledger        *votes.Ledger
	Projector     *votes.Projector
	Tree          *comments.Tree
	Karma         *karma.Calculator
	Notifications *notifications.Dispatcher
	JWTSecret     []byte
	Log           *zap.Logger
}

// Handler combines all handler types
type Handler struct {
	Auth         *AuthHandler
	Post         *PostHandler
	Comment      *CommentHandler
	User         *UserHandler
	Notification *NotificationHandler
}

// NewHandler creates a unified handler with all sub-handlers
func NewHandler(d Deps) *Handler {
	return &Handler{
		Auth:         NewAuthHandler(d.DB, d.JWTSecret, d.Log),
		Post:         NewPostHandler(d.DB, d.Ledger, d.Projector, d.Notifications, d.Log),
		Comment:      NewCommentHandler(d.Tree, d.Ledger, d.Projector, d.Log),
		User:         NewUserHandler(d.DB, d.Karma, d.Log),
		Notification: NewNotificationHandler(d.Notifications, d.Log),
	}
}

func extractUserID(c *gin.Context) (int, bool) {
	raw, exists := c.Get(middleware.UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := raw.(int)
	return id, ok
}

// paramID parses a positive integer path parameter.
func paramID(c *gin.Context, name string) (int, error) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		return 0, apperrors.Validation("invalid %s %q", name, c.Param(name))
	}
	return id, nil
}

// queryDepth reads ?depth=N, falling back to def when absent.
func queryDepth(c *gin.Context, def int) (int, error) {
	raw := c.Query("depth")
	if raw == "" {
		return def, nil
	}
	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation("invalid depth %q", raw)
	}
	return depth, nil
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, apperrors.ErrorResponse{
		Error: err.Error(),
		Type:  apperrors.TypeValidation,
	})
}

// respondError writes err as a structured JSON error. Unstructured errors
// reach the client only as a generic internal error.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	ae := apperrors.AsStructured(err)
	status := ae.HTTPStatus()

	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("type", string(ae.Type)),
			zap.Error(err))
	}

	_ = c.Error(err)
	c.JSON(status, ae.ToResponse())
}
