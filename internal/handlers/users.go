package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/karma"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

type UserHandler struct {
	db    *gorm.DB
	karma *karma.Calculator
	log   *zap.Logger
}

func NewUserHandler(db *gorm.DB, calc *karma.Calculator, log *zap.Logger) *UserHandler {
	return &UserHandler{db: db, karma: calc, log: log}
}

// GetUserProfile returns a user's profile with their posts and karma
func (h *UserHandler) GetUserProfile(c *gin.Context) {
	userID, err := paramID(c, "id")
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	ctx := c.Request.Context()
	db := h.db.WithContext(ctx)

	var user models.User
	err = db.Take(&user, userID).Error
	if database.NotFound(err) {
		respondError(c, h.log, apperrors.NotFound("user %d not found", userID))
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	var posts []models.Post
	err = db.Where("author_id = ?", userID).Order("created_at desc").Limit(postPageSize).Find(&posts).Error
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	profile, err := h.karma.Karma(ctx, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":         user.ID,
			"username":   user.Username,
			"bio":        user.Bio,
			"avatar":     user.Avatar,
			"created_at": user.CreatedAt,
		},
		"posts": posts,
		"karma": profile,
	})
}

// GetKarma returns a user's karma and level
func (h *UserHandler) GetKarma(c *gin.Context) {
	userID, err := paramID(c, "id")
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	profile, err := h.karma.Karma(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}
