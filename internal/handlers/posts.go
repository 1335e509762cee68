package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/models"
	"github.com/emilythestrangee/discuss/backend/internal/notifications"
	"github.com/emilythestrangee/discuss/backend/internal/votes"
)

const postPageSize = 50

type PostHandler struct {
	db        *gorm.DB
	ledger    *votes.Ledger
	projector *votes.Projector
	notifier  *notifications.Dispatcher
	log       *zap.Logger
}

func NewPostHandler(db *gorm.DB, ledger *votes.Ledger, projector *votes.Projector, notifier *notifications.Dispatcher, log *zap.Logger) *PostHandler {
	return &PostHandler{db: db, ledger: ledger, projector: projector, notifier: notifier, log: log}
}

type postView struct {
	models.Post
	Score    int `json:"score"`
	UserVote int `json:"user_vote"`
}

func publicAuthor(db *gorm.DB) *gorm.DB {
	return db.Select("id", "username", "avatar", "karma")
}

// GetPosts returns the newest posts
func (h *PostHandler) GetPosts(c *gin.Context) {
	var posts []models.Post
	err := h.db.WithContext(c.Request.Context()).
		Preload("User", publicAuthor).
		Order("created_at desc, id desc").
		Limit(postPageSize).
		Find(&posts).Error
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	views := make([]postView, len(posts))
	for i, p := range posts {
		views[i] = postView{Post: p, Score: p.Score()}
	}
	c.JSON(http.StatusOK, views)
}

// GetPost returns a single post with the caller's vote when authenticated
func (h *PostHandler) GetPost(c *gin.Context) {
	postID, err := paramID(c, "id")
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	ctx := c.Request.Context()

	var post models.Post
	err = h.db.WithContext(ctx).Preload("User", publicAuthor).Take(&post, postID).Error
	if database.NotFound(err) {
		respondError(c, h.log, apperrors.NotFound("post %d not found", postID))
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	view := postView{Post: post, Score: post.Score()}
	if userID, ok := extractUserID(c); ok {
		if view.UserVote, err = h.ledger.VoteOf(ctx, userID, models.TargetPost, postID); err != nil {
			respondError(c, h.log, err)
			return
		}
	}

	c.JSON(http.StatusOK, view)
}

// CreatePost creates a new post (PROTECTED - requires authentication)
func (h *PostHandler) CreatePost(c *gin.Context) {
	authorID, ok := extractUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input models.CreatePostRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		respondError(c, h.log, apperrors.Validation("title is required"))
		return
	}

	ctx := c.Request.Context()
	post := models.Post{Title: title, Body: input.Body, AuthorID: authorID}
	if err := h.db.WithContext(ctx).Omit("User").Create(&post).Error; err != nil {
		respondError(c, h.log, err)
		return
	}

	h.notifier.Mentions(ctx, authorID, post.Body, post.ID, nil)

	c.JSON(http.StatusCreated, postView{Post: post})
}

// VotePost casts the caller's vote on a post (PROTECTED - requires authentication)
func (h *PostHandler) VotePost(c *gin.Context) {
	castVote(c, h.ledger, h.log, models.TargetPost, "id")
}

// RecountPost rebuilds the post's counters from the vote ledger
func (h *PostHandler) RecountPost(c *gin.Context) {
	recount(c, h.projector, h.log, models.TargetPost, "id")
}

func castVote(c *gin.Context, ledger *votes.Ledger, log *zap.Logger, kind models.TargetKind, param string) {
	voterID, ok := extractUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	targetID, err := paramID(c, param)
	if err != nil {
		respondError(c, log, err)
		return
	}

	var input models.VoteRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}

	result, err := ledger.CastVote(c.Request.Context(), voterID, kind, targetID, input.Value)
	if err != nil {
		respondError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func recount(c *gin.Context, projector *votes.Projector, log *zap.Logger, kind models.TargetKind, param string) {
	targetID, err := paramID(c, param)
	if err != nil {
		respondError(c, log, err)
		return
	}

	counts, err := projector.Recount(c.Request.Context(), kind, targetID)
	if err != nil {
		respondError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upvotes":   counts.Upvotes,
		"downvotes": counts.Downvotes,
		"score":     counts.Score(),
	})
}
