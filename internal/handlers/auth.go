package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/middleware"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

type AuthHandler struct {
	db        *gorm.DB
	jwtSecret []byte
	log       *zap.Logger
}

func NewAuthHandler(db *gorm.DB, jwtSecret []byte, log *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, jwtSecret: jwtSecret, log: log}
}

// Register handles user registration
func (h *AuthHandler) Register(c *gin.Context) {
	var input models.RegisterRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	input.Username = strings.TrimSpace(input.Username)

	db := h.db.WithContext(c.Request.Context())

	// Check if username or email already exists
	var existing int64
	err := db.Model(&models.User{}).
		Where("username = ? OR email = ?", input.Username, input.Email).
		Count(&existing).Error
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if existing > 0 {
		respondError(c, h.log, apperrors.Validation("username or email already exists"))
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, h.log, apperrors.Internal("failed to hash password", err))
		return
	}

	user := models.User{
		Username: input.Username,
		Email:    input.Email,
		Password: string(hashedPassword),
		Avatar:   input.Avatar,
	}

	if err := db.Create(&user).Error; err != nil {
		if database.IsConflict(err) {
			respondError(c, h.log, apperrors.Validation("username or email already exists"))
			return
		}
		respondError(c, h.log, err)
		return
	}

	h.respondWithToken(c, http.StatusCreated, user, "User registered successfully")
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var input models.LoginRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}

	var user models.User
	err := h.db.WithContext(c.Request.Context()).Where("email = ?", input.Email).Take(&user).Error
	if err != nil && !database.NotFound(err) {
		respondError(c, h.log, err)
		return
	}

	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	h.respondWithToken(c, http.StatusOK, user, "Login successful")
}

// GetMe returns the current authenticated user
func (h *AuthHandler) GetMe(c *gin.Context) {
	userID, ok := extractUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var user models.User
	err := h.db.WithContext(c.Request.Context()).Take(&user, userID).Error
	if database.NotFound(err) {
		respondError(c, h.log, apperrors.NotFound("user %d not found", userID))
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) respondWithToken(c *gin.Context, status int, user models.User, message string) {
	token, err := middleware.IssueToken(h.jwtSecret, user.ID, user.Username, time.Now())
	if err != nil {
		respondError(c, h.log, apperrors.Internal("failed to generate token", err))
		return
	}

	c.JSON(status, models.AuthResponse{
		Token:   token,
		User:    user,
		Message: message,
	})
}
