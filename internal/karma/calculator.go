// Package karma derives user reputation from the vote ledger.
package karma

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/metrics"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

const (
	postWeight    = 2
	commentWeight = 1

	// Accounts younger than this cannot have negative karma.
	newAccountAge = 30 * 24 * time.Hour
)

const karmaQuery = `
SELECT
	COALESCE((SELECT SUM(v.value) FROM votes v JOIN posts p ON p.id = v.target_id
		WHERE v.target_kind = 'post' AND p.author_id = @user), 0)
	+ COALESCE((SELECT SUM(v.value) FROM votes v JOIN comments c ON c.id = v.target_id
		WHERE v.target_kind = 'comment' AND c.author_id = @user), 0)
	+ @post_weight * (SELECT COUNT(*) FROM posts WHERE author_id = @user)
	+ @comment_weight * (SELECT COUNT(*) FROM comments WHERE author_id = @user)`

type Calculator struct {
	db      *gorm.DB
	cache   Cache
	clock   clockwork.Clock
	group   singleflight.Group
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewCalculator builds a calculator. cache may be nil.
func NewCalculator(db *gorm.DB, cache Cache, clock clockwork.Clock, m *metrics.Metrics, log *zap.Logger) *Calculator {
	return &Calculator{db: db, cache: cache, clock: clock, metrics: m, log: log}
}

// Karma returns the user's karma and level. Concurrent calls for the same user
// share one computation.
func (c *Calculator) Karma(ctx context.Context, userID int) (*models.KarmaProfile, error) {
	if c.cache != nil {
		profile, ok, err := c.cache.Get(ctx, userID)
		switch {
		case err != nil:
			c.metrics.KarmaCache.WithLabelValues("error").Inc()
			c.log.Warn("Karma cache read failed", zap.Int("user_id", userID), zap.Error(err))
		case ok:
			c.metrics.KarmaCache.WithLabelValues("hit").Inc()
			return profile, nil
		default:
			c.metrics.KarmaCache.WithLabelValues("miss").Inc()
		}
	}

	v, err, _ := c.group.Do(strconv.Itoa(userID), func() (any, error) {
		return c.compute(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	profile := *v.(*models.KarmaProfile)

	if c.cache != nil {
		if err := c.cache.Set(ctx, &profile); err != nil {
			c.log.Warn("Karma cache write failed", zap.Int("user_id", userID), zap.Error(err))
		}
	}
	return &profile, nil
}

func (c *Calculator) compute(ctx context.Context, userID int) (*models.KarmaProfile, error) {
	db := c.db.WithContext(ctx)

	var user models.User
	err := db.Select("id", "karma", "created_at").Take(&user, userID).Error
	if database.NotFound(err) {
		return nil, apperrors.NotFound("user %d not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	var karma int
	err = db.Raw(karmaQuery, map[string]any{
		"user":           userID,
		"post_weight":    postWeight,
		"comment_weight": commentWeight,
	}).Scan(&karma).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute karma: %w", err)
	}

	if karma < 0 && c.clock.Since(user.CreatedAt) < newAccountAge {
		karma = 0
	}

	if karma != user.Karma {
		err := db.Model(&models.User{}).Where("id = ?", userID).UpdateColumn("karma", karma).Error
		if err != nil {
			return nil, fmt.Errorf("failed to store karma: %w", err)
		}
	}

	level := LevelFor(karma)
	return &models.KarmaProfile{
		UserID:         userID,
		Karma:          karma,
		LevelThreshold: level.Threshold,
		Level:          level.Name,
		ProgressPct:    Progress(karma),
	}, nil
}
