package karma

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/database/dbtest"
	"github.com/emilythestrangee/discuss/backend/internal/metrics"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

func vote(t *testing.T, db *gorm.DB, voterID int, kind models.TargetKind, targetID, value int) {
	t.Helper()
	require.NoError(t, db.Create(&models.Vote{
		VoterID: voterID, TargetKind: kind, TargetID: targetID, Value: value,
	}).Error)
}

func comment(t *testing.T, db *gorm.DB, postID, authorID, lft int) *models.Comment {
	t.Helper()
	c := &models.Comment{PostID: postID, AuthorID: authorID, Body: "c", Lft: lft, Rgt: lft + 1}
	require.NoError(t, db.Omit("User").Create(c).Error)
	return c
}

// voters creates n users to cast votes.
func voters(t *testing.T, db *gorm.DB, n int) []*models.User {
	t.Helper()
	names := []string{"v1", "v2", "v3", "v4", "v5"}
	out := make([]*models.User, n)
	for i := range out {
		out[i] = dbtest.CreateUser(t, db, names[i], time.Now())
	}
	return out
}

func TestKarma_Formula(t *testing.T) {
	db := dbtest.DB(t)
	clock := clockwork.NewFakeClockAt(time.Now())
	m := metrics.New(prometheus.NewRegistry())
	calc := NewCalculator(db, nil, clock, m, zap.NewNop())

	user := dbtest.CreateUser(t, db, "writer", clock.Now().Add(-90*24*time.Hour))
	other := dbtest.CreateUser(t, db, "other", clock.Now())
	vs := voters(t, db, 2)

	p1 := dbtest.CreatePost(t, db, user.ID, "one")
	dbtest.CreatePost(t, db, user.ID, "two")
	foreign := dbtest.CreatePost(t, db, other.ID, "foreign")
	c := comment(t, db, foreign.ID, user.ID, 1)

	vote(t, db, vs[0].ID, models.TargetPost, p1.ID, 1)
	vote(t, db, vs[1].ID, models.TargetPost, p1.ID, 1)
	vote(t, db, vs[0].ID, models.TargetComment, c.ID, -1)
	vote(t, db, vs[0].ID, models.TargetPost, foreign.ID, 1)

	profile, err := calc.Karma(context.Background(), user.ID)
	require.NoError(t, err)

	// 2 posts * 2 + 1 comment * 1 + (1 + 1) - 1
	assert.Equal(t, 6, profile.Karma)
	assert.Equal(t, "New User", profile.Level)
	assert.Equal(t, 0, profile.LevelThreshold)
	assert.InDelta(t, 6.0, profile.ProgressPct, 0.001)

	var stored models.User
	require.NoError(t, db.Take(&stored, user.ID).Error)
	assert.Equal(t, 6, stored.Karma)
}

func TestKarma_NewAccountFloor(t *testing.T) {
	db := dbtest.DB(t)
	clock := clockwork.NewFakeClockAt(time.Now())
	m := metrics.New(prometheus.NewRegistry())
	calc := NewCalculator(db, nil, clock, m, zap.NewNop())
	ctx := context.Background()

	young := dbtest.CreateUser(t, db, "young", clock.Now().Add(-5*24*time.Hour))
	old := dbtest.CreateUser(t, db, "old", clock.Now().Add(-60*24*time.Hour))
	vs := voters(t, db, 3)

	for _, author := range []*models.User{young, old} {
		post := dbtest.CreatePost(t, db, author.ID, "unpopular")
		for _, v := range vs {
			vote(t, db, v.ID, models.TargetPost, post.ID, -1)
		}
	}

	profile, err := calc.Karma(ctx, young.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, profile.Karma)

	profile, err = calc.Karma(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, profile.Karma)
	assert.Equal(t, "New User", profile.Level)
	assert.Zero(t, profile.ProgressPct)

	// The floor lifts once the account is old enough.
	clock.Advance(26 * 24 * time.Hour)
	profile, err = calc.Karma(ctx, young.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, profile.Karma)
}

func TestKarma_UnknownUser(t *testing.T) {
	db := dbtest.DB(t)
	calc := NewCalculator(db, nil, clockwork.NewFakeClock(), metrics.New(prometheus.NewRegistry()), zap.NewNop())

	_, err := calc.Karma(context.Background(), 9999)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestKarma_Cached(t *testing.T) {
	db := dbtest.DB(t)
	cache, mr := setupCache(t, time.Minute)
	m := metrics.New(prometheus.NewRegistry())
	calc := NewCalculator(db, cache, clockwork.NewFakeClockAt(time.Now()), m, zap.NewNop())
	ctx := context.Background()

	user := dbtest.CreateUser(t, db, "writer", time.Now())
	post := dbtest.CreatePost(t, db, user.ID, "p")

	profile, err := calc.Karma(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, profile.Karma)

	vs := voters(t, db, 1)
	vote(t, db, vs[0].ID, models.TargetPost, post.ID, 1)

	profile, err = calc.Karma(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, profile.Karma, "served from cache")

	mr.FastForward(2 * time.Minute)
	profile, err = calc.Karma(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, profile.Karma)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.KarmaCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KarmaCache.WithLabelValues("hit")))
}

func TestKarma_CacheUnavailable(t *testing.T) {
	db := dbtest.DB(t)
	cache, mr := setupCache(t, time.Minute)
	m := metrics.New(prometheus.NewRegistry())
	calc := NewCalculator(db, cache, clockwork.NewFakeClockAt(time.Now()), m, zap.NewNop())

	user := dbtest.CreateUser(t, db, "writer", time.Now())
	mr.Close()

	profile, err := calc.Karma(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, profile.Karma)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KarmaCache.WithLabelValues("error")))
}
