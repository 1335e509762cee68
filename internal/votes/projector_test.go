package votes

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/database/dbtest"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

func TestBucket(t *testing.T) {
	assert.Equal(t, Delta{Up: 1}, bucket(1, 1))
	assert.Equal(t, Delta{Down: 1}, bucket(-1, 1))
	assert.Equal(t, Delta{Up: -1, Down: 1}, bucket(1, -1).add(bucket(-1, 1)))
}

func TestCountsScore(t *testing.T) {
	assert.Equal(t, -2, Counts{Upvotes: 1, Downvotes: 3}.Score())
}

func TestApply_ClampsAtZero(t *testing.T) {
	db := dbtest.DB(t)
	f := newFixture(t, db)
	author := dbtest.CreateUser(t, db, "author", time.Now())
	post := dbtest.CreatePost(t, db, author.ID, "clamp")

	counts, err := f.projector.Apply(db, models.TargetPost, post.ID, Delta{Up: -1, Down: 2})
	require.NoError(t, err)
	assert.Equal(t, Counts{Upvotes: 0, Downvotes: 2}, counts)
}

func TestApply_MissingTarget(t *testing.T) {
	db := dbtest.DB(t)
	f := newFixture(t, db)

	_, err := f.projector.Apply(db, models.TargetComment, 999, Delta{Up: 1})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRecount_RepairsClampedUndercount(t *testing.T) {
	db := dbtest.DB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	author := dbtest.CreateUser(t, db, "author", time.Now())
	voters := []*models.User{
		dbtest.CreateUser(t, db, "v1", time.Now()),
		dbtest.CreateUser(t, db, "v2", time.Now()),
	}
	post := dbtest.CreatePost(t, db, author.ID, "drift")

	for _, v := range voters {
		_, err := f.ledger.CastVote(ctx, v.ID, models.TargetPost, post.ID, 1)
		require.NoError(t, err)
	}

	// Simulate drift: the stored counter falls below the ledger.
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", post.ID).Update("upvote_count", 0).Error)

	// Retracting one vote cannot go below zero; the counter stays wrong.
	res, err := f.ledger.CastVote(ctx, voters[0].ID, models.TargetPost, post.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.VoteRemoved, res.Transition)
	assert.Equal(t, 0, res.Upvotes)

	err = f.projector.Verify(ctx, models.TargetPost, post.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConsistency(err))

	counts, err := f.projector.Recount(ctx, models.TargetPost, post.ID)
	require.NoError(t, err)
	assert.Equal(t, Counts{Upvotes: 1, Downvotes: 0}, counts)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.CounterDrift.WithLabelValues("post")), 0)

	require.NoError(t, f.projector.Verify(ctx, models.TargetPost, post.ID))
}

func TestRecount_Idempotent(t *testing.T) {
	db := dbtest.DB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	author := dbtest.CreateUser(t, db, "author", time.Now())
	voter := dbtest.CreateUser(t, db, "voter", time.Now())
	post := dbtest.CreatePost(t, db, author.ID, "stable")

	_, err := f.ledger.CastVote(ctx, voter.ID, models.TargetPost, post.ID, -1)
	require.NoError(t, err)

	first, err := f.projector.Recount(ctx, models.TargetPost, post.ID)
	require.NoError(t, err)
	second, err := f.projector.Recount(ctx, models.TargetPost, post.ID)
	require.NoError(t, err)

	assert.Equal(t, Counts{Downvotes: 1}, first)
	assert.Equal(t, first, second)
	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.CounterDrift.WithLabelValues("post")), 0)
}

func TestRecount_Errors(t *testing.T) {
	db := dbtest.DB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	_, err := f.projector.Recount(ctx, models.TargetKind("poll"), 1)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.projector.Recount(ctx, models.TargetPost, 12345)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRecountAll(t *testing.T) {
	db := dbtest.DB(t)
	f := newFixture(t, db)
	ctx := context.Background()

	author := dbtest.CreateUser(t, db, "author", time.Now())
	voter := dbtest.CreateUser(t, db, "voter", time.Now())
	good := dbtest.CreatePost(t, db, author.ID, "good")
	bad := dbtest.CreatePost(t, db, author.ID, "bad")

	for _, p := range []*models.Post{good, bad} {
		_, err := f.ledger.CastVote(ctx, voter.ID, models.TargetPost, p.ID, 1)
		require.NoError(t, err)
	}
	require.NoError(t, db.Model(&models.Post{}).Where("id = ?", bad.ID).Update("downvote_count", 4).Error)

	repaired, err := f.projector.RecountAll(ctx, models.TargetPost)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	var reloaded models.Post
	require.NoError(t, db.First(&reloaded, bad.ID).Error)
	assert.Equal(t, 1, reloaded.UpvoteCount)
	assert.Equal(t, 0, reloaded.DownvoteCount)
}
