package comments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/database/dbtest"
	"github.com/emilythestrangee/discuss/backend/internal/metrics"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

type mention struct {
	senderID  int
	body      string
	postID    int
	commentID int
}

type recordingNotifier struct {
	mu       sync.Mutex
	replies  []int
	mentions []mention
}

func (r *recordingNotifier) Reply(_ context.Context, c *models.Comment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, c.ID)
}

func (r *recordingNotifier) Mentions(_ context.Context, senderID int, body string, postID int, commentID *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mentions = append(r.mentions, mention{senderID, body, postID, *commentID})
}

type fixture struct {
	db       *gorm.DB
	tree     *Tree
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	author   *models.User
	post     *models.Post
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := dbtest.DB(t)
	m := metrics.New(prometheus.NewRegistry())
	notifier := &recordingNotifier{}
	tx := database.NewTransactor(db, 5*time.Second, m, zap.NewNop())

	author := dbtest.CreateUser(t, db, "author", time.Now())
	return &fixture{
		db:       db,
		tree:     NewTree(tx, notifier, m, zap.NewNop()),
		notifier: notifier,
		metrics:  m,
		author:   author,
		post:     dbtest.CreatePost(t, db, author.ID, "thread"),
	}
}

func (f *fixture) insert(t *testing.T, parent *models.Comment, body string) *models.Comment {
	t.Helper()

	var parentID *int
	if parent != nil {
		parentID = &parent.ID
	}
	c, err := f.tree.Insert(context.Background(), f.post.ID, f.author.ID, parentID, body)
	require.NoError(t, err)
	return c
}

// reload returns the stored (lft, rgt) of a comment.
func (f *fixture) reload(t *testing.T, id int) [2]int {
	t.Helper()

	var c models.Comment
	require.NoError(t, f.db.Take(&c, id).Error)
	return [2]int{c.Lft, c.Rgt}
}

func TestInsert_RootThenReply(t *testing.T) {
	f := newFixture(t)

	c1 := f.insert(t, nil, "first")
	assert.Equal(t, 1, c1.Lft)
	assert.Equal(t, 2, c1.Rgt)
	assert.Equal(t, 0, c1.Depth)

	c2 := f.insert(t, c1, "reply")
	assert.Equal(t, [2]int{1, 4}, f.reload(t, c1.ID))
	assert.Equal(t, [2]int{2, 3}, f.reload(t, c2.ID))
	assert.Equal(t, 1, c2.Depth)
	require.NotNil(t, c2.ParentID)
	assert.Equal(t, c1.ID, *c2.ParentID)

	require.NoError(t, f.tree.Validate(context.Background(), f.post.ID))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.TreeOperations.WithLabelValues("insert")))
}

func TestInsert_RootsFollowEachOther(t *testing.T) {
	f := newFixture(t)

	c1 := f.insert(t, nil, "one")
	f.insert(t, c1, "one.one")
	c3 := f.insert(t, nil, "two")

	assert.Equal(t, [2]int{1, 4}, f.reload(t, c1.ID))
	assert.Equal(t, [2]int{5, 6}, f.reload(t, c3.ID))
}

func TestInsert_SiblingsKeepCreationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.insert(t, nil, "root")
	a := f.insert(t, root, "a")
	b := f.insert(t, root, "b")
	c := f.insert(t, root, "c")
	f.insert(t, a, "a.1")

	nodes, err := f.tree.FetchSubtree(ctx, root.ID, 1)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, []int{a.ID, b.ID, c.ID}, []int{nodes[0].ID, nodes[1].ID, nodes[2].ID})

	require.NoError(t, f.tree.Validate(ctx, f.post.ID))
}

func TestInsert_Notifies(t *testing.T) {
	f := newFixture(t)

	c := f.insert(t, nil, "hi @someone")

	assert.Equal(t, []int{c.ID}, f.notifier.replies)
	require.Len(t, f.notifier.mentions, 1)
	assert.Equal(t, mention{f.author.ID, "hi @someone", f.post.ID, c.ID}, f.notifier.mentions[0])
}

func TestInsert_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := dbtest.CreatePost(t, f.db, f.author.ID, "other")
	foreign, err := f.tree.Insert(ctx, other.ID, f.author.ID, nil, "elsewhere")
	require.NoError(t, err)

	missing := 9999

	tests := []struct {
		name     string
		postID   int
		parentID *int
		body     string
		check    func(error) bool
	}{
		{"empty body", f.post.ID, nil, "   ", apperrors.IsValidation},
		{"missing post", 9999, nil, "x", apperrors.IsNotFound},
		{"missing parent", f.post.ID, &missing, "x", apperrors.IsNotFound},
		{"parent in another post", f.post.ID, &foreign.ID, "x", apperrors.IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tree.Insert(ctx, tt.postID, f.author.ID, tt.parentID, tt.body)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error type: %v", err)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&models.Comment{}).Where("post_id = ?", f.post.ID).Count(&count).Error)
	assert.Zero(t, count)
	assert.Len(t, f.notifier.replies, 1)
}

func TestInsert_ConcurrentRepliesKeepRanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.insert(t, nil, "root")

	p := pool.New().WithErrors().WithMaxGoroutines(8)
	for i := 0; i < 16; i++ {
		p.Go(func() error {
			_, err := f.tree.Insert(ctx, f.post.ID, f.author.ID, &root.ID, "reply")
			return err
		})
	}
	require.NoError(t, p.Wait())

	assert.Equal(t, [2]int{1, 34}, f.reload(t, root.ID))
	require.NoError(t, f.tree.Validate(ctx, f.post.ID))
}

func TestFetchSubtree_DepthCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.insert(t, nil, "root")
	a := f.insert(t, root, "a")
	aa := f.insert(t, a, "a.a")
	f.insert(t, aa, "a.a.a")
	b := f.insert(t, root, "b")

	nodes, err := f.tree.FetchSubtree(ctx, root.ID, 1)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, a.ID, nodes[0].ID)
	assert.True(t, nodes[0].HasMore)
	assert.Equal(t, b.ID, nodes[1].ID)
	assert.False(t, nodes[1].HasMore)

	nodes, err = f.tree.FetchSubtree(ctx, root.ID, 2)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, []int{a.ID, aa.ID, b.ID}, []int{nodes[0].ID, nodes[1].ID, nodes[2].ID})
	assert.False(t, nodes[0].HasMore)
	assert.True(t, nodes[1].HasMore)

	nodes, err = f.tree.FetchSubtree(ctx, root.ID, 10)
	require.NoError(t, err)
	assert.Len(t, nodes, 4)
	for _, n := range nodes {
		assert.False(t, n.HasMore)
		assert.Equal(t, "author", n.User.Username)
	}

	nodes, err = f.tree.FetchSubtree(ctx, b.ID, 3)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestFetchSubtree_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.insert(t, nil, "root")

	_, err := f.tree.FetchSubtree(ctx, root.ID, 0)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.tree.FetchSubtree(ctx, 9999, 3)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFetchThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r1 := f.insert(t, nil, "r1")
	r1a := f.insert(t, r1, "r1.a")
	f.insert(t, r1a, "r1.a.a")
	r2 := f.insert(t, nil, "r2")

	nodes, err := f.tree.FetchThread(ctx, f.post.ID, 1)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, r1.ID, nodes[0].ID)
	assert.True(t, nodes[0].HasMore)
	assert.Equal(t, r2.ID, nodes[1].ID)
	assert.False(t, nodes[1].HasMore)

	nodes, err = f.tree.FetchThread(ctx, f.post.ID, 2)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, r1a.ID, nodes[1].ID)
	assert.True(t, nodes[1].HasMore)

	_, err = f.tree.FetchThread(ctx, 9999, 3)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.tree.FetchThread(ctx, f.post.ID, 0)
	assert.True(t, apperrors.IsValidation(err))
}

func TestDeleteSubtree_ClosesGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	voter := dbtest.CreateUser(t, f.db, "voter", time.Now())

	r1 := f.insert(t, nil, "r1")
	a := f.insert(t, r1, "a")
	aa := f.insert(t, a, "a.a")
	b := f.insert(t, r1, "b")
	r2 := f.insert(t, nil, "r2")

	for _, id := range []int{a.ID, aa.ID, b.ID} {
		require.NoError(t, f.db.Create(&models.Vote{
			VoterID: voter.ID, TargetKind: models.TargetComment, TargetID: id, Value: 1,
		}).Error)
	}

	removed, err := f.tree.DeleteSubtree(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.Equal(t, [2]int{1, 4}, f.reload(t, r1.ID))
	assert.Equal(t, [2]int{2, 3}, f.reload(t, b.ID))
	assert.Equal(t, [2]int{5, 6}, f.reload(t, r2.ID))
	require.NoError(t, f.tree.Validate(ctx, f.post.ID))

	var votes int64
	require.NoError(t, f.db.Model(&models.Vote{}).Count(&votes).Error)
	assert.Equal(t, int64(1), votes)

	_, err = f.tree.DeleteSubtree(ctx, a.ID)
	assert.True(t, apperrors.IsNotFound(err))

	// Inserting after a delete reuses the freed positions.
	c := f.insert(t, nil, "r3")
	assert.Equal(t, [2]int{7, 8}, f.reload(t, c.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TreeOperations.WithLabelValues("delete")))
}

func TestDeleteSubtree_LeavesOtherPostsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := dbtest.CreatePost(t, f.db, f.author.ID, "other")
	keep, err := f.tree.Insert(ctx, other.ID, f.author.ID, nil, "keep")
	require.NoError(t, err)

	gone := f.insert(t, nil, "gone")
	removed, err := f.tree.DeleteSubtree(ctx, gone.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.Equal(t, [2]int{1, 2}, f.reload(t, keep.ID))
	require.NoError(t, f.tree.Validate(ctx, other.ID))
}
