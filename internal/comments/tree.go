// Package comments stores each post's discussion as a nested-set forest.
//
// Every comment carries a (lft, rgt) interval in the range space of its post:
// a node's interval strictly contains the intervals of all its descendants, so
// a subtree is one range scan. Writes renumber the intervals that follow the
// insertion or deletion point and are serialized per post.
package comments

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/metrics"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

// Node is a fetched comment. HasMore is set on nodes at the depth cutoff whose
// own replies were not returned.
type Node struct {
	models.Comment
	HasMore bool `json:"has_more"`
}

// Notifier is told about every committed comment. It must not fail the insert.
type Notifier interface {
	Reply(ctx context.Context, comment *models.Comment)
	Mentions(ctx context.Context, senderID int, body string, postID int, commentID *int)
}

type Tree struct {
	tx       *database.Transactor
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewTree(tx *database.Transactor, notifier Notifier, m *metrics.Metrics, log *zap.Logger) *Tree {
	return &Tree{tx: tx, notifier: notifier, metrics: m, log: log}
}

// Insert places a new comment as the last child of parentID, or as the last
// root of the post when parentID is nil.
func (t *Tree) Insert(ctx context.Context, postID, authorID int, parentID *int, body string) (*models.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.Validation("comment body is required")
	}

	var comment models.Comment
	err := t.tx.InTx(ctx, "insert_comment", func(tx *gorm.DB) error {
		if err := lockTree(tx, postID); err != nil {
			return err
		}

		point, depth := 0, 0
		if parentID != nil {
			var parent models.Comment
			err := tx.Select("id", "post_id", "lft", "rgt", "depth").Take(&parent, *parentID).Error
			if database.NotFound(err) {
				return apperrors.NotFound("parent comment %d not found", *parentID)
			}
			if err != nil {
				return fmt.Errorf("failed to load parent comment: %w", err)
			}
			if parent.PostID != postID {
				return apperrors.Validation("parent comment %d belongs to post %d, not %d", parent.ID, parent.PostID, postID).
					With("parent_id", parent.ID)
			}
			point, depth = parent.Rgt, parent.Depth+1
		} else {
			var maxRgt int
			err := tx.Model(&models.Comment{}).
				Where("post_id = ?", postID).
				Select("COALESCE(MAX(rgt), 0)").
				Scan(&maxRgt).Error
			if err != nil {
				return fmt.Errorf("failed to find tree boundary: %w", err)
			}
			point = maxRgt + 1
		}

		if err := shift(tx, postID, point, 2); err != nil {
			return err
		}

		comment = models.Comment{
			PostID:   postID,
			ParentID: parentID,
			Body:     body,
			AuthorID: authorID,
			Lft:      point,
			Rgt:      point + 1,
			Depth:    depth,
		}
		if err := tx.Omit("User").Create(&comment).Error; err != nil {
			return fmt.Errorf("failed to create comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.metrics.TreeOperations.WithLabelValues("insert").Inc()

	if t.notifier != nil {
		t.notifier.Reply(ctx, &comment)
		t.notifier.Mentions(ctx, authorID, body, postID, &comment.ID)
	}

	return &comment, nil
}

// Get returns a single comment.
func (t *Tree) Get(ctx context.Context, nodeID int) (*models.Comment, error) {
	var c models.Comment
	err := t.tx.DB(ctx).Take(&c, nodeID).Error
	if database.NotFound(err) {
		return nil, apperrors.NotFound("comment %d not found", nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load comment: %w", err)
	}
	return &c, nil
}

// FetchSubtree returns the descendants of nodeID at most maxDepth levels below
// it, in range order. Nodes at the cutoff that have replies are flagged HasMore.
func (t *Tree) FetchSubtree(ctx context.Context, nodeID, maxDepth int) ([]Node, error) {
	if maxDepth < 1 {
		return nil, apperrors.Validation("max depth must be at least 1, got %d", maxDepth)
	}

	db := t.tx.DB(ctx)

	var root models.Comment
	err := db.Select("id", "post_id", "lft", "rgt", "depth").Take(&root, nodeID).Error
	if database.NotFound(err) {
		return nil, apperrors.NotFound("comment %d not found", nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load comment: %w", err)
	}

	cutoff := root.Depth + maxDepth

	var rows []models.Comment
	err = withAuthor(db).
		Where("post_id = ? AND lft > ? AND lft < ? AND depth <= ?", root.PostID, root.Lft, root.Rgt, cutoff).
		Order("lft").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subtree: %w", err)
	}

	return toNodes(rows, cutoff), nil
}

// FetchThread returns the post's comments down to maxDepth levels (roots are
// the first level), in range order, with the same HasMore cutoff as FetchSubtree.
func (t *Tree) FetchThread(ctx context.Context, postID, maxDepth int) ([]Node, error) {
	if maxDepth < 1 {
		return nil, apperrors.Validation("max depth must be at least 1, got %d", maxDepth)
	}

	db := t.tx.DB(ctx)

	var post models.Post
	err := db.Select("id").Take(&post, postID).Error
	if database.NotFound(err) {
		return nil, apperrors.NotFound("post %d not found", postID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}

	cutoff := maxDepth - 1

	var rows []models.Comment
	err = withAuthor(db).
		Where("post_id = ? AND depth <= ?", postID, cutoff).
		Order("lft").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread: %w", err)
	}

	return toNodes(rows, cutoff), nil
}

// DeleteSubtree removes the comment, all its replies and their votes, then
// closes the gap in the post's range space. It returns how many comments
// were removed.
func (t *Tree) DeleteSubtree(ctx context.Context, nodeID int) (int, error) {
	var head models.Comment
	err := t.tx.DB(ctx).Select("id", "post_id").Take(&head, nodeID).Error
	if database.NotFound(err) {
		return 0, apperrors.NotFound("comment %d not found", nodeID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load comment: %w", err)
	}

	var removed int
	err = t.tx.InTx(ctx, "delete_comment", func(tx *gorm.DB) error {
		if err := lockTree(tx, head.PostID); err != nil {
			return err
		}

		// Positions may have moved between the read above and the lock.
		var node models.Comment
		err := tx.Select("id", "post_id", "lft", "rgt").Take(&node, nodeID).Error
		if database.NotFound(err) {
			return apperrors.NotFound("comment %d not found", nodeID)
		}
		if err != nil {
			return fmt.Errorf("failed to load comment: %w", err)
		}

		var ids []int
		err = tx.Model(&models.Comment{}).
			Where("post_id = ? AND lft BETWEEN ? AND ?", node.PostID, node.Lft, node.Rgt).
			Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("failed to collect subtree: %w", err)
		}

		err = tx.Where("target_kind = ? AND target_id IN ?", models.TargetComment, ids).
			Delete(&models.Vote{}).Error
		if err != nil {
			return fmt.Errorf("failed to delete subtree votes: %w", err)
		}

		err = tx.Where("id IN ?", ids).Delete(&models.Comment{}).Error
		if err != nil {
			return fmt.Errorf("failed to delete subtree: %w", err)
		}

		width := node.Rgt - node.Lft + 1
		if err := shift(tx, node.PostID, node.Rgt+1, -width); err != nil {
			return err
		}

		removed = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}

	t.metrics.TreeOperations.WithLabelValues("delete").Inc()
	t.log.Debug("Comment subtree deleted",
		zap.Int("comment_id", nodeID),
		zap.Int("post_id", head.PostID),
		zap.Int("removed", removed))

	return removed, nil
}

// lockTree locks the post row for the rest of the transaction. Every tree
// write of a post goes through it, so range renumbering never interleaves.
func lockTree(tx *gorm.DB, postID int) error {
	var post models.Post
	err := database.ForUpdate(tx).Select("id").Take(&post, postID).Error
	if database.NotFound(err) {
		return apperrors.NotFound("post %d not found", postID)
	}
	if err != nil {
		return fmt.Errorf("failed to load post: %w", err)
	}
	return nil
}

// shift moves every boundary at or after from by delta within the post.
func shift(tx *gorm.DB, postID, from, delta int) error {
	for _, col := range []string{"lft", "rgt"} {
		err := tx.Model(&models.Comment{}).
			Where("post_id = ? AND "+col+" >= ?", postID, from).
			UpdateColumn(col, gorm.Expr(col+" + ?", delta)).Error
		if err != nil {
			return fmt.Errorf("failed to shift %s: %w", col, err)
		}
	}
	return nil
}

func withAuthor(db *gorm.DB) *gorm.DB {
	return db.Preload("User", func(db *gorm.DB) *gorm.DB {
		return db.Select("id", "username", "avatar", "karma")
	})
}

func toNodes(rows []models.Comment, cutoff int) []Node {
	nodes := make([]Node, len(rows))
	for i, c := range rows {
		nodes[i] = Node{
			Comment: c,
			HasMore: c.Depth == cutoff && c.HasDescendants(),
		}
	}
	return nodes
}
