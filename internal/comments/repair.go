package comments

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

// Rebuild recomputes lft, rgt and depth of every comment of the post from
// parent_id and creation order. It returns how many rows changed.
func (t *Tree) Rebuild(ctx context.Context, postID int) (int, error) {
	var changed int
	err := t.tx.InTx(ctx, "rebuild_tree", func(tx *gorm.DB) error {
		if err := lockTree(tx, postID); err != nil {
			return err
		}

		var rows []models.Comment
		err := tx.Select("id", "parent_id", "lft", "rgt", "depth").
			Where("post_id = ?", postID).
			Order("created_at, id").
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to load comments: %w", err)
		}

		changed = 0
		for _, c := range renumber(rows) {
			err := tx.Model(&models.Comment{}).
				Where("id = ?", c.ID).
				UpdateColumns(map[string]any{"lft": c.Lft, "rgt": c.Rgt, "depth": c.Depth}).Error
			if err != nil {
				return fmt.Errorf("failed to update comment %d: %w", c.ID, err)
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	t.metrics.TreeOperations.WithLabelValues("rebuild").Inc()
	t.log.Info("Comment tree rebuilt", zap.Int("post_id", postID), zap.Int("changed", changed))
	return changed, nil
}

// renumber assigns positions by a depth-first walk in the given order and
// returns the comments whose stored position differs. A comment whose parent
// is not among rows is treated as a root.
func renumber(rows []models.Comment) []models.Comment {
	known := make(map[int]bool, len(rows))
	for _, c := range rows {
		known[c.ID] = true
	}

	children := make(map[int][]int, len(rows))
	var roots []int
	byID := make(map[int]*models.Comment, len(rows))
	for i := range rows {
		c := &rows[i]
		byID[c.ID] = c
		if c.ParentID != nil && known[*c.ParentID] {
			children[*c.ParentID] = append(children[*c.ParentID], c.ID)
		} else {
			roots = append(roots, c.ID)
		}
	}

	type frame struct {
		id    int
		depth int
		next  int
	}

	var changed []models.Comment
	counter := 1
	for _, root := range roots {
		stack := []frame{{id: root}}
		lft := map[int]int{root: counter}
		counter++

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			kids := children[top.id]
			if top.next < len(kids) {
				child := kids[top.next]
				top.next++
				lft[child] = counter
				counter++
				stack = append(stack, frame{id: child, depth: top.depth + 1})
				continue
			}

			c := byID[top.id]
			want := models.Comment{ID: c.ID, Lft: lft[c.ID], Rgt: counter, Depth: top.depth}
			counter++
			if c.Lft != want.Lft || c.Rgt != want.Rgt || c.Depth != want.Depth {
				changed = append(changed, want)
			}
			stack = stack[:len(stack)-1]
		}
	}
	return changed
}

// Validate checks the range invariants of the post's tree and returns a
// consistency error describing the first violation.
func (t *Tree) Validate(ctx context.Context, postID int) error {
	var rows []models.Comment
	err := t.tx.DB(ctx).
		Select("id", "parent_id", "lft", "rgt", "depth").
		Where("post_id = ?", postID).
		Order("lft").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to load comments: %w", err)
	}

	if err := checkRanges(rows); err != nil {
		return apperrors.AsStructured(err).With("post_id", postID)
	}
	return nil
}

// checkRanges expects rows ordered by lft.
func checkRanges(rows []models.Comment) error {
	seen := make(map[int]int, 2*len(rows))
	for _, c := range rows {
		if c.Rgt <= c.Lft {
			return apperrors.Consistency("comment %d has an empty range [%d, %d]", c.ID, c.Lft, c.Rgt).
				With("comment_id", c.ID)
		}
		for _, v := range []int{c.Lft, c.Rgt} {
			if v < 1 || v > 2*len(rows) {
				return apperrors.Consistency("comment %d has position %d outside 1..%d", c.ID, v, 2*len(rows)).
					With("comment_id", c.ID)
			}
			if other, dup := seen[v]; dup {
				return apperrors.Consistency("comments %d and %d share position %d", other, c.ID, v).
					With("comment_id", c.ID)
			}
			seen[v] = c.ID
		}
	}

	var open []models.Comment
	for _, c := range rows {
		for len(open) > 0 && open[len(open)-1].Rgt < c.Lft {
			open = open[:len(open)-1]
		}

		if len(open) == 0 {
			if c.ParentID != nil {
				return apperrors.Consistency("comment %d is outside the range of its parent %d", c.ID, *c.ParentID).
					With("comment_id", c.ID)
			}
		} else {
			parent := open[len(open)-1]
			if c.Rgt > parent.Rgt {
				return apperrors.Consistency("comment %d overlaps comment %d", c.ID, parent.ID).
					With("comment_id", c.ID)
			}
			if c.ParentID == nil || *c.ParentID != parent.ID {
				return apperrors.Consistency("comment %d is nested under %d, not its parent", c.ID, parent.ID).
					With("comment_id", c.ID)
			}
		}

		if c.Depth != len(open) {
			return apperrors.Consistency("comment %d has depth %d, expected %d", c.ID, c.Depth, len(open)).
				With("comment_id", c.ID)
		}
		open = append(open, c)
	}
	return nil
}
