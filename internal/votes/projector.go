package votes

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/metrics"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

// Counts are the denormalized vote counters of one target.
type Counts struct {
	Upvotes   int `gorm:"column:upvote_count" json:"upvotes"`
	Downvotes int `gorm:"column:downvote_count" json:"downvotes"`
}

// Score is upvotes minus downvotes.
func (c Counts) Score() int {
	return c.Upvotes - c.Downvotes
}

// Delta is a signed change to a target's counters.
type Delta struct {
	Up   int
	Down int
}

// bucket returns the delta that moves n votes into value's bucket.
func bucket(value, n int) Delta {
	if value > 0 {
		return Delta{Up: n}
	}
	return Delta{Down: n}
}

func (d Delta) add(o Delta) Delta {
	return Delta{Up: d.Up + o.Up, Down: d.Down + o.Down}
}

// Projector keeps the per-target counters derived from the vote ledger.
type Projector struct {
	tx      *database.Transactor
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewProjector(tx *database.Transactor, m *metrics.Metrics, log *zap.Logger) *Projector {
	return &Projector{tx: tx, metrics: m, log: log}
}

// Apply adds d to the target's counters on the caller's transaction and returns
// the new values. Each counter is clamped at zero: a decrement below zero is
// silently dropped, which can leave the counter under the ledger count until
// Recount runs.
func (p *Projector) Apply(tx *gorm.DB, kind models.TargetKind, targetID int, d Delta) (Counts, error) {
	var c Counts
	query := fmt.Sprintf(
		`UPDATE %s
		    SET upvote_count = GREATEST(upvote_count + ?, 0),
		        downvote_count = GREATEST(downvote_count + ?, 0)
		  WHERE id = ?
		RETURNING upvote_count, downvote_count`, kind.Table())

	res := tx.Raw(query, d.Up, d.Down, targetID).Scan(&c)
	if res.Error != nil {
		return Counts{}, fmt.Errorf("failed to apply counter delta: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Counts{}, apperrors.NotFound("%s %d not found", kind, targetID)
	}
	return c, nil
}

// Recount rebuilds the target's counters from the ledger and overwrites the
// stored values. It is idempotent. Divergence found on the way is logged as a
// consistency error but does not fail the call.
func (p *Projector) Recount(ctx context.Context, kind models.TargetKind, targetID int) (Counts, error) {
	c, _, err := p.recount(ctx, kind, targetID)
	return c, err
}

func (p *Projector) recount(ctx context.Context, kind models.TargetKind, targetID int) (Counts, bool, error) {
	if !kind.Valid() {
		return Counts{}, false, apperrors.Validation("unknown target kind %q", kind)
	}

	var (
		fresh   Counts
		drifted bool
	)
	err := p.tx.InTx(ctx, "recount", func(tx *gorm.DB) error {
		var stored Counts
		err := database.ForUpdate(tx).Table(kind.Table()).
			Select("upvote_count", "downvote_count").
			Where("id = ?", targetID).
			Take(&stored).Error
		if database.NotFound(err) {
			return apperrors.NotFound("%s %d not found", kind, targetID)
		}
		if err != nil {
			return fmt.Errorf("failed to load counters: %w", err)
		}

		fresh, err = countLedger(tx, kind, targetID)
		if err != nil {
			return err
		}

		if fresh == stored {
			return nil
		}
		drifted = true

		return tx.Table(kind.Table()).Where("id = ?", targetID).Updates(map[string]any{
			"upvote_count":   fresh.Upvotes,
			"downvote_count": fresh.Downvotes,
		}).Error
	})
	if err != nil {
		return Counts{}, false, err
	}

	if drifted {
		p.metrics.CounterDrift.WithLabelValues(string(kind)).Inc()
		p.log.Warn("Counters diverged from vote ledger, repaired",
			zap.Error(apperrors.Consistency("%s %d counters diverged from ledger", kind, targetID)),
			zap.String("kind", string(kind)),
			zap.Int("target_id", targetID),
			zap.Int("upvotes", fresh.Upvotes),
			zap.Int("downvotes", fresh.Downvotes))
	}
	return fresh, drifted, nil
}

// Verify compares the stored counters with the ledger without changing them.
// It returns a consistency error when they differ.
func (p *Projector) Verify(ctx context.Context, kind models.TargetKind, targetID int) error {
	if !kind.Valid() {
		return apperrors.Validation("unknown target kind %q", kind)
	}

	db := p.tx.DB(ctx)

	var stored Counts
	err := db.Table(kind.Table()).
		Select("upvote_count", "downvote_count").
		Where("id = ?", targetID).
		Take(&stored).Error
	if database.NotFound(err) {
		return apperrors.NotFound("%s %d not found", kind, targetID)
	}
	if err != nil {
		return fmt.Errorf("failed to load counters: %w", err)
	}

	fresh, err := countLedger(db, kind, targetID)
	if err != nil {
		return err
	}
	if fresh != stored {
		return apperrors.Consistency("%s %d counters diverged from ledger", kind, targetID).
			With("stored_upvotes", stored.Upvotes).
			With("stored_downvotes", stored.Downvotes).
			With("ledger_upvotes", fresh.Upvotes).
			With("ledger_downvotes", fresh.Downvotes)
	}
	return nil
}

// RecountAll recounts every target of kind and returns how many needed repair.
func (p *Projector) RecountAll(ctx context.Context, kind models.TargetKind) (int, error) {
	if !kind.Valid() {
		return 0, apperrors.Validation("unknown target kind %q", kind)
	}

	var ids []int
	if err := p.tx.DB(ctx).Table(kind.Table()).Order("id").Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("failed to list %s ids: %w", kind, err)
	}

	repaired := 0
	for _, id := range ids {
		_, drifted, err := p.recount(ctx, kind, id)
		if apperrors.IsNotFound(err) {
			continue // deleted since listing
		}
		if err != nil {
			return repaired, err
		}
		if drifted {
			repaired++
		}
	}
	return repaired, nil
}

func countLedger(db *gorm.DB, kind models.TargetKind, targetID int) (Counts, error) {
	var c Counts
	err := db.Model(&models.Vote{}).
		Select(
			"COUNT(*) FILTER (WHERE value = 1) AS upvote_count",
			"COUNT(*) FILTER (WHERE value = -1) AS downvote_count",
		).
		Where("target_kind = ? AND target_id = ?", kind, targetID).
		Scan(&c).Error
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count ledger: %w", err)
	}
	return c, nil
}
