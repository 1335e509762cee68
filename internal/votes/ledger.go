// Package votes holds the vote ledger and the counters projected from it.
package votes

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/metrics"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

// Result is what a cast did to the ledger and the counters it left behind.
type Result struct {
	Transition models.VoteTransition `json:"transition"`
	Upvotes    int                   `json:"upvotes"`
	Downvotes  int                   `json:"downvotes"`
	Score      int                   `json:"score"`
}

// Notifier is told about every committed cast. It must not fail the cast.
type Notifier interface {
	VoteCast(ctx context.Context, voterID int, kind models.TargetKind, targetID, value int, transition models.VoteTransition)
}

// Ledger is the authoritative one-vote-per-(voter, target) record.
type Ledger struct {
	tx        *database.Transactor
	projector *Projector
	notifier  Notifier
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewLedger(tx *database.Transactor, projector *Projector, notifier Notifier, m *metrics.Metrics, log *zap.Logger) *Ledger {
	return &Ledger{
		tx:        tx,
		projector: projector,
		notifier:  notifier,
		metrics:   m,
		log:       log,
	}
}

// CastVote records value for (voterID, kind, targetID). Casting the value the
// voter already holds retracts it; casting the opposite value flips it in place.
// The target row is locked for the whole transaction, so casts on one target
// serialize while casts on other targets proceed independently.
func (l *Ledger) CastVote(ctx context.Context, voterID int, kind models.TargetKind, targetID, value int) (*Result, error) {
	if value != 1 && value != -1 {
		return nil, apperrors.Validation("vote value must be 1 or -1, got %d", value)
	}
	if !kind.Valid() {
		return nil, apperrors.Validation("unknown target kind %q", kind)
	}

	start := time.Now()
	defer func() { l.metrics.VoteDuration.Observe(time.Since(start).Seconds()) }()

	var result Result
	err := l.tx.InTx(ctx, "cast_vote", func(tx *gorm.DB) error {
		var target struct{ ID int }
		err := database.ForUpdate(tx).Table(kind.Table()).
			Select("id").
			Where("id = ?", targetID).
			Take(&target).Error
		if database.NotFound(err) {
			return apperrors.NotFound("%s %d not found", kind, targetID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock %s: %w", kind, err)
		}

		transition, delta, err := l.transition(tx, voterID, kind, targetID, value)
		if err != nil {
			return err
		}

		counts, err := l.projector.Apply(tx, kind, targetID, delta)
		if err != nil {
			return err
		}

		result = Result{
			Transition: transition,
			Upvotes:    counts.Upvotes,
			Downvotes:  counts.Downvotes,
			Score:      counts.Score(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.metrics.VoteTransitions.WithLabelValues(string(kind), string(result.Transition)).Inc()
	l.log.Debug("Vote cast",
		zap.Int("voter_id", voterID),
		zap.String("kind", string(kind)),
		zap.Int("target_id", targetID),
		zap.Int("value", value),
		zap.String("transition", string(result.Transition)))

	if l.notifier != nil {
		l.notifier.VoteCast(ctx, voterID, kind, targetID, value, result.Transition)
	}

	return &result, nil
}

// transition mutates the ledger row and returns the matching counter delta.
func (l *Ledger) transition(tx *gorm.DB, voterID int, kind models.TargetKind, targetID, value int) (models.VoteTransition, Delta, error) {
	var existing models.Vote
	err := tx.Where("voter_id = ? AND target_kind = ? AND target_id = ?", voterID, kind, targetID).
		Take(&existing).Error

	switch {
	case database.NotFound(err):
		vote := models.Vote{
			VoterID:    voterID,
			TargetKind: kind,
			TargetID:   targetID,
			Value:      value,
		}
		if err := tx.Create(&vote).Error; err != nil {
			return "", Delta{}, fmt.Errorf("failed to record vote: %w", err)
		}
		return models.VoteAdded, bucket(value, 1), nil

	case err != nil:
		return "", Delta{}, fmt.Errorf("failed to load vote: %w", err)

	case existing.Value == value:
		if err := tx.Delete(&existing).Error; err != nil {
			return "", Delta{}, fmt.Errorf("failed to remove vote: %w", err)
		}
		return models.VoteRemoved, bucket(value, -1), nil

	default:
		old := existing.Value
		if err := tx.Model(&existing).Update("value", value).Error; err != nil {
			return "", Delta{}, fmt.Errorf("failed to change vote: %w", err)
		}
		return models.VoteChanged, bucket(old, -1).add(bucket(value, 1)), nil
	}
}

// VoteOf returns the voter's current value on the target, or 0 without a vote.
func (l *Ledger) VoteOf(ctx context.Context, voterID int, kind models.TargetKind, targetID int) (int, error) {
	var vote models.Vote
	err := l.tx.DB(ctx).
		Where("voter_id = ? AND target_kind = ? AND target_id = ?", voterID, kind, targetID).
		Take(&vote).Error
	if database.NotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load vote: %w", err)
	}
	return vote.Value, nil
}
