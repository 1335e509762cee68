package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/metrics"
)

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 50 * time.Millisecond
	defaultMaxInterval     = 500 * time.Millisecond
)

// IsConflict reports whether err is transaction contention that a fresh
// attempt may resolve.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available (lock_timeout)
		"23505": // unique_violation, two first votes racing on the same key
		return true
	}
	return false
}

// Transactor runs units of work in transactions bounded by a lock timeout and
// retries them on conflict.
type Transactor struct {
	db          *gorm.DB
	lockTimeout time.Duration
	maxAttempts uint64
	initial     time.Duration
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func NewTransactor(db *gorm.DB, lockTimeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Transactor {
	return &Transactor{
		db:          db,
		lockTimeout: lockTimeout,
		maxAttempts: defaultMaxAttempts,
		initial:     defaultInitialInterval,
		metrics:     m,
		log:         log,
	}
}

// DB returns the underlying handle for reads outside a transaction.
func (t *Transactor) DB(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx)
}

// InTx runs fn in one transaction. Conflicts are retried up to three attempts in
// total with exponential backoff and then surface as an apperrors conflict. Any
// other error aborts immediately and is returned unchanged.
func (t *Transactor) InTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(t.initial),
		backoff.WithMaxInterval(defaultMaxInterval),
		backoff.WithMaxElapsedTime(0),
	), t.maxAttempts-1)

	var lastConflict error
	attempt := 0

	err := backoff.Retry(func() error {
		attempt++
		err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", t.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
			return fn(tx)
		})
		if err == nil {
			return nil
		}
		if !IsConflict(err) {
			return backoff.Permanent(err)
		}

		lastConflict = err
		t.countConflict(op, "retried")
		t.log.Debug("Transaction conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, backoff.WithContext(b, ctx))

	if err != nil && lastConflict != nil && IsConflict(err) {
		t.countConflict(op, "exhausted")
		return apperrors.Conflict(fmt.Sprintf("%s: transaction contended, retry later", op), lastConflict).
			With("attempts", attempt)
	}
	return err
}

func (t *Transactor) countConflict(op, outcome string) {
	if t.metrics != nil {
		t.metrics.TransactionConflicts.WithLabelValues(op, outcome).Inc()
	}
}

// ForUpdate adds a row lock to the query.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// NotFound reports whether err is gorm's record-not-found.
func NotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
