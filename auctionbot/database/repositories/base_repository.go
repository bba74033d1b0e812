package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/config"
	"github.com/disgoorg/auction-bot/auctionbot/logger"
	"github.com/uptrace/bun"
)

// ErrConditionFailed is returned when a conditional write matched no row
// because another writer changed the row first.
var ErrConditionFailed = errors.New("conditional update matched no rows")

// BaseRepository provides common repository functionality
type BaseRepository struct {
	db             *bun.DB
	defaultTimeout time.Duration
	maxRetries     int
	retryDelay     time.Duration
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *bun.DB) *BaseRepository {
	return &BaseRepository{
		db:             db,
		defaultTimeout: config.DefaultQueryTimeout,
		maxRetries:     config.MaxBusyRetries,
		retryDelay:     config.BusyRetryDelay,
	}
}

// RepositoryError represents a repository-level error
type RepositoryError struct {
	Operation string
	Entity    string
	Err       error
}

func (re *RepositoryError) Error() string {
	return fmt.Sprintf("repository error during %s for %s: %v", re.Operation, re.Entity, re.Err)
}

func (re *RepositoryError) Unwrap() error {
	return re.Err
}

// NotFoundError represents an entity not found error
type NotFoundError struct {
	Entity string
	ID     any
}

func (nfe *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %v not found", nfe.Entity, nfe.ID)
}

// WithTimeout creates a context with the default timeout
func (br *BaseRepository) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, br.defaultTimeout)
}

// HandleErrorWithID standardizes error handling with specific ID
func (br *BaseRepository) HandleErrorWithID(operation, entity string, id any, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	if errors.Is(err, ErrConditionFailed) {
		return err
	}

	return &RepositoryError{
		Operation: operation,
		Entity:    entity,
		Err:       err,
	}
}

// Transaction runs fn in a transaction, retrying when SQLite reports the
// database as locked.
func (br *BaseRepository) Transaction(ctx context.Context, operation string, fn func(context.Context, bun.Tx) error) error {
	timeoutCtx, cancel := br.WithTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := br.retry(timeoutCtx, operation, func() error {
		return br.db.RunInTx(timeoutCtx, nil, fn)
	})
	observe(operation, start, err)
	return err
}

// Exec runs a single statement with the same retry policy as Transaction.
func (br *BaseRepository) Exec(ctx context.Context, operation string, fn func(context.Context) error) error {
	timeoutCtx, cancel := br.WithTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := br.retry(timeoutCtx, operation, func() error {
		return fn(timeoutCtx)
	})
	observe(operation, start, err)
	return err
}

// observe records the write. A lost conditional update is an expected race
// and is not reported as a failure.
func observe(operation string, start time.Time, err error) {
	if errors.Is(err, ErrConditionFailed) {
		err = nil
	}
	logger.LogQuery(operation, time.Since(start), err)
}

func (br *BaseRepository) retry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 0; attempt < br.maxRetries; attempt++ {
		if err = fn(); err == nil || !IsBusy(err) {
			return err
		}

		slog.Warn("Database busy, retrying",
			slog.String("type", "db"),
			slog.String("operation", operation),
			slog.Int("attempt", attempt+1))

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(br.retryDelay * time.Duration(attempt+1)):
		}
	}
	return err
}

// IsBusy reports whether err is SQLite's lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
