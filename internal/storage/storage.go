// Package storage persists schedules, their recipients and owners, and the
// append-only execution log.
package storage

import (
	"context"
	"time"

	"github.com/good-yellow-bee/blazereport/internal/models"
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open(ctx context.Context) error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	Schedules() ScheduleRepository
	ExecutionLogs() ExecutionLogRepository
	Users() UserRepository
}

// ScheduleRepository defines operations on report schedules.
type ScheduleRepository interface {
	Create(ctx context.Context, s *models.Schedule) error
	// GetByID returns nil, nil when the schedule does not exist.
	GetByID(ctx context.Context, id int64) (*models.Schedule, error)
	List(ctx context.Context) ([]*models.Schedule, error)
	ListActive(ctx context.Context) ([]*models.Schedule, error)
	// UpdateStateAndLog moves the schedule cursor from expected to next and
	// appends entry in one transaction. The stored version becomes
	// expected.Version+1. If the stored state or version no longer match
	// expected nothing is written and a reporterr.Conflict error is returned.
	UpdateStateAndLog(ctx context.Context, id int64, expected, next models.Cursor, entry *models.ExecutionLog) error
	UpdateRecipient(ctx context.Context, r *models.Recipient) error
}

// ExecutionLogRepository defines lookups over the execution log.
type ExecutionLogRepository interface {
	// FindLastSuccess returns the most recent Success entry, or nil.
	FindLastSuccess(ctx context.Context, scheduleID int64) (*models.ExecutionLog, error)
	// FindLastEnteredWorking returns the most recent Working entry without an
	// error message, or nil.
	FindLastEnteredWorking(ctx context.Context, scheduleID int64) (*models.ExecutionLog, error)
	// FindLastErrorNotification returns the most recent entry carrying the
	// error notification marker, or nil if a non-error, non-working entry
	// has ended since.
	FindLastErrorNotification(ctx context.Context, scheduleID int64) (*models.ExecutionLog, error)
	List(ctx context.Context, scheduleID int64, limit int) ([]*models.ExecutionLog, error)
	ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionLog, error)
	// DeleteBefore removes entries of the schedule that ended before cutoff
	// and returns how many were removed. While the schedule is Working, the
	// entry that entered Working is kept.
	DeleteBefore(ctx context.Context, scheduleID int64, cutoff time.Time) (int64, error)
}

// UserRepository defines operations for user management.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
}
