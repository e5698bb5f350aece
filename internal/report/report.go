// Package report runs one execution of a report or alert schedule: it picks
// the handler for the schedule's last state, moves the schedule through
// Working to its next state, and records every step in the execution log.
package report

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/alerting"
	"github.com/good-yellow-bee/blazereport/internal/content"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/storage"
)

// ContentProducer builds notification content for a schedule snapshot.
type ContentProducer interface {
	Produce(ctx context.Context, s models.Schedule, opts content.Options) (*content.Content, error)
	ErrorContent(ctx context.Context, s models.Schedule, opts content.Options, name, text string) *content.Content
}

// AlertEvaluator decides whether an alert fired.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, s models.Schedule, executionID string) (alerting.Result, error)
}

// Sender delivers content to recipients and aggregates failures.
type Sender interface {
	Send(ctx context.Context, c *content.Content, recipients []models.Recipient) error
}

// Deps are the collaborators shared by every execution.
type Deps struct {
	Schedules storage.ScheduleRepository
	Logs      storage.ExecutionLogRepository
	Content   ContentProducer
	Evaluator AlertEvaluator
	Notifier  Sender
	// ErrorNotifyTimeout bounds an error notification, which may be sent
	// after the run context has expired.
	ErrorNotifyTimeout time.Duration
	Logger             *zap.SugaredLogger
}

// RunContext carries the per-execution inputs.
type RunContext struct {
	ExecutionID string
	ScheduledAt time.Time
	Executor    *models.User
	Credentials content.Credentials
	Features    content.Features
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (rc RunContext) now() time.Time {
	if rc.Now != nil {
		return rc.Now().UTC()
	}
	return time.Now().UTC()
}

func (rc RunContext) contentOptions() content.Options {
	return content.Options{
		ExecutionID: rc.ExecutionID,
		Credentials: rc.Credentials,
		Features:    rc.Features,
	}
}
