package report

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/auth"
	"github.com/good-yellow-bee/blazereport/internal/content"
	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/metrics"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
	"github.com/good-yellow-bee/blazereport/internal/storage"
)

// ExecutorResolver resolves the identity a schedule runs as.
type ExecutorResolver interface {
	Resolve(ctx context.Context, s *models.Schedule) (*auth.Identity, error)
}

// Request identifies one execution.
type Request struct {
	ScheduleID int64
	// ExecutionID is generated when empty.
	ExecutionID string
	ScheduledAt time.Time
}

// Command loads a schedule, resolves its executor and runs the machine.
type Command struct {
	schedules storage.ScheduleRepository
	executors ExecutorResolver
	machine   *Machine
	features  content.Features
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewCommand creates a Command.
func NewCommand(schedules storage.ScheduleRepository, executors ExecutorResolver, machine *Machine, features content.Features, logger *zap.SugaredLogger) *Command {
	return &Command{
		schedules: schedules,
		executors: executors,
		machine:   machine,
		features:  features,
		now:       time.Now,
		logger:    logging.OrNop(logger).With(logging.FieldComponent, "command"),
	}
}

// Run executes the schedule once. Errors outside the execution taxonomy are
// returned as Unexpected.
func (c *Command) Run(ctx context.Context, req Request) error {
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	if req.ScheduledAt.IsZero() {
		req.ScheduledAt = c.now().UTC()
	}

	start := time.Now()
	typ, err := c.run(ctx, req)

	result := "ok"
	if err != nil {
		result = reporterr.KindOf(err).String()
	}
	metrics.ExecutionsTotal.WithLabelValues(typ, result).Inc()
	metrics.ExecutionDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())

	log := c.logger.With(
		logging.FieldScheduleID, req.ScheduleID,
		logging.FieldExecutionID, req.ExecutionID,
		logging.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	if err != nil {
		log.Warnw("report schedule execution failed", "kind", result, logging.FieldError, err)
	} else {
		log.Infow("report schedule executed")
	}
	return err
}

func (c *Command) run(ctx context.Context, req Request) (string, error) {
	s, err := c.schedules.GetByID(ctx, req.ScheduleID)
	if err != nil {
		return "unknown", unexpected(err)
	}
	if s == nil {
		return "unknown", reporterr.New(reporterr.NotFound)
	}
	typ := string(s.Type)

	id, err := c.executors.Resolve(ctx, s)
	if err != nil {
		return typ, unexpected(err)
	}
	c.logger.Infow("running report schedule",
		logging.FieldScheduleID, s.ID,
		logging.FieldExecutionID, req.ExecutionID,
		logging.FieldExecutor, id.User.Username,
	)

	rc := RunContext{
		ExecutionID: req.ExecutionID,
		ScheduledAt: req.ScheduledAt,
		Executor:    id.User,
		Credentials: content.Credentials{Username: id.User.Username, Token: id.Token},
		Features:    c.features,
		Now:         c.now,
	}
	return typ, unexpected(c.machine.Run(ctx, *s, rc))
}

// unexpected wraps errors that carry no execution kind.
func unexpected(err error) error {
	if err == nil || reporterr.KindOf(err) != reporterr.Unknown {
		return err
	}
	return reporterr.Wrap(reporterr.Unexpected, err, err.Error())
}
