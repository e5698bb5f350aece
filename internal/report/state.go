package report

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/metrics"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

// gracePeriodMessage is logged when an alert fires again inside its grace
// period.
const gracePeriodMessage = "Alert fired during grace period."

// handler advances a schedule from one group of states.
type handler interface {
	next(ctx context.Context) error
}

// baseState holds what every handler needs. s is a private snapshot whose
// cursor tracks the last persisted step of this execution.
type baseState struct {
	deps   *Deps
	s      models.Schedule
	rc     RunContext
	start  time.Time
	logger *zap.SugaredLogger
}

// updateStateAndLog persists the next cursor and its log entry atomically.
// The write is conditional on the state and version this execution last
// saw, so any step persisted by another execution in between, even one
// that ended in the same state, makes it fail with a Conflict error.
// Entering Working clears the last observed alert values.
func (b *baseState) updateStateAndLog(ctx context.Context, state models.ReportState, errorMessage string) error {
	now := b.rc.now()
	next := b.s.Cursor
	next.LastState = state
	next.LastEvalAt = &now
	next.Version = b.s.Version + 1
	if state == models.StateWorking {
		next.LastValue = nil
		next.LastValueRowJSON = nil
	}

	entry := &models.ExecutionLog{
		ID:           uuid.NewString(),
		ScheduleID:   b.s.ID,
		ExecutionID:  b.rc.ExecutionID,
		ScheduledAt:  b.rc.ScheduledAt,
		StartAt:      b.start,
		EndAt:        now,
		State:        state,
		ErrorMessage: errorMessage,
		Value:        next.LastValue,
		ValueRowJSON: next.LastValueRowJSON,
	}

	// A step that started must be recorded even if the run was cancelled.
	if err := b.deps.Schedules.UpdateStateAndLog(context.WithoutCancel(ctx), b.s.ID, b.s.Cursor, next, entry); err != nil {
		return errors.Wrapf(err, "record state %s", state)
	}
	b.s.Cursor = next
	metrics.StateTransitionsTotal.WithLabelValues(string(state)).Inc()

	b.logger.Infow("state recorded",
		logging.FieldState, state,
		"error_message", errorMessage,
	)
	return nil
}

// alertFired evaluates the alert and keeps its observed value for the next
// persisted step.
func (b *baseState) alertFired(ctx context.Context) (bool, error) {
	res, err := b.deps.Evaluator.Evaluate(ctx, b.s.Clone(), b.rc.ExecutionID)
	if err != nil {
		return false, err
	}
	b.s.LastValue = res.Value
	b.s.LastValueRowJSON = res.RowJSON
	return res.Fired, nil
}

// send produces the content and delivers it to all recipients. Nothing is
// delivered once another execution has taken the schedule over.
func (b *baseState) send(ctx context.Context) error {
	c, err := b.deps.Content.Produce(ctx, b.s.Clone(), b.rc.contentOptions())
	if err != nil {
		return err
	}
	if err := b.stillHeld(ctx); err != nil {
		return err
	}
	return b.deps.Notifier.Send(ctx, c, b.s.Recipients)
}

// stillHeld returns a Conflict error when the stored cursor moved past the
// last step this execution persisted.
func (b *baseState) stillHeld(ctx context.Context) error {
	cur, err := b.deps.Schedules.GetByID(ctx, b.s.ID)
	if err != nil {
		return errors.Wrap(err, "reload schedule")
	}
	if cur == nil || cur.LastState != b.s.LastState || cur.Version != b.s.Version {
		return reporterr.Newf(reporterr.Conflict,
			"Report Schedule %d was taken over by another execution.", b.s.ID)
	}
	return nil
}

// sendError notifies the owners by email. It runs on a fresh deadline so a
// run that failed by timing out can still report it.
func (b *baseState) sendError(ctx context.Context, name, message string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.deps.ErrorNotifyTimeout)
	defer cancel()

	c := b.deps.Content.ErrorContent(ctx, b.s.Clone(), b.rc.contentOptions(), name, message)
	recipients := make([]models.Recipient, 0, len(b.s.Owners))
	for _, owner := range b.s.Owners {
		if owner.Email == "" {
			continue
		}
		recipients = append(recipients, models.Recipient{
			ScheduleID: b.s.ID,
			Type:       models.RecipientEmail,
			Config:     models.RecipientConfig{Target: owner.Email},
		})
	}
	return b.deps.Notifier.Send(ctx, c, recipients)
}

func (b *baseState) errorNotificationName() string {
	return fmt.Sprintf("Error occurred for %s: %s", b.s.Type, b.s.Name)
}

// inGracePeriod reports whether the last success ended less than the grace
// period ago.
func (b *baseState) inGracePeriod(ctx context.Context) (bool, error) {
	last, err := b.deps.Logs.FindLastSuccess(ctx, b.s.ID)
	if err != nil {
		return false, err
	}
	return last != nil && b.s.GracePeriod > 0 &&
		b.rc.now().Add(-b.s.GracePeriod).Before(last.EndAt), nil
}

// inErrorGracePeriod reports whether an error notification went out less
// than the grace period ago.
func (b *baseState) inErrorGracePeriod(ctx context.Context) (bool, error) {
	last, err := b.deps.Logs.FindLastErrorNotification(ctx, b.s.ID)
	if err != nil {
		return false, err
	}
	return last != nil && b.s.GracePeriod > 0 &&
		b.rc.now().Add(-b.s.GracePeriod).Before(last.EndAt), nil
}

// onWorkingTimeout reports whether the execution that entered Working has
// been gone for longer than the working timeout.
func (b *baseState) onWorkingTimeout(ctx context.Context) (bool, error) {
	last, err := b.deps.Logs.FindLastEnteredWorking(ctx, b.s.ID)
	if err != nil {
		return false, err
	}
	return last != nil && b.s.WorkingTimeout > 0 && b.s.LastEvalAt != nil &&
		b.rc.now().Add(-b.s.WorkingTimeout).After(last.EndAt), nil
}
