package report

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

// idleOrErrorState handles schedules that never ran, did not fire, or
// failed last time.
type idleOrErrorState struct {
	baseState
}

func (st *idleOrErrorState) next(ctx context.Context) error {
	if err := st.updateStateAndLog(ctx, models.StateWorking, ""); err != nil {
		return err
	}

	runErr := st.run(ctx)
	if runErr == nil {
		return nil
	}

	// The failure is recorded even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := st.updateStateAndLog(ctx, models.StateError, runErr.Error()); err != nil {
		return errors.WithSecondaryError(runErr, err)
	}

	inGrace, err := st.inErrorGracePeriod(ctx)
	if err != nil {
		return errors.WithSecondaryError(runErr, err)
	}
	if !inGrace {
		// The last Error entry says whether the owners were told.
		message := models.ErrorNotificationMarker
		if err := st.sendError(ctx, st.errorNotificationName(), runErr.Error()); err != nil {
			st.logger.Warnw("error notification failed", logging.FieldError, err)
			message = err.Error()
		}
		if err := st.updateStateAndLog(ctx, models.StateError, message); err != nil {
			return errors.WithSecondaryError(runErr, err)
		}
	}
	return runErr
}

func (st *idleOrErrorState) run(ctx context.Context) error {
	if st.s.IsAlert() {
		fired, err := st.alertFired(ctx)
		if err != nil {
			return err
		}
		if !fired {
			return st.updateStateAndLog(ctx, models.StateIdle, "")
		}
	}
	if err := st.send(ctx); err != nil {
		return err
	}
	return st.updateStateAndLog(ctx, models.StateSuccess, "")
}

// workingState handles a schedule another execution still holds. It never
// does work itself: it either reclaims a timed out schedule into Error or
// refuses to run.
type workingState struct {
	baseState
}

func (st *workingState) next(ctx context.Context) error {
	timedOut, err := st.onWorkingTimeout(ctx)
	if err != nil {
		return err
	}
	if timedOut {
		timeoutErr := reporterr.New(reporterr.PreviousWorkingTimeout)
		if err := st.updateStateAndLog(ctx, models.StateError, timeoutErr.Error()); err != nil {
			return errors.WithSecondaryError(timeoutErr, err)
		}
		return timeoutErr
	}

	conflictErr := reporterr.New(reporterr.PreviousWorkingConflict)
	if err := st.updateStateAndLog(ctx, models.StateWorking, conflictErr.Error()); err != nil {
		return errors.WithSecondaryError(conflictErr, err)
	}
	return conflictErr
}

// successOrGraceState handles schedules whose last run delivered. Alerts
// inside their grace period are not evaluated. A failed delivery is logged
// as Error but not returned.
type successOrGraceState struct {
	baseState
}

func (st *successOrGraceState) next(ctx context.Context) error {
	if st.s.IsAlert() {
		inGrace, err := st.inGracePeriod(ctx)
		if err != nil {
			return err
		}
		if inGrace {
			return st.updateStateAndLog(ctx, models.StateGrace, gracePeriodMessage)
		}

		if err := st.updateStateAndLog(ctx, models.StateWorking, ""); err != nil {
			return err
		}
		fired, evalErr := st.alertFired(ctx)
		if evalErr != nil {
			return st.failEvaluation(ctx, evalErr)
		}
		if !fired {
			return st.updateStateAndLog(ctx, models.StateIdle, "")
		}
	}

	if err := st.send(ctx); err != nil {
		st.logger.Warnw("delivery failed after previous success", logging.FieldError, err)
		return st.updateStateAndLog(ctx, models.StateError, err.Error())
	}
	return st.updateStateAndLog(ctx, models.StateSuccess, "")
}

// failEvaluation notifies the owners of a failed re-evaluation and records
// the outcome. The evaluation error is always returned.
func (st *successOrGraceState) failEvaluation(ctx context.Context, evalErr error) error {
	message := models.ErrorNotificationMarker
	sendErr := st.sendError(ctx, st.errorNotificationName(), evalErr.Error())
	if sendErr != nil {
		st.logger.Warnw("error notification failed", logging.FieldError, sendErr)
		message = sendErr.Error()
	}
	if err := st.updateStateAndLog(ctx, models.StateError, message); err != nil {
		return errors.WithSecondaryError(evalErr, err)
	}
	if sendErr != nil {
		return errors.WithSecondaryError(evalErr, sendErr)
	}
	return evalErr
}
