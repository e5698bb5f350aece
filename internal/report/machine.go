package report

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

// route binds a group of last states to its handler. The initial route also
// takes schedules that have never run.
type route struct {
	states  []models.ReportState
	initial bool
	build   func(baseState) handler
}

// routes are tried in order.
var routes = []route{
	{
		states: []models.ReportState{models.StateWorking},
		build:  func(b baseState) handler { return &workingState{b} },
	},
	{
		states:  []models.ReportState{models.StateIdle, models.StateError},
		initial: true,
		build:   func(b baseState) handler { return &idleOrErrorState{b} },
	},
	{
		states: []models.ReportState{models.StateSuccess, models.StateGrace},
		build:  func(b baseState) handler { return &successOrGraceState{b} },
	},
}

// Machine dispatches a schedule to the handler for its last state.
type Machine struct {
	deps   Deps
	logger *zap.SugaredLogger
}

// NewMachine creates a Machine.
func NewMachine(deps Deps) *Machine {
	if deps.ErrorNotifyTimeout <= 0 {
		deps.ErrorNotifyTimeout = time.Minute
	}
	deps.Logger = logging.OrNop(deps.Logger)
	return &Machine{deps: deps, logger: deps.Logger.With(logging.FieldComponent, "report")}
}

// Run executes one step of s. s is copied and never modified.
func (m *Machine) Run(ctx context.Context, s models.Schedule, rc RunContext) error {
	for _, r := range routes {
		if (s.LastState == models.StateNone && r.initial) || slices.Contains(r.states, s.LastState) {
			h := r.build(baseState{
				deps:  &m.deps,
				s:     s.Clone(),
				rc:    rc,
				start: rc.now(),
				logger: m.logger.With(
					logging.FieldScheduleID, s.ID,
					logging.FieldExecutionID, rc.ExecutionID,
				),
			})
			return h.next(ctx)
		}
	}
	return reporterr.Newf(reporterr.StateNotFound, "Report Schedule state %q not found.", string(s.LastState))
}
