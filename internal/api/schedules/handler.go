// Package schedules serves report schedules, their execution logs and
// manual runs.
package schedules

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/api/middleware"
	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/report"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
	"github.com/good-yellow-bee/blazereport/internal/storage"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

type errorResponse struct {
	Error errorBody `json:"error"`
	Data  any       `json:"data,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeNotFound      = "NOT_FOUND"
	errCodeInternalError = "INTERNAL_ERROR"
)

func (h *Handler) jsonError(w http.ResponseWriter, status int, code, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}, Data: data}); err != nil {
		h.logger.Warnw("json encode error", logging.FieldError, err)
	}
}

func (h *Handler) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		h.logger.Warnw("json encode error", logging.FieldError, err)
	}
}

// RecipientResponse is a recipient without its full config.
type RecipientResponse struct {
	Type   string `json:"type"`
	Target string `json:"target"`
}

// ScheduleResponse is the API view of a schedule.
type ScheduleResponse struct {
	ID                    int64               `json:"id"`
	Name                  string              `json:"name"`
	Description           string              `json:"description,omitempty"`
	Type                  string              `json:"type"`
	Active                bool                `json:"active"`
	Crontab               string              `json:"crontab"`
	Timezone              string              `json:"timezone,omitempty"`
	ChartID               int64               `json:"chart_id,omitempty"`
	DashboardID           int64               `json:"dashboard_id,omitempty"`
	ReportFormat          string              `json:"report_format"`
	Owners                []string            `json:"owners"`
	Recipients            []RecipientResponse `json:"recipients"`
	GracePeriodSeconds    int64               `json:"grace_period"`
	WorkingTimeoutSeconds int64               `json:"working_timeout"`
	LogRetentionDays      int                 `json:"log_retention"`
	LastState             string              `json:"last_state"`
	LastEvalAt            string              `json:"last_eval_dttm,omitempty"`
	LastValue             *float64            `json:"last_value,omitempty"`
	LastValueRowJSON      *string             `json:"last_value_row_json,omitempty"`
	CreatedAt             string              `json:"created_at"`
	UpdatedAt             string              `json:"updated_at"`
}

// LogResponse is one execution log entry.
type LogResponse struct {
	ID           string   `json:"id"`
	ExecutionID  string   `json:"execution_id"`
	State        string   `json:"state"`
	ScheduledAt  string   `json:"scheduled_dttm"`
	StartAt      string   `json:"start_dttm"`
	EndAt        string   `json:"end_dttm"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Value        *float64 `json:"value,omitempty"`
	ValueRowJSON *string  `json:"value_row_json,omitempty"`
}

// RunResponse reports the outcome of a manual run.
type RunResponse struct {
	ExecutionID string `json:"execution_id"`
	State       string `json:"state"`
	ErrorKind   string `json:"error_kind,omitempty"`
}

// Runner executes a schedule once.
type Runner interface {
	Run(ctx context.Context, req report.Request) error
}

// Handler handles schedule endpoints.
type Handler struct {
	schedules  storage.ScheduleRepository
	logs       storage.ExecutionLogRepository
	runner     Runner
	runTimeout time.Duration
	logger     *zap.SugaredLogger
}

// NewHandler creates a Handler. Manual runs get runTimeout as their
// deadline.
func NewHandler(schedules storage.ScheduleRepository, logs storage.ExecutionLogRepository, runner Runner, runTimeout time.Duration, logger *zap.SugaredLogger) *Handler {
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	return &Handler{
		schedules:  schedules,
		logs:       logs,
		runner:     runner,
		runTimeout: runTimeout,
		logger:     logging.OrNop(logger).With(logging.FieldComponent, "api"),
	}
}

// List handles GET /api/v1/schedules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.schedules.List(r.Context())
	if err != nil {
		h.logger.Errorw("list schedules", logging.FieldError, err)
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list schedules", nil)
		return
	}
	items := make([]*ScheduleResponse, 0, len(list))
	for _, s := range list {
		items = append(items, toScheduleResponse(s))
	}
	h.jsonOK(w, items)
}

// Get handles GET /api/v1/schedules/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.load(w, r)
	if !ok {
		return
	}
	h.jsonOK(w, toScheduleResponse(s))
}

// Logs handles GET /api/v1/schedules/{id}/logs?limit=.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	s, ok := h.load(w, r)
	if !ok {
		return
	}

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries, err := h.logs.List(r.Context(), s.ID, limit)
	if err != nil {
		h.logger.Errorw("list execution logs", logging.FieldScheduleID, s.ID, logging.FieldError, err)
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list execution logs", nil)
		return
	}
	h.jsonOK(w, toLogResponses(entries))
}

// Execution handles GET /api/v1/executions/{id}.
func (h *Handler) Execution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid execution id", nil)
		return
	}
	entries, err := h.logs.ListByExecution(r.Context(), id)
	if err != nil {
		h.logger.Errorw("list execution", logging.FieldExecutionID, id, logging.FieldError, err)
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to load execution", nil)
		return
	}
	if len(entries) == 0 {
		h.jsonError(w, http.StatusNotFound, errCodeNotFound, "execution not found", nil)
		return
	}
	h.jsonOK(w, toLogResponses(entries))
}

// Run handles POST /api/v1/schedules/{id}/run. The run continues if the
// client disconnects.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	s, ok := h.load(w, r)
	if !ok {
		return
	}

	execID := uuid.NewString()
	h.logger.Infow("manual run requested",
		logging.FieldScheduleID, s.ID,
		logging.FieldExecutionID, execID,
		"user", middleware.GetUsername(r.Context()),
	)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.runTimeout)
	defer cancel()
	runErr := h.runner.Run(ctx, report.Request{ScheduleID: s.ID, ExecutionID: execID})

	resp := RunResponse{ExecutionID: execID}
	if after, err := h.schedules.GetByID(r.Context(), s.ID); err == nil && after != nil {
		resp.State = string(after.LastState)
	}
	if runErr == nil {
		h.jsonOK(w, resp)
		return
	}

	kind := reporterr.KindOf(runErr)
	resp.ErrorKind = kind.String()
	h.jsonError(w, kind.HTTPStatus(), kind.String(), runErr.Error(), resp)
}

// load resolves the {id} parameter, writing the error response itself.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*models.Schedule, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid schedule id", nil)
		return nil, false
	}
	s, err := h.schedules.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Errorw("get schedule", logging.FieldScheduleID, id, logging.FieldError, err)
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to load schedule", nil)
		return nil, false
	}
	if s == nil {
		h.jsonError(w, http.StatusNotFound, errCodeNotFound, "schedule not found", nil)
		return nil, false
	}
	return s, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toScheduleResponse(s *models.Schedule) *ScheduleResponse {
	resp := &ScheduleResponse{
		ID:                    s.ID,
		Name:                  s.Name,
		Description:           s.Description,
		Type:                  string(s.Type),
		Active:                s.Active,
		Crontab:               s.Crontab,
		Timezone:              s.Timezone,
		ReportFormat:          string(s.ReportFormat),
		Owners:                make([]string, 0, len(s.Owners)),
		Recipients:            make([]RecipientResponse, 0, len(s.Recipients)),
		GracePeriodSeconds:    int64(s.GracePeriod / time.Second),
		WorkingTimeoutSeconds: int64(s.WorkingTimeout / time.Second),
		LogRetentionDays:      s.LogRetention,
		LastState:             string(s.LastState),
		LastValue:             s.LastValue,
		LastValueRowJSON:      s.LastValueRowJSON,
		CreatedAt:             formatTime(s.CreatedAt),
		UpdatedAt:             formatTime(s.UpdatedAt),
	}
	if s.Chart != nil {
		resp.ChartID = s.Chart.ID
	}
	if s.Dashboard != nil {
		resp.DashboardID = s.Dashboard.ID
	}
	if s.LastEvalAt != nil {
		resp.LastEvalAt = formatTime(*s.LastEvalAt)
	}
	for _, o := range s.Owners {
		resp.Owners = append(resp.Owners, o.Username)
	}
	for _, rc := range s.Recipients {
		resp.Recipients = append(resp.Recipients, RecipientResponse{Type: string(rc.Type), Target: rc.Config.Target})
	}
	return resp
}

func toLogResponses(entries []*models.ExecutionLog) []*LogResponse {
	out := make([]*LogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, &LogResponse{
			ID:           e.ID,
			ExecutionID:  e.ExecutionID,
			State:        string(e.State),
			ScheduledAt:  formatTime(e.ScheduledAt),
			StartAt:      formatTime(e.StartAt),
			EndAt:        formatTime(e.EndAt),
			ErrorMessage: e.ErrorMessage,
			Value:        e.Value,
			ValueRowJSON: e.ValueRowJSON,
		})
	}
	return out
}
