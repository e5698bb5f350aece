package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazereport/internal/auth"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/report"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
	"github.com/good-yellow-bee/blazereport/internal/storage"
)

// fakeRunner records the run and moves the schedule to state.
type fakeRunner struct {
	store *storage.SQLiteStorage
	state models.ReportState
	err   error
	reqs  []report.Request
}

func (f *fakeRunner) Run(ctx context.Context, req report.Request) error {
	f.reqs = append(f.reqs, req)
	s, err := f.store.Schedules().GetByID(ctx, req.ScheduleID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = f.store.Schedules().UpdateStateAndLog(ctx, s.ID, s.Cursor,
		models.Cursor{LastState: f.state, LastEvalAt: &now},
		&models.ExecutionLog{
			ID:          uuid.NewString(),
			ScheduleID:  s.ID,
			ExecutionID: req.ExecutionID,
			ScheduledAt: now,
			StartAt:     now,
			EndAt:       now,
			State:       f.state,
		})
	if err != nil {
		return err
	}
	return f.err
}

type testEnv struct {
	handler  http.Handler
	store    *storage.SQLiteStorage
	runner   *fakeRunner
	tokens   *auth.JWTService
	schedule *models.Schedule
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := storage.NewSQLiteStorage(":memory:", nil)
	require.NoError(t, store.Open(ctx))
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	owner := models.NewUser("owner", "owner@example.com", models.RoleOperator)
	owner.ID = uuid.NewString()
	require.NoError(t, store.Users().Create(ctx, owner))

	s := &models.Schedule{
		Name:         "weekly kpis",
		Type:         models.TypeReport,
		Active:       true,
		Crontab:      "0 8 * * 1",
		Timezone:     "Europe/Berlin",
		Dashboard:    &models.DashboardRef{ID: 3, Title: "KPIs"},
		ReportFormat: models.FormatPNG,
		Owners:       []models.User{*owner},
		CreatedBy:    owner,
		Recipients: []models.Recipient{
			{Type: models.RecipientEmail, Config: models.RecipientConfig{Target: "kpi@example.com"}},
		},
	}
	require.NoError(t, store.Schedules().Create(ctx, s))

	runner := &fakeRunner{store: store, state: models.StateSuccess}
	tokens := auth.NewJWTService([]byte("test-jwt-secret-32-bytes-long!!"), time.Hour)
	srv, err := New(&Config{Address: ":0"}, store, runner, tokens, nil)
	require.NoError(t, err)

	return &testEnv{handler: srv.Handler(), store: store, runner: runner, tokens: tokens, schedule: s}
}

func (e *testEnv) token(t *testing.T, role models.Role) string {
	t.Helper()
	tok, err := e.tokens.GenerateToken(&models.User{ID: uuid.NewString(), Username: "api-" + string(role), Role: role})
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec, _ := env.do(t, "GET", path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, "GET", "/api/v1/schedules", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListAndGetSchedules(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, models.RoleViewer)

	rec, body := env.do(t, "GET", "/api/v1/schedules", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "weekly kpis", items[0].(map[string]any)["name"])

	rec, body = env.do(t, "GET", "/api/v1/schedules/"+itoa(env.schedule.ID), tok)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Europe/Berlin", data["timezone"])
	assert.Equal(t, float64(3), data["dashboard_id"])
	assert.Equal(t, []any{"owner"}, data["owners"])

	rec, _ = env.do(t, "GET", "/api/v1/schedules/999", tok)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = env.do(t, "GET", "/api/v1/schedules/abc", tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunSchedule(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, "POST", "/api/v1/schedules/"+itoa(env.schedule.ID)+"/run", env.token(t, models.RoleViewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, env.runner.reqs)

	rec, body := env.do(t, "POST", "/api/v1/schedules/"+itoa(env.schedule.ID)+"/run", env.token(t, models.RoleOperator))
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "success", data["state"])
	execID := data["execution_id"].(string)
	require.Len(t, env.runner.reqs, 1)
	assert.Equal(t, execID, env.runner.reqs[0].ExecutionID)

	tok := env.token(t, models.RoleViewer)
	rec, body = env.do(t, "GET", "/api/v1/executions/"+execID, tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].([]any), 1)

	rec, body = env.do(t, "GET", "/api/v1/schedules/"+itoa(env.schedule.ID)+"/logs?limit=10", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].([]any), 1)

	rec, _ = env.do(t, "GET", "/api/v1/schedules/"+itoa(env.schedule.ID)+"/logs?limit=-1", tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(t, "GET", "/api/v1/executions/"+uuid.NewString(), tok)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunScheduleReportsErrorKind(t *testing.T) {
	env := newTestEnv(t)
	env.runner.state = models.StateError
	env.runner.err = reporterr.New(reporterr.CsvTimeout)

	rec, body := env.do(t, "POST", "/api/v1/schedules/"+itoa(env.schedule.ID)+"/run", env.token(t, models.RoleAdmin))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	errBody := body["error"].(map[string]any)
	assert.Equal(t, "csv_timeout", errBody["code"])
	assert.Equal(t, "A timeout occurred while generating a csv.", errBody["message"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "error", data["state"])
	assert.Equal(t, "csv_timeout", data["error_kind"])
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, "GET", "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
