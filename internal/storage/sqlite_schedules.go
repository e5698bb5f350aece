package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

type sqliteScheduleRepo struct {
	db *sql.DB
}

const scheduleColumns = `
	id, name, description, type, active, crontab, timezone,
	chart_id, chart_name, chart_has_query_context,
	dashboard_id, dashboard_uuid, dashboard_title, extra_json,
	report_format, force_screenshot, custom_width, custom_height, email_subject,
	created_by_fk, changed_by_fk, grace_period, working_timeout, log_retention,
	sql, datasource, validator_type, validator_config_json,
	last_state, last_eval_dttm, last_value, last_value_row_json, state_version,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type scheduleRow struct {
	schedule  *models.Schedule
	createdBy sql.NullString
	changedBy sql.NullString
}

func (r *sqliteScheduleRepo) Create(ctx context.Context, s *models.Schedule) error {
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "validate schedule")
	}
	extra, err := json.Marshal(s.Extra)
	if err != nil {
		return errors.Wrap(err, "marshal schedule extra")
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if s.ReportFormat == "" {
		s.ReportFormat = models.FormatPNG
	}

	var chartID, dashboardID sql.NullInt64
	var chartName, dashboardUUID, dashboardTitle sql.NullString
	hasQueryContext := false
	if s.Chart != nil {
		chartID = sql.NullInt64{Int64: s.Chart.ID, Valid: true}
		chartName = nullString(s.Chart.Name)
		hasQueryContext = s.Chart.HasQueryContext
	}
	if s.Dashboard != nil {
		dashboardID = sql.NullInt64{Int64: s.Dashboard.ID, Valid: true}
		dashboardUUID = nullString(s.Dashboard.UUID)
		dashboardTitle = nullString(s.Dashboard.Title)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin create schedule")
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO report_schedules (
			name, description, type, active, crontab, timezone,
			chart_id, chart_name, chart_has_query_context,
			dashboard_id, dashboard_uuid, dashboard_title, extra_json,
			report_format, force_screenshot, custom_width, custom_height, email_subject,
			created_by_fk, changed_by_fk, grace_period, working_timeout, log_retention,
			sql, datasource, validator_type, validator_config_json,
			last_state, last_eval_dttm, last_value, last_value_row_json,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Name, nullString(s.Description), string(s.Type), boolToInt(s.Active), s.Crontab, s.Timezone,
		chartID, chartName, boolToInt(hasQueryContext),
		dashboardID, dashboardUUID, dashboardTitle, string(extra),
		string(s.ReportFormat), boolToInt(s.ForceScreenshot), nullInt64(int64(s.CustomWidth)), nullInt64(int64(s.CustomHeight)), nullString(s.EmailSubject),
		userFK(s.CreatedBy), userFK(s.ChangedBy), int64(s.GracePeriod/time.Second), int64(s.WorkingTimeout/time.Second), s.LogRetention,
		nullString(s.SQL), nullString(s.Datasource), nullString(string(s.ValidatorType)), nullString(s.ValidatorConfig),
		string(s.LastState), nullTime(s.LastEvalAt), nullFloat(s.LastValue), nullStringPtr(s.LastValueRowJSON),
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "insert schedule")
	}
	s.ID, err = res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "schedule id")
	}

	for _, owner := range s.Owners {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO report_schedule_owners (schedule_id, user_id) VALUES (?, ?)",
			s.ID, owner.ID,
		); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert owner %s", owner.ID)
		}
	}

	for i := range s.Recipients {
		rcpt := &s.Recipients[i]
		cfg, err := rcpt.MarshalConfig()
		if err != nil {
			tx.Rollback()
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO report_recipients (schedule_id, type, recipient_config_json) VALUES (?, ?, ?)",
			s.ID, string(rcpt.Type), cfg,
		)
		if err != nil {
			tx.Rollback()
			return errors.Wrap(err, "insert recipient")
		}
		if rcpt.ID, err = res.LastInsertId(); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "recipient id")
		}
		rcpt.ScheduleID = s.ID
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit create schedule")
	}
	return nil
}

func (r *sqliteScheduleRepo) GetByID(ctx context.Context, id int64) (*models.Schedule, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+scheduleColumns+" FROM report_schedules WHERE id = ?", id)
	sr, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get schedule by id")
	}
	if err := r.loadRelations(ctx, sr); err != nil {
		return nil, err
	}
	return sr.schedule, nil
}

func (r *sqliteScheduleRepo) List(ctx context.Context) ([]*models.Schedule, error) {
	return r.list(ctx, "SELECT "+scheduleColumns+" FROM report_schedules ORDER BY id")
}

func (r *sqliteScheduleRepo) ListActive(ctx context.Context) ([]*models.Schedule, error) {
	return r.list(ctx, "SELECT "+scheduleColumns+" FROM report_schedules WHERE active = 1 ORDER BY id")
}

func (r *sqliteScheduleRepo) list(ctx context.Context, query string) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list schedules")
	}

	var found []*scheduleRow
	for rows.Next() {
		sr, err := scanSchedule(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan schedule")
		}
		found = append(found, sr)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "iterate schedules")
	}
	// Relations are loaded after the cursor is released; the pool holds a
	// single connection.
	rows.Close()

	schedules := make([]*models.Schedule, 0, len(found))
	for _, sr := range found {
		if err := r.loadRelations(ctx, sr); err != nil {
			return nil, err
		}
		schedules = append(schedules, sr.schedule)
	}
	return schedules, nil
}

func (r *sqliteScheduleRepo) UpdateStateAndLog(
	ctx context.Context,
	id int64,
	expected models.Cursor,
	next models.Cursor,
	entry *models.ExecutionLog,
) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin state update")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE report_schedules
		SET last_state = ?, last_eval_dttm = ?, last_value = ?, last_value_row_json = ?,
		    state_version = ?, updated_at = ?
		WHERE id = ? AND last_state = ? AND state_version = ?`,
		string(next.LastState), nullTime(next.LastEvalAt), nullFloat(next.LastValue), nullStringPtr(next.LastValueRowJSON),
		expected.Version+1, time.Now().UTC(), id, string(expected.LastState), expected.Version,
	)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "update schedule state")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "update schedule state")
	}
	if affected == 0 {
		tx.Rollback()
		return reporterr.Newf(reporterr.Conflict,
			"schedule %d is no longer in state %q at version %d", id, expected.LastState, expected.Version)
	}

	if err := insertExecutionLog(ctx, tx, entry); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit state update")
	}
	return nil
}

func (r *sqliteScheduleRepo) UpdateRecipient(ctx context.Context, rcpt *models.Recipient) error {
	cfg, err := rcpt.MarshalConfig()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE report_recipients SET type = ?, recipient_config_json = ? WHERE id = ?",
		string(rcpt.Type), cfg, rcpt.ID,
	)
	if err != nil {
		return errors.Wrap(err, "update recipient")
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.Newf("recipient not found: %d", rcpt.ID)
	}
	return nil
}

func (r *sqliteScheduleRepo) loadRelations(ctx context.Context, sr *scheduleRow) error {
	s := sr.schedule

	owners, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, u.role, u.active, u.created_at, u.updated_at
		FROM users u
		JOIN report_schedule_owners o ON o.user_id = u.id
		WHERE o.schedule_id = ?
		ORDER BY u.username`, s.ID)
	if err != nil {
		return errors.Wrap(err, "list schedule owners")
	}
	s.Owners = nil
	for owners.Next() {
		u, err := scanUser(owners)
		if err != nil {
			owners.Close()
			return errors.Wrap(err, "scan schedule owner")
		}
		s.Owners = append(s.Owners, *u)
	}
	if err := owners.Err(); err != nil {
		owners.Close()
		return errors.Wrap(err, "iterate schedule owners")
	}
	owners.Close()

	rcpts, err := r.db.QueryContext(ctx,
		"SELECT id, schedule_id, type, recipient_config_json FROM report_recipients WHERE schedule_id = ? ORDER BY id",
		s.ID)
	if err != nil {
		return errors.Wrap(err, "list recipients")
	}
	s.Recipients = nil
	for rcpts.Next() {
		var rcpt models.Recipient
		var typ, cfg string
		if err := rcpts.Scan(&rcpt.ID, &rcpt.ScheduleID, &typ, &cfg); err != nil {
			rcpts.Close()
			return errors.Wrap(err, "scan recipient")
		}
		rcpt.Type = models.RecipientType(typ)
		if err := rcpt.UnmarshalConfig(cfg); err != nil {
			rcpts.Close()
			return err
		}
		s.Recipients = append(s.Recipients, rcpt)
	}
	if err := rcpts.Err(); err != nil {
		rcpts.Close()
		return errors.Wrap(err, "iterate recipients")
	}
	rcpts.Close()

	users := &sqliteUserRepo{db: r.db}
	if sr.createdBy.Valid {
		if s.CreatedBy, err = users.GetByID(ctx, sr.createdBy.String); err != nil {
			return err
		}
	}
	if sr.changedBy.Valid {
		if s.ChangedBy, err = users.GetByID(ctx, sr.changedBy.String); err != nil {
			return err
		}
	}
	return nil
}

func scanSchedule(row rowScanner) (*scheduleRow, error) {
	s := &models.Schedule{}
	sr := &scheduleRow{schedule: s}

	var (
		description, chartName, dashboardUUID, dashboardTitle, emailSubject sql.NullString
		sqlText, datasource, validatorType, validatorConfig, rowJSON         sql.NullString
		chartID, dashboardID, customWidth, customHeight                      sql.NullInt64
		lastEval                                                             sql.NullTime
		lastValue                                                            sql.NullFloat64
		typ, format, state, extra                                            string
		active, hasQueryContext, forceScreenshot                             int
		grace, workingTimeout                                                int64
	)

	err := row.Scan(
		&s.ID, &s.Name, &description, &typ, &active, &s.Crontab, &s.Timezone,
		&chartID, &chartName, &hasQueryContext,
		&dashboardID, &dashboardUUID, &dashboardTitle, &extra,
		&format, &forceScreenshot, &customWidth, &customHeight, &emailSubject,
		&sr.createdBy, &sr.changedBy, &grace, &workingTimeout, &s.LogRetention,
		&sqlText, &datasource, &validatorType, &validatorConfig,
		&state, &lastEval, &lastValue, &rowJSON, &s.Version,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Description = description.String
	s.Type = models.ScheduleType(typ)
	s.Active = active != 0
	if chartID.Valid {
		s.Chart = &models.ChartRef{ID: chartID.Int64, Name: chartName.String, HasQueryContext: hasQueryContext != 0}
	}
	if dashboardID.Valid {
		s.Dashboard = &models.DashboardRef{ID: dashboardID.Int64, UUID: dashboardUUID.String, Title: dashboardTitle.String}
	}
	if extra != "" {
		if err := json.Unmarshal([]byte(extra), &s.Extra); err != nil {
			return nil, errors.Wrap(err, "unmarshal schedule extra")
		}
	}
	s.ReportFormat = models.ParseReportFormat(format)
	s.ForceScreenshot = forceScreenshot != 0
	s.CustomWidth = int(customWidth.Int64)
	s.CustomHeight = int(customHeight.Int64)
	s.EmailSubject = emailSubject.String
	s.GracePeriod = time.Duration(grace) * time.Second
	s.WorkingTimeout = time.Duration(workingTimeout) * time.Second
	s.SQL = sqlText.String
	s.Datasource = datasource.String
	s.ValidatorType = models.ValidatorType(validatorType.String)
	s.ValidatorConfig = validatorConfig.String

	if s.LastState, err = models.ParseReportState(state); err != nil {
		return nil, err
	}
	if lastEval.Valid {
		t := lastEval.Time
		s.LastEvalAt = &t
	}
	if lastValue.Valid {
		v := lastValue.Float64
		s.LastValue = &v
	}
	if rowJSON.Valid {
		j := rowJSON.String
		s.LastValueRowJSON = &j
	}
	return sr, nil
}

func userFK(u *models.User) sql.NullString {
	if u == nil {
		return sql.NullString{}
	}
	return nullString(u.ID)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
