package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/good-yellow-bee/blazereport/internal/models"
)

type sqliteExecutionLogRepo struct {
	db *sql.DB
}

const logColumns = `id, schedule_id, execution_id, scheduled_dttm, start_dttm, end_dttm,
	state, error_message, value, value_row_json`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertExecutionLog(ctx context.Context, db execer, entry *models.ExecutionLog) error {
	var start sql.NullTime
	if !entry.StartAt.IsZero() {
		start = sql.NullTime{Time: entry.StartAt.UTC(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO report_execution_log (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ScheduleID, entry.ExecutionID,
		entry.ScheduledAt.UTC(), start, entry.EndAt.UTC(),
		string(entry.State), nullString(entry.ErrorMessage),
		nullFloat(entry.Value), nullStringPtr(entry.ValueRowJSON),
	)
	if err != nil {
		return errors.Wrap(err, "insert execution log")
	}
	return nil
}

func (r *sqliteExecutionLogRepo) FindLastSuccess(ctx context.Context, scheduleID int64) (*models.ExecutionLog, error) {
	return r.findOne(ctx, `
		SELECT `+logColumns+` FROM report_execution_log
		WHERE schedule_id = ? AND state = ?
		ORDER BY end_dttm DESC LIMIT 1`,
		scheduleID, string(models.StateSuccess))
}

func (r *sqliteExecutionLogRepo) FindLastEnteredWorking(ctx context.Context, scheduleID int64) (*models.ExecutionLog, error) {
	return r.findOne(ctx, `
		SELECT `+logColumns+` FROM report_execution_log
		WHERE schedule_id = ? AND state = ? AND error_message IS NULL
		ORDER BY end_dttm DESC LIMIT 1`,
		scheduleID, string(models.StateWorking))
}

func (r *sqliteExecutionLogRepo) FindLastErrorNotification(ctx context.Context, scheduleID int64) (*models.ExecutionLog, error) {
	last, err := r.findOne(ctx, `
		SELECT `+logColumns+` FROM report_execution_log
		WHERE schedule_id = ? AND error_message = ?
		ORDER BY end_dttm DESC LIMIT 1`,
		scheduleID, models.ErrorNotificationMarker)
	if err != nil || last == nil {
		return last, err
	}

	// Anything other than errors or working since the notification ends
	// the error streak it belonged to.
	var later int
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM report_execution_log
		WHERE schedule_id = ? AND state NOT IN (?, ?) AND end_dttm > ?`,
		scheduleID, string(models.StateError), string(models.StateWorking), last.EndAt.UTC(),
	).Scan(&later)
	if err != nil {
		return nil, errors.Wrap(err, "count logs after error notification")
	}
	if later > 0 {
		//nolint:nilnil
		return nil, nil
	}
	return last, nil
}

func (r *sqliteExecutionLogRepo) List(ctx context.Context, scheduleID int64, limit int) ([]*models.ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.findMany(ctx, `
		SELECT `+logColumns+` FROM report_execution_log
		WHERE schedule_id = ?
		ORDER BY end_dttm DESC LIMIT ?`,
		scheduleID, limit)
}

func (r *sqliteExecutionLogRepo) ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	return r.findMany(ctx, `
		SELECT `+logColumns+` FROM report_execution_log
		WHERE execution_id = ?
		ORDER BY end_dttm ASC`,
		executionID)
}

func (r *sqliteExecutionLogRepo) DeleteBefore(ctx context.Context, scheduleID int64, cutoff time.Time) (int64, error) {
	// The working timeout is measured from the entry that entered Working,
	// so it survives while the schedule is still held.
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM report_execution_log
		WHERE schedule_id = ? AND end_dttm < ?
		AND id != COALESCE((
			SELECT l.id FROM report_execution_log l
			JOIN report_schedules s ON s.id = l.schedule_id
			WHERE l.schedule_id = ? AND s.last_state = ?
				AND l.state = ? AND l.error_message IS NULL
			ORDER BY l.end_dttm DESC LIMIT 1
		), '')`,
		scheduleID, cutoff.UTC(),
		scheduleID, string(models.StateWorking), string(models.StateWorking),
	)
	if err != nil {
		return 0, errors.Wrap(err, "delete execution logs")
	}
	return res.RowsAffected()
}

func (r *sqliteExecutionLogRepo) findOne(ctx context.Context, query string, args ...any) (*models.ExecutionLog, error) {
	entry, err := scanExecutionLog(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find execution log")
	}
	return entry, nil
}

func (r *sqliteExecutionLogRepo) findMany(ctx context.Context, query string, args ...any) ([]*models.ExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query execution logs")
	}
	defer rows.Close()

	var entries []*models.ExecutionLog
	for rows.Next() {
		entry, err := scanExecutionLog(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan execution log")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate execution logs")
	}
	return entries, nil
}

func scanExecutionLog(row rowScanner) (*models.ExecutionLog, error) {
	var (
		entry    models.ExecutionLog
		start    sql.NullTime
		state    string
		errMsg   sql.NullString
		value    sql.NullFloat64
		valueRow sql.NullString
	)
	err := row.Scan(
		&entry.ID, &entry.ScheduleID, &entry.ExecutionID,
		&entry.ScheduledAt, &start, &entry.EndAt,
		&state, &errMsg, &value, &valueRow,
	)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		entry.StartAt = start.Time
	}
	entry.State = models.ReportState(state)
	entry.ErrorMessage = errMsg.String
	if value.Valid {
		v := value.Float64
		entry.Value = &v
	}
	if valueRow.Valid {
		j := valueRow.String
		entry.ValueRowJSON = &j
	}
	return &entry, nil
}
