package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				username TEXT UNIQUE NOT NULL,
				email TEXT NOT NULL,
				role TEXT NOT NULL DEFAULT 'viewer',
				active INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS report_schedules (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				description TEXT,
				type TEXT NOT NULL,
				active INTEGER NOT NULL DEFAULT 1,
				crontab TEXT NOT NULL,
				timezone TEXT NOT NULL DEFAULT 'UTC',
				chart_id INTEGER,
				chart_name TEXT,
				chart_has_query_context INTEGER NOT NULL DEFAULT 0,
				dashboard_id INTEGER,
				dashboard_uuid TEXT,
				dashboard_title TEXT,
				extra_json TEXT NOT NULL DEFAULT '{}',
				report_format TEXT NOT NULL DEFAULT 'PNG',
				force_screenshot INTEGER NOT NULL DEFAULT 0,
				custom_width INTEGER,
				custom_height INTEGER,
				email_subject TEXT,
				created_by_fk TEXT REFERENCES users(id) ON DELETE SET NULL,
				changed_by_fk TEXT REFERENCES users(id) ON DELETE SET NULL,
				grace_period INTEGER NOT NULL DEFAULT 0,
				working_timeout INTEGER NOT NULL DEFAULT 0,
				log_retention INTEGER NOT NULL DEFAULT 90,
				sql TEXT,
				datasource TEXT,
				validator_type TEXT,
				validator_config_json TEXT,
				last_state TEXT NOT NULL DEFAULT '',
				last_eval_dttm DATETIME,
				last_value REAL,
				last_value_row_json TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS report_schedule_owners (
				schedule_id INTEGER NOT NULL,
				user_id TEXT NOT NULL,
				PRIMARY KEY (schedule_id, user_id),
				FOREIGN KEY (schedule_id) REFERENCES report_schedules(id) ON DELETE CASCADE,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			);

			CREATE TABLE IF NOT EXISTS report_recipients (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				schedule_id INTEGER NOT NULL,
				type TEXT NOT NULL,
				recipient_config_json TEXT NOT NULL DEFAULT '{}',
				FOREIGN KEY (schedule_id) REFERENCES report_schedules(id) ON DELETE CASCADE
			);

			CREATE TABLE IF NOT EXISTS report_execution_log (
				id TEXT PRIMARY KEY,
				schedule_id INTEGER NOT NULL,
				execution_id TEXT NOT NULL,
				scheduled_dttm DATETIME NOT NULL,
				start_dttm DATETIME,
				end_dttm DATETIME NOT NULL,
				state TEXT NOT NULL,
				error_message TEXT,
				value REAL,
				value_row_json TEXT,
				FOREIGN KEY (schedule_id) REFERENCES report_schedules(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_report_schedules_active ON report_schedules(active);
			CREATE INDEX IF NOT EXISTS idx_report_recipients_schedule ON report_recipients(schedule_id);
			CREATE INDEX IF NOT EXISTS idx_execution_log_schedule_end ON report_execution_log(schedule_id, end_dttm);
			CREATE INDEX IF NOT EXISTS idx_execution_log_execution ON report_execution_log(execution_id);
		`,
	},
	{
		Version: 2,
		Name:    "schedule_state_version",
		Up: `
			ALTER TABLE report_schedules ADD COLUMN state_version INTEGER NOT NULL DEFAULT 0;
		`,
	},
}

// runMigrations applies pending migrations and returns how many ran.
func runMigrations(ctx context.Context, db *sql.DB) (int, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return 0, errors.Wrap(err, "create migrations table")
	}

	var currentVersion int
	err = db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return 0, errors.Wrap(err, "get current version")
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, errors.Wrapf(err, "begin transaction for migration %d", m.Version)
		}

		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			tx.Rollback()
			return applied, errors.Wrapf(err, "execute migration %d (%s)", m.Version, m.Name)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UTC(),
		)
		if err != nil {
			tx.Rollback()
			return applied, errors.Wrapf(err, "record migration %d", m.Version)
		}

		if err := tx.Commit(); err != nil {
			return applied, errors.Wrapf(err, "commit migration %d", m.Version)
		}
		applied++
	}

	return applied, nil
}
