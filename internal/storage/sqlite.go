package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	// Pure Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/good-yellow-bee/blazereport/internal/logging"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path   string
	db     *sql.DB
	logger *zap.SugaredLogger

	schedules *sqliteScheduleRepo
	logs      *sqliteExecutionLogRepo
	users     *sqliteUserRepo
}

// NewSQLiteStorage creates a new SQLite storage. Use ":memory:" for an
// ephemeral database.
func NewSQLiteStorage(path string, logger *zap.SugaredLogger) *SQLiteStorage {
	return &SQLiteStorage{
		path:   path,
		logger: logging.OrNop(logger),
	}
}

// NewSQLiteStorageFromDB wraps an already open connection.
func NewSQLiteStorageFromDB(db *sql.DB, logger *zap.SugaredLogger) *SQLiteStorage {
	s := &SQLiteStorage{db: db, logger: logging.OrNop(logger)}
	s.initRepos()
	return s
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open(ctx context.Context) error {
	if s.path == "" {
		return errors.New("database path is required")
	}

	dsn := s.path
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return errors.Wrap(err, "open database")
	}

	// SQLite is single-writer; one connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.Wrap(err, "ping database")
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return errors.Wrapf(err, "execute %s", pragma)
		}
	}

	s.db = db
	s.initRepos()
	s.logger.Debugw("opened database", "path", s.path)
	return nil
}

func (s *SQLiteStorage) initRepos() {
	s.schedules = &sqliteScheduleRepo{db: s.db}
	s.logs = &sqliteExecutionLogRepo{db: s.db}
	s.users = &sqliteUserRepo{db: s.db}
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	applied, err := runMigrations(ctx, s.db)
	if err != nil {
		return err
	}
	if applied > 0 {
		s.logger.Infow("applied database migrations", "count", applied)
	}
	return nil
}

// Schedules returns the schedule repository.
func (s *SQLiteStorage) Schedules() ScheduleRepository {
	return s.schedules
}

// ExecutionLogs returns the execution log repository.
func (s *SQLiteStorage) ExecutionLogs() ExecutionLogRepository {
	return s.logs
}

// Users returns the user repository.
func (s *SQLiteStorage) Users() UserRepository {
	return s.users
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt64(i int64) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: i, Valid: true}
}
