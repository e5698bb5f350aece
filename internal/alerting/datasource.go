package alerting

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	// Alert datasource drivers, registered as "clickhouse", "postgres" and "sqlite".
	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

var supportedDrivers = map[string]bool{
	"clickhouse": true,
	"postgres":   true,
	"sqlite":     true,
}

// DatasourceConfig describes one named alert datasource.
type DatasourceConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// Validate checks the datasource config.
func (c DatasourceConfig) Validate() error {
	if !supportedDrivers[c.Driver] {
		return errors.Newf("unsupported datasource driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.New("datasource dsn is required")
	}
	return nil
}

// Datasources holds the databases alert queries run against, by name.
type Datasources struct {
	mu     sync.RWMutex
	dbs    map[string]*sql.DB
	logger *zap.SugaredLogger
}

// NewDatasources creates an empty registry.
func NewDatasources(logger *zap.SugaredLogger) *Datasources {
	return &Datasources{
		dbs:    make(map[string]*sql.DB),
		logger: logging.OrNop(logger),
	}
}

// OpenDatasources opens and pings every configured datasource.
func OpenDatasources(ctx context.Context, cfgs map[string]DatasourceConfig, logger *zap.SugaredLogger) (*Datasources, error) {
	d := NewDatasources(logger)

	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := cfgs[name]
		if err := cfg.Validate(); err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "datasource %s", name)
		}
		db, err := sql.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "open datasource %s", name)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			d.Close()
			return nil, errors.Wrapf(err, "ping datasource %s", name)
		}
		d.Register(name, db)
		d.logger.Infow("alert datasource ready", "name", name, "driver", cfg.Driver)
	}
	return d, nil
}

// Register adds db under name, replacing any previous entry.
func (d *Datasources) Register(name string, db *sql.DB) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dbs[name] = db
}

// Get returns the database registered under name.
func (d *Datasources) Get(name string) (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	db, ok := d.dbs[name]
	if !ok {
		return nil, reporterr.Newf(reporterr.AlertQuery, "Alert datasource %q is not configured.", name)
	}
	return db, nil
}

// Ping checks every registered database.
func (d *Datasources) Ping(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var errs error
	for name, db := range d.dbs {
		if err := db.PingContext(ctx); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "datasource %s", name))
		}
	}
	return errs
}

// Close closes every registered database.
func (d *Datasources) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs error
	for name, db := range d.dbs {
		if err := db.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "close datasource %s", name))
		}
	}
	d.dbs = make(map[string]*sql.DB)
	return errs
}
