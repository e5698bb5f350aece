// Package alerting evaluates alert schedules by running their SQL against a
// named datasource and judging the single returned value.
package alerting

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

// Result is the outcome of one alert evaluation.
type Result struct {
	Fired   bool
	Value   *float64
	RowJSON *string
}

// Config configures the evaluator.
type Config struct {
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
}

// Evaluator runs alert queries.
type Evaluator struct {
	cfg     Config
	sources *Datasources
	logger  *zap.SugaredLogger
}

// NewEvaluator creates an Evaluator over the given datasources.
func NewEvaluator(cfg Config, sources *Datasources, logger *zap.SugaredLogger) *Evaluator {
	cfg.SetDefaults()
	return &Evaluator{cfg: cfg, sources: sources, logger: logging.OrNop(logger)}
}

// Evaluate runs the alert query of s and reports whether it fired.
func (e *Evaluator) Evaluate(ctx context.Context, s models.Schedule, executionID string) (Result, error) {
	v, err := newValidator(s.ValidatorType, s.ValidatorConfig)
	if err != nil {
		return Result{}, err
	}
	db, err := e.sources.Get(s.Datasource)
	if err != nil {
		return Result{}, err
	}

	qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	value, found, err := querySingleValue(qctx, db, s.SQL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(qctx.Err(), context.DeadlineExceeded) {
			return Result{}, reporterr.Wrap(reporterr.AlertTimeout, err, "A timeout occurred while executing the query.")
		}
		var re *reporterr.Error
		if errors.As(err, &re) {
			return Result{}, err
		}
		return Result{}, reporterr.Wrap(reporterr.AlertQuery, err, "Alert found an error while executing a query.")
	}

	fired, err := v.fired(value)
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.Fired = fired
	if s.ValidatorType == models.ValidatorNotNull {
		row := rowJSON(value, found)
		res.RowJSON = &row
	} else {
		f, _ := operatorValue(value)
		res.Value = &f
	}

	e.logger.Debugw("alert evaluated",
		logging.FieldScheduleID, s.ID,
		logging.FieldExecutionID, executionID,
		"fired", fired,
		logging.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return res, nil
}

// querySingleValue returns the only value of a one-row one-column result.
// An empty result yields found=false.
func querySingleValue(ctx context.Context, db *sql.DB, query string) (any, bool, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, false, err
	}
	if len(cols) > 1 {
		return nil, false, reporterr.Newf(reporterr.AlertQuery,
			"Alert query returned more than one column. %d columns returned", len(cols))
	}

	var (
		value any
		count int
	)
	for rows.Next() {
		count++
		if count > 1 {
			continue
		}
		if err := rows.Scan(&value); err != nil {
			return nil, false, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if count > 1 {
		return nil, false, reporterr.Newf(reporterr.AlertQuery,
			"Alert query returned more than one row. %d rows returned", count)
	}
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	return value, count == 1, nil
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, errors.Newf("unsupported value type %T", value)
	}
}

func rowJSON(value any, found bool) string {
	if !found {
		return "null"
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(b)
}
