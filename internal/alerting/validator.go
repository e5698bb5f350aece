package alerting

import (
	"encoding/json"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

var operators = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true,
}

// OperatorConfig is the validator config of an operator alert.
type OperatorConfig struct {
	Op        string   `json:"op"`
	Threshold *float64 `json:"threshold"`
}

// validator decides whether an observed value fires the alert.
type validator interface {
	fired(value any) (bool, error)
}

type notNullValidator struct{}

func (notNullValidator) fired(value any) (bool, error) {
	if value == nil {
		return false, nil
	}
	f, err := toFloat(value)
	if err != nil {
		// Any non-numeric, non-null value counts as present.
		return true, nil
	}
	return f != 0 && !math.IsNaN(f), nil
}

// operatorValidator compares the value against a threshold with a compiled
// expr program.
type operatorValidator struct {
	threshold float64
	program   *vm.Program
}

func newOperatorValidator(config string) (*operatorValidator, error) {
	var cfg OperatorConfig
	if err := json.Unmarshal([]byte(config), &cfg); err != nil {
		return nil, reporterr.Wrap(reporterr.AlertValidator, err, "Alert validator config error.")
	}
	if !operators[cfg.Op] || cfg.Threshold == nil {
		return nil, reporterr.New(reporterr.AlertValidator)
	}

	program, err := expr.Compile("value "+cfg.Op+" threshold",
		expr.Env(map[string]any{"value": 0.0, "threshold": 0.0}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, reporterr.Wrap(reporterr.AlertValidator, err, "Alert validator config error.")
	}
	return &operatorValidator{threshold: *cfg.Threshold, program: program}, nil
}

func (v *operatorValidator) fired(value any) (bool, error) {
	f, err := operatorValue(value)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(v.program, map[string]any{"value": f, "threshold": v.threshold})
	if err != nil {
		return false, reporterr.Wrap(reporterr.AlertValidator, err, "Alert validator config error.")
	}
	matched, ok := out.(bool)
	if !ok {
		return false, reporterr.New(reporterr.AlertValidator)
	}
	return matched, nil
}

// operatorValue converts a query value for comparison. Null and NaN read as 0.
func operatorValue(value any) (float64, error) {
	if value == nil {
		return 0, nil
	}
	f, err := toFloat(value)
	if err != nil {
		return 0, reporterr.Newf(reporterr.AlertValidator, "Alert query returned a non-number value.")
	}
	if math.IsNaN(f) {
		return 0, nil
	}
	return f, nil
}

func newValidator(typ models.ValidatorType, config string) (validator, error) {
	switch typ {
	case models.ValidatorNotNull:
		return notNullValidator{}, nil
	case models.ValidatorOperator:
		return newOperatorValidator(config)
	default:
		return nil, reporterr.Newf(reporterr.AlertValidator, "Unsupported alert validator %q.", string(typ))
	}
}
