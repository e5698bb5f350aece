// Package models defines the domain types persisted by blazereport.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ReportState is the last recorded state of a schedule.
type ReportState string

const (
	// StateNone marks a schedule that has never run.
	StateNone    ReportState = ""
	StateIdle    ReportState = "idle"
	StateError   ReportState = "error"
	StateWorking ReportState = "working"
	StateSuccess ReportState = "success"
	StateGrace   ReportState = "grace"
)

// ParseReportState converts a stored string to a ReportState.
func ParseReportState(s string) (ReportState, error) {
	switch ReportState(strings.ToLower(s)) {
	case StateNone:
		return StateNone, nil
	case StateIdle:
		return StateIdle, nil
	case StateError:
		return StateError, nil
	case StateWorking:
		return StateWorking, nil
	case StateSuccess:
		return StateSuccess, nil
	case StateGrace:
		return StateGrace, nil
	}
	return StateNone, fmt.Errorf("unknown report state: %q", s)
}

// ScheduleType distinguishes alerts from plain reports.
type ScheduleType string

const (
	TypeAlert  ScheduleType = "Alert"
	TypeReport ScheduleType = "Report"
)

// ParseScheduleType converts a string to ScheduleType.
func ParseScheduleType(s string) (ScheduleType, error) {
	switch strings.ToLower(s) {
	case "alert":
		return TypeAlert, nil
	case "report":
		return TypeReport, nil
	}
	return "", fmt.Errorf("unknown schedule type: %q", s)
}

// ReportFormat is the artifact produced for a schedule.
type ReportFormat string

const (
	FormatPNG  ReportFormat = "PNG"
	FormatPDF  ReportFormat = "PDF"
	FormatCSV  ReportFormat = "CSV"
	FormatText ReportFormat = "TEXT"
)

// ParseReportFormat converts a string to ReportFormat, defaulting to PNG.
func ParseReportFormat(s string) ReportFormat {
	switch strings.ToUpper(s) {
	case "PDF":
		return FormatPDF
	case "CSV":
		return FormatCSV
	case "TEXT":
		return FormatText
	default:
		return FormatPNG
	}
}

// ValidatorType selects how an alert query result is judged.
type ValidatorType string

const (
	ValidatorNotNull  ValidatorType = "not null"
	ValidatorOperator ValidatorType = "operator"
)

// ChartRef points a schedule at a chart.
type ChartRef struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	HasQueryContext bool   `json:"has_query_context"`
}

// DashboardRef points a schedule at a dashboard.
type DashboardRef struct {
	ID    int64  `json:"id"`
	UUID  string `json:"uuid,omitempty"`
	Title string `json:"title"`
}

// DashboardState is the saved tab state for a dashboard report.
type DashboardState struct {
	// Anchor is either a single tab id or a JSON list of tab ids.
	Anchor     string         `json:"anchor,omitempty"`
	DataMask   map[string]any `json:"dataMask,omitempty"`
	ActiveTabs []string       `json:"activeTabs,omitempty"`
	URLParams  [][2]string    `json:"urlParams,omitempty"`
}

// ScheduleExtra holds optional schedule settings stored as JSON.
type ScheduleExtra struct {
	Dashboard *DashboardState `json:"dashboard,omitempty"`
}

// Cursor is the mutable run position of a schedule.
type Cursor struct {
	LastState        ReportState `json:"last_state"`
	LastEvalAt       *time.Time  `json:"last_eval_dttm,omitempty"`
	LastValue        *float64    `json:"last_value,omitempty"`
	LastValueRowJSON *string     `json:"last_value_row_json,omitempty"`
	// Version counts persisted state steps. It only grows, so a state that
	// was left and re-entered is still told apart.
	Version int64 `json:"version"`
}

// Schedule is a recurring report or alert definition plus its run cursor.
type Schedule struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	Type            ScheduleType  `json:"type"`
	Active          bool          `json:"active"`
	Crontab         string        `json:"crontab"`
	Timezone        string        `json:"timezone"`
	Chart           *ChartRef     `json:"chart,omitempty"`
	Dashboard       *DashboardRef `json:"dashboard,omitempty"`
	Extra           ScheduleExtra `json:"extra"`
	ReportFormat    ReportFormat  `json:"report_format"`
	ForceScreenshot bool          `json:"force_screenshot"`
	CustomWidth     int           `json:"custom_width,omitempty"`
	CustomHeight    int           `json:"custom_height,omitempty"`
	EmailSubject    string        `json:"email_subject,omitempty"`

	Owners    []User `json:"owners"`
	CreatedBy *User  `json:"created_by,omitempty"`
	ChangedBy *User  `json:"changed_by,omitempty"`

	GracePeriod    time.Duration `json:"grace_period"`
	WorkingTimeout time.Duration `json:"working_timeout"`
	// LogRetention is in days; zero keeps logs forever.
	LogRetention int `json:"log_retention"`

	SQL             string        `json:"sql,omitempty"`
	Datasource      string        `json:"datasource,omitempty"`
	ValidatorType   ValidatorType `json:"validator_type,omitempty"`
	ValidatorConfig string        `json:"validator_config_json,omitempty"`

	Recipients []Recipient `json:"recipients"`

	Cursor

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAlert reports whether the schedule evaluates an alert condition.
func (s *Schedule) IsAlert() bool {
	return s.Type == TypeAlert
}

// Validate checks the invariants a stored schedule must satisfy.
func (s *Schedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("schedule name is required")
	}
	if (s.Chart == nil) == (s.Dashboard == nil) {
		return fmt.Errorf("schedule must target exactly one of chart or dashboard")
	}
	if s.Type != TypeAlert && s.Type != TypeReport {
		return fmt.Errorf("invalid schedule type: %q", s.Type)
	}
	if s.IsAlert() && strings.TrimSpace(s.SQL) == "" {
		return fmt.Errorf("alert schedule requires sql")
	}
	if s.GracePeriod < 0 || s.WorkingTimeout < 0 {
		return fmt.Errorf("grace period and working timeout must not be negative")
	}
	return nil
}

// Clone returns a deep copy, safe to hand to content and notification builders.
func (s Schedule) Clone() Schedule {
	c := s
	if s.Chart != nil {
		chart := *s.Chart
		c.Chart = &chart
	}
	if s.Dashboard != nil {
		dash := *s.Dashboard
		c.Dashboard = &dash
	}
	if s.Extra.Dashboard != nil {
		state := *s.Extra.Dashboard
		state.ActiveTabs = append([]string(nil), s.Extra.Dashboard.ActiveTabs...)
		state.URLParams = append([][2]string(nil), s.Extra.Dashboard.URLParams...)
		c.Extra.Dashboard = &state
	}
	c.Owners = append([]User(nil), s.Owners...)
	c.Recipients = make([]Recipient, len(s.Recipients))
	copy(c.Recipients, s.Recipients)
	if s.CreatedBy != nil {
		u := *s.CreatedBy
		c.CreatedBy = &u
	}
	if s.ChangedBy != nil {
		u := *s.ChangedBy
		c.ChangedBy = &u
	}
	if s.LastEvalAt != nil {
		t := *s.LastEvalAt
		c.LastEvalAt = &t
	}
	if s.LastValue != nil {
		v := *s.LastValue
		c.LastValue = &v
	}
	if s.LastValueRowJSON != nil {
		j := *s.LastValueRowJSON
		c.LastValueRowJSON = &j
	}
	return c
}

// TargetTitle returns the chart name or dashboard title.
func (s *Schedule) TargetTitle() string {
	if s.Chart != nil {
		return s.Chart.Name
	}
	if s.Dashboard != nil {
		return s.Dashboard.Title
	}
	return ""
}
