// Package reporterr defines the closed set of failure kinds a schedule
// execution can surface. Every error leaving the report engine either carries
// one of these kinds or is wrapped into Unexpected by the execution command.
package reporterr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind classifies an execution failure.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	StateNotFound
	ExecutorNotFound
	ScreenshotTimeout
	ScreenshotFailed
	PdfFailed
	CsvTimeout
	CsvFailed
	DataFrameTimeout
	DataFrameFailed
	NoQueryContext
	UnexpectedContent
	PreviousWorkingTimeout
	PreviousWorkingConflict
	ClientNotificationErrors
	SystemNotificationErrors
	AlertQuery
	AlertValidator
	AlertTimeout
	Conflict
	Unexpected
)

var kindNames = map[Kind]string{
	Unknown:                  "unknown",
	NotFound:                 "not_found",
	StateNotFound:            "state_not_found",
	ExecutorNotFound:         "executor_not_found",
	ScreenshotTimeout:        "screenshot_timeout",
	ScreenshotFailed:         "screenshot_failed",
	PdfFailed:                "pdf_failed",
	CsvTimeout:               "csv_timeout",
	CsvFailed:                "csv_failed",
	DataFrameTimeout:         "dataframe_timeout",
	DataFrameFailed:          "dataframe_failed",
	NoQueryContext:           "no_query_context",
	UnexpectedContent:        "unexpected_content",
	PreviousWorkingTimeout:   "previous_working_timeout",
	PreviousWorkingConflict:  "previous_working_conflict",
	ClientNotificationErrors: "client_notification_errors",
	SystemNotificationErrors: "system_notification_errors",
	AlertQuery:               "alert_query",
	AlertValidator:           "alert_validator",
	AlertTimeout:             "alert_timeout",
	Conflict:                 "conflict",
	Unexpected:               "unexpected",
}

var defaultMessages = map[Kind]string{
	NotFound:                 "Report Schedule not found.",
	StateNotFound:            "Report Schedule state not found",
	ExecutorNotFound:         "No executor could be resolved for the report schedule.",
	ScreenshotTimeout:        "A timeout occurred while taking a screenshot.",
	ScreenshotFailed:         "Report Schedule execution failed when generating a screenshot.",
	PdfFailed:                "Report Schedule execution failed when generating a pdf.",
	CsvTimeout:               "A timeout occurred while generating a csv.",
	CsvFailed:                "Report Schedule execution failed when generating a csv.",
	DataFrameTimeout:         "A timeout occurred while generating a dataframe.",
	DataFrameFailed:          "Report Schedule execution failed when generating a dataframe.",
	NoQueryContext:           "Unable to fetch data because the chart has no query context saved, and an error occurred when fetching it via a screenshot. Please try loading the chart and saving it again.",
	UnexpectedContent:        "Unexpected missing content",
	PreviousWorkingTimeout:   "Report Schedule reached a working timeout.",
	PreviousWorkingConflict:  "Report Schedule is still working, refusing to re-compute.",
	ClientNotificationErrors: "Report Schedule client notification errors",
	SystemNotificationErrors: "Report Schedule system notification errors",
	AlertQuery:               "Alert query failed.",
	AlertValidator:           "Alert validator config error.",
	AlertTimeout:             "A timeout occurred while executing the query.",
	Conflict:                 "Report Schedule state changed concurrently.",
	Unexpected:               "Report schedule unexpected error",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsTimeout reports whether the kind is a deadline condition.
func (k Kind) IsTimeout() bool {
	switch k {
	case ScreenshotTimeout, CsvTimeout, DataFrameTimeout, AlertTimeout, PreviousWorkingTimeout:
		return true
	}
	return false
}

// HTTPStatus maps the kind onto the status the API reports for it.
func (k Kind) HTTPStatus() int {
	switch k {
	case NotFound, StateNotFound, ExecutorNotFound:
		return http.StatusNotFound
	case PreviousWorkingConflict, Conflict:
		return http.StatusConflict
	case ClientNotificationErrors, AlertValidator, NoQueryContext:
		return http.StatusBadRequest
	case ScreenshotTimeout, CsvTimeout, DataFrameTimeout, AlertTimeout, PreviousWorkingTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Error is an execution failure tagged with its Kind.
type Error struct {
	Kind Kind
	Msg  string
	// Errs holds the individual failures behind an aggregate kind.
	Errs  []error
	cause error
}

func (e *Error) Error() string {
	if len(e.Errs) > 0 {
		msgs := make([]string, 0, len(e.Errs))
		for _, err := range e.Errs {
			msgs = append(msgs, err.Error())
		}
		return strings.Join(msgs, ";")
	}
	if e.Msg != "" {
		return e.Msg
	}
	return defaultMessages[e.Kind]
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// New returns an error of the given kind with its default message.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags cause with kind. An empty msg falls back to the kind's default
// message; the cause stays reachable through errors.Is and errors.As.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

// Aggregate builds an error of kind whose message joins errs.
func Aggregate(kind Kind, errs []error) *Error {
	return &Error{Kind: kind, Errs: errs}
}

// KindOf returns the kind carried anywhere in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTimeout reports whether err is any deadline condition.
func IsTimeout(err error) bool {
	return KindOf(err).IsTimeout()
}
