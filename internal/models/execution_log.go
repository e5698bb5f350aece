package models

import "time"

// ErrorNotificationMarker is the message logged after an error notification
// went out. Error grace periods are measured from the last entry carrying it.
const ErrorNotificationMarker = "Notification sent with error"

// ExecutionLog is one append-only record of a schedule state transition.
type ExecutionLog struct {
	ID           string      `json:"id"`
	ScheduleID   int64       `json:"schedule_id"`
	ExecutionID  string      `json:"execution_id"`
	ScheduledAt  time.Time   `json:"scheduled_dttm"`
	StartAt      time.Time   `json:"start_dttm"`
	EndAt        time.Time   `json:"end_dttm"`
	State        ReportState `json:"state"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Value        *float64    `json:"value,omitempty"`
	ValueRowJSON *string     `json:"value_row_json,omitempty"`
}
