package logging

// Structured field names used across components.
const (
	FieldComponent     = "component"
	FieldScheduleID    = "schedule_id"
	FieldExecutionID   = "execution_id"
	FieldState         = "state"
	FieldRecipientType = "recipient_type"
	FieldError         = "error"
	FieldDurationMS    = "duration_ms"
	FieldFormat        = "format"
	FieldExecutor      = "executor"
)
