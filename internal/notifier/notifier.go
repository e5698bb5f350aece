// Package notifier delivers report content to schedule recipients over
// email, Slack, Teams and generic webhooks.
package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/good-yellow-bee/blazereport/internal/content"
	"github.com/good-yellow-bee/blazereport/internal/models"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g., "email", "slack").
	Name() string
	// Send delivers one message.
	Send(ctx context.Context, msg *Message) error
	// Close releases any resources.
	Close() error
}

// Message is the content addressed to a single recipient.
type Message struct {
	Content   *content.Content
	Recipient models.Recipient
}

// Severity of a failed delivery.
type Severity string

const (
	// SeverityClient is a recipient or channel misconfiguration.
	SeverityClient Severity = "client"
	// SeveritySystem is a transport or provider failure.
	SeveritySystem Severity = "system"
)

// ErrSlackV1 is returned by the legacy Slack notifier when the workspace
// requires channel ids. The dispatcher migrates the recipient and retries.
var ErrSlackV1 = errors.New("slack recipient must be migrated to channel ids")

// NotificationError is a failed delivery with the provider status. A
// status of 500 or above is a system failure.
type NotificationError struct {
	Channel string
	Status  int
	Msg     string
	cause   error
}

func (e *NotificationError) Error() string {
	return e.Msg
}

// Unwrap exposes the underlying cause.
func (e *NotificationError) Unwrap() error {
	return e.cause
}

// Severity classifies the failure.
func (e *NotificationError) Severity() Severity {
	if e.Status >= http.StatusInternalServerError {
		return SeveritySystem
	}
	return SeverityClient
}

func clientError(channel string, cause error, format string, args ...any) *NotificationError {
	return &NotificationError{
		Channel: channel,
		Status:  http.StatusUnprocessableEntity,
		Msg:     fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

func systemError(channel string, cause error, format string, args ...any) *NotificationError {
	return &NotificationError{
		Channel: channel,
		Status:  http.StatusInternalServerError,
		Msg:     fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

// severityOf classifies any delivery error. Errors that are not a
// NotificationError count as system failures.
func severityOf(err error) Severity {
	var ne *NotificationError
	if errors.As(err, &ne) {
		return ne.Severity()
	}
	return SeveritySystem
}

// checkResponse turns a non-2xx response into a NotificationError carrying
// the provider status.
func checkResponse(channel string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &NotificationError{
		Channel: channel,
		Status:  resp.StatusCode,
		Msg:     fmt.Sprintf("%s API error: status %d, body: %s", channel, resp.StatusCode, string(body)),
	}
}
