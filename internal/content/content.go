// Package content turns a schedule into the artifacts attached to its
// notifications: screenshots, a PDF, a CSV export or an embedded table.
package content

import (
	"context"
)

// Size is a browser window or thumbnail size in pixels.
type Size struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Credentials identify the executor to rendering and export backends.
type Credentials struct {
	Username string
	// Token is a bearer token minted for Username.
	Token string
}

// Features are the toggles that change what content is produced.
type Features struct {
	// AlertsAttachReports attaches artifacts to alerts, not only reports.
	AlertsAttachReports bool `yaml:"alerts_attach_reports"`
	// AlertReportTabs renders dashboards in their saved tab state.
	AlertReportTabs bool `yaml:"alert_report_tabs"`
}

// Options carry per-run inputs to the Producer.
type Options struct {
	ExecutionID string
	Credentials Credentials
	Features    Features
}

// HeaderData is the metadata describing a notification.
type HeaderData struct {
	NotificationType   string   `json:"notification_type"`
	NotificationSource string   `json:"notification_source"`
	NotificationFormat string   `json:"notification_format"`
	ChartID            int64    `json:"chart_id,omitempty"`
	DashboardID        int64    `json:"dashboard_id,omitempty"`
	Owners             []string `json:"owners"`
	SlackChannels      []string `json:"slack_channels,omitempty"`
	ExecutionID        string   `json:"execution_id"`
}

// Content is what a notifier sends. It is built for one execution and
// discarded after delivery.
type Content struct {
	Name        string
	URL         string
	Description string
	Screenshots [][]byte
	PDF         []byte
	CSV         []byte
	Table       *Table
	// Text replaces the artifacts when production came back empty, and
	// carries the message of error notifications.
	Text   string
	Header HeaderData
}

// ScreenshotRequest describes one capture.
type ScreenshotRequest struct {
	URL         string
	WindowSize  Size
	ThumbSize   Size
	Credentials Credentials
}

// Renderer captures screenshots and assembles PDFs.
type Renderer interface {
	// CaptureScreenshot returns nil bytes when the page rendered nothing.
	CaptureScreenshot(ctx context.Context, req ScreenshotRequest) ([]byte, error)
	BuildPDF(ctx context.Context, screenshots [][]byte) ([]byte, error)
}

// DataExporter fetches chart data.
type DataExporter interface {
	FetchCSV(ctx context.Context, url string, creds Credentials) ([]byte, error)
	FetchTable(ctx context.Context, url string, creds Credentials) (*Table, error)
}

// PermalinkIssuer stores dashboard state and returns its permalink key.
type PermalinkIssuer interface {
	CreatePermalink(ctx context.Context, dashboardID string, state PermalinkState) (string, error)
}

// PermalinkState is the dashboard state stored behind a permalink.
type PermalinkState struct {
	Anchor     string         `json:"anchor,omitempty"`
	DataMask   map[string]any `json:"dataMask"`
	ActiveTabs []string       `json:"activeTabs"`
	URLParams  [][2]string    `json:"urlParams"`
}
