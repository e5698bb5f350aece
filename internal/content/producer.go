package content

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/metrics"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

// Config controls URL resolution and screenshot geometry.
type Config struct {
	// BaseURL is where the renderer and exporter reach the web app.
	BaseURL string `yaml:"base_url"`
	// UserFriendlyBaseURL is used for links shown to recipients.
	UserFriendlyBaseURL string `yaml:"user_friendly_base_url"`
	ChartWindow         Size   `yaml:"chart_window"`
	DashboardWindow     Size   `yaml:"dashboard_window"`
	MaxScreenshotWidth  int    `yaml:"max_screenshot_width"`
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8088"
	}
	if c.UserFriendlyBaseURL == "" {
		c.UserFriendlyBaseURL = c.BaseURL
	}
	if c.ChartWindow == (Size{}) {
		c.ChartWindow = Size{Width: 3000, Height: 1200}
	}
	if c.DashboardWindow == (Size{}) {
		c.DashboardWindow = Size{Width: 1600, Height: 2000}
	}
	if c.MaxScreenshotWidth == 0 {
		c.MaxScreenshotWidth = 2400
	}
}

// Producer builds notification Content for schedules.
type Producer struct {
	cfg        Config
	renderer   Renderer
	exporter   DataExporter
	permalinks PermalinkIssuer
	urls       URLBuilder
	links      URLBuilder
	logger     *zap.SugaredLogger
}

// NewProducer creates a Producer. Any collaborator may be nil if the
// schedules it serves never need it.
func NewProducer(cfg Config, renderer Renderer, exporter DataExporter, permalinks PermalinkIssuer, logger *zap.SugaredLogger) *Producer {
	cfg.SetDefaults()
	return &Producer{
		cfg:        cfg,
		renderer:   renderer,
		exporter:   exporter,
		permalinks: permalinks,
		urls:       NewURLBuilder(cfg.BaseURL),
		links:      NewURLBuilder(cfg.UserFriendlyBaseURL),
		logger:     logging.OrNop(logger).With(logging.FieldComponent, "content"),
	}
}

// Produce renders the schedule's artifacts. s is a snapshot and is not
// modified.
func (p *Producer) Produce(ctx context.Context, s models.Schedule, opts Options) (*Content, error) {
	header := headerData(&s, opts.ExecutionID)
	link, err := p.targetURL(ctx, &s, p.links, opts.Features)
	if err != nil {
		return nil, err
	}

	c := &Content{
		Name:        contentName(&s),
		URL:         link,
		Description: s.Description,
		Header:      header,
	}

	if opts.Features.AlertsAttachReports || s.Type == models.TypeReport {
		var errorText string
		switch {
		case s.ReportFormat == models.FormatPNG:
			if c.Screenshots, err = p.observe(models.FormatPNG, func() ([][]byte, error) {
				return p.screenshots(ctx, &s, opts)
			}); err != nil {
				return nil, err
			}
			if len(c.Screenshots) == 0 {
				errorText = "Unexpected missing screenshot"
			}
		case s.ReportFormat == models.FormatPDF:
			if c.PDF, err = p.observeBytes(models.FormatPDF, func() ([]byte, error) {
				return p.pdf(ctx, &s, opts)
			}); err != nil {
				return nil, err
			}
			if len(c.PDF) == 0 {
				errorText = "Unexpected missing pdf"
			}
		case s.Chart != nil && s.ReportFormat == models.FormatCSV:
			if c.CSV, err = p.observeBytes(models.FormatCSV, func() ([]byte, error) {
				return p.csv(ctx, &s, opts)
			}); err != nil {
				return nil, err
			}
			if len(c.CSV) == 0 {
				errorText = "Unexpected missing csv file"
			}
		}
		if errorText != "" {
			return &Content{Name: s.Name, Text: errorText, URL: link, Header: header}, nil
		}
	}

	if s.Chart != nil && s.ReportFormat == models.FormatText {
		start := time.Now()
		if c.Table, err = p.table(ctx, &s, opts); err != nil {
			metrics.ContentFailuresTotal.WithLabelValues(string(models.FormatText), reporterr.KindOf(err).String()).Inc()
			return nil, err
		}
		metrics.ContentDuration.WithLabelValues(string(models.FormatText)).Observe(time.Since(start).Seconds())
	}
	return c, nil
}

// ErrorContent builds the content of an error notification. It never fails:
// if a stateful dashboard link cannot be issued the plain dashboard link is
// used instead.
func (p *Producer) ErrorContent(ctx context.Context, s models.Schedule, opts Options, name, text string) *Content {
	link, err := p.targetURL(ctx, &s, p.links, opts.Features)
	if err != nil {
		p.logger.Warnw("falling back to plain dashboard link", logging.FieldScheduleID, s.ID, logging.FieldError, err)
		link, _ = p.targetURL(ctx, &s, p.links, Features{})
	}
	return &Content{
		Name:   name,
		Text:   text,
		URL:    link,
		Header: headerData(&s, opts.ExecutionID),
	}
}

func (p *Producer) observe(format models.ReportFormat, fn func() ([][]byte, error)) ([][]byte, error) {
	start := time.Now()
	out, err := fn()
	if err != nil {
		metrics.ContentFailuresTotal.WithLabelValues(string(format), reporterr.KindOf(err).String()).Inc()
		return nil, err
	}
	metrics.ContentDuration.WithLabelValues(string(format)).Observe(time.Since(start).Seconds())
	return out, nil
}

func (p *Producer) observeBytes(format models.ReportFormat, fn func() ([]byte, error)) ([]byte, error) {
	out, err := p.observe(format, func() ([][]byte, error) {
		b, err := fn()
		return [][]byte{b}, err
	})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// targetURL resolves the single URL of the schedule's chart or dashboard.
func (p *Producer) targetURL(ctx context.Context, s *models.Schedule, base URLBuilder, f Features) (string, error) {
	if s.Chart != nil {
		return base.Explore(s.Chart.ID, s.ForceScreenshot), nil
	}
	if s.Extra.Dashboard != nil && f.AlertReportTabs {
		return p.tabURL(ctx, s, base, permalinkState(s.Extra.Dashboard))
	}
	return base.Dashboard(dashboardKey(s), s.ForceScreenshot), nil
}

// dashboardURLs returns one URL per tab to capture.
func (p *Producer) dashboardURLs(ctx context.Context, s *models.Schedule, f Features) ([]string, error) {
	state := s.Extra.Dashboard
	if state == nil || !f.AlertReportTabs {
		return []string{p.urls.Dashboard(dashboardKey(s), s.ForceScreenshot)}, nil
	}

	if state.Anchor != "" {
		var anchors []string
		if err := json.Unmarshal([]byte(state.Anchor), &anchors); err == nil {
			urls := make([]string, 0, len(anchors))
			for _, anchor := range anchors {
				u, err := p.tabURL(ctx, s, p.urls, PermalinkState{Anchor: anchor})
				if err != nil {
					return nil, err
				}
				urls = append(urls, u)
			}
			return urls, nil
		}
		p.logger.Debugw("anchor is not a list, using a single tab", logging.FieldScheduleID, s.ID)
	}

	u, err := p.tabURL(ctx, s, p.urls, permalinkState(state))
	if err != nil {
		return nil, err
	}
	return []string{u}, nil
}

func (p *Producer) tabURL(ctx context.Context, s *models.Schedule, base URLBuilder, state PermalinkState) (string, error) {
	if p.permalinks == nil {
		return "", errors.New("no permalink issuer configured")
	}
	key, err := p.permalinks.CreatePermalink(ctx, dashboardKey(s), state)
	if err != nil {
		return "", errors.Wrap(err, "create dashboard permalink")
	}
	return base.Permalink(key), nil
}

func (p *Producer) screenshots(ctx context.Context, s *models.Schedule, opts Options) ([][]byte, error) {
	var urls []string
	var window Size
	if s.Chart != nil {
		urls = []string{p.urls.Explore(s.Chart.ID, s.ForceScreenshot)}
		window = p.cfg.ChartWindow
	} else {
		var err error
		if urls, err = p.dashboardURLs(ctx, s, opts.Features); err != nil {
			return nil, err
		}
		window = p.cfg.DashboardWindow
	}

	width := window.Width
	if s.CustomWidth > 0 {
		width = s.CustomWidth
	}
	width = min(p.cfg.MaxScreenshotWidth, width)
	height := window.Height
	if s.CustomHeight > 0 {
		height = s.CustomHeight
	}

	if p.renderer == nil {
		return nil, reporterr.Newf(reporterr.ScreenshotFailed, "Failed taking a screenshot: no renderer configured")
	}

	captured := make([][]byte, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			img, err := p.renderer.CaptureScreenshot(gctx, ScreenshotRequest{
				URL:         u,
				WindowSize:  Size{Width: width, Height: height},
				ThumbSize:   window,
				Credentials: opts.Credentials,
			})
			captured[i] = img
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if isDeadline(ctx, err) {
			p.logger.Warnw("timeout while taking a screenshot", logging.FieldScheduleID, s.ID)
			return nil, reporterr.Wrap(reporterr.ScreenshotTimeout, err, "")
		}
		return nil, reporterr.Wrap(reporterr.ScreenshotFailed, err, fmt.Sprintf("Failed taking a screenshot %s", err))
	}

	images := make([][]byte, 0, len(captured))
	for _, img := range captured {
		if len(img) > 0 {
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		return nil, reporterr.New(reporterr.ScreenshotFailed)
	}
	return images, nil
}

func (p *Producer) pdf(ctx context.Context, s *models.Schedule, opts Options) ([]byte, error) {
	images, err := p.screenshots(ctx, s, opts)
	if err != nil {
		return nil, err
	}
	doc, err := p.renderer.BuildPDF(ctx, images)
	if err != nil {
		if isDeadline(ctx, err) {
			return nil, reporterr.Wrap(reporterr.ScreenshotTimeout, err, "")
		}
		return nil, reporterr.Wrap(reporterr.PdfFailed, err, fmt.Sprintf("Failed building pdf %s", err))
	}
	return doc, nil
}

// ensureQueryContext renders the chart once so the backend saves the query
// context that data exports depend on.
func (p *Producer) ensureQueryContext(ctx context.Context, s *models.Schedule, opts Options) error {
	if s.Chart.HasQueryContext {
		return nil
	}
	p.logger.Warnw("no query context found, taking a screenshot to generate it", logging.FieldScheduleID, s.ID)
	if _, err := p.screenshots(ctx, s, opts); err != nil {
		return reporterr.Wrap(reporterr.NoQueryContext, err, "")
	}
	return nil
}

func (p *Producer) csv(ctx context.Context, s *models.Schedule, opts Options) ([]byte, error) {
	u := p.urls.ChartData(s.Chart.ID, "csv", s.ForceScreenshot)
	if err := p.ensureQueryContext(ctx, s, opts); err != nil {
		return nil, err
	}
	if p.exporter == nil {
		return nil, reporterr.Newf(reporterr.CsvFailed, "Failed generating csv: no exporter configured")
	}

	p.logger.Infow("getting chart csv", "url", u, logging.FieldExecutor, opts.Credentials.Username)
	data, err := p.exporter.FetchCSV(ctx, u, opts.Credentials)
	if err != nil {
		if isDeadline(ctx, err) {
			return nil, reporterr.Wrap(reporterr.CsvTimeout, err, "")
		}
		return nil, reporterr.Wrap(reporterr.CsvFailed, err, fmt.Sprintf("Failed generating csv %s", err))
	}
	if len(data) == 0 {
		return nil, reporterr.New(reporterr.CsvFailed)
	}
	return data, nil
}

func (p *Producer) table(ctx context.Context, s *models.Schedule, opts Options) (*Table, error) {
	u := p.urls.ChartData(s.Chart.ID, "json", s.ForceScreenshot)
	if err := p.ensureQueryContext(ctx, s, opts); err != nil {
		return nil, err
	}
	if p.exporter == nil {
		return nil, reporterr.Newf(reporterr.DataFrameFailed, "Failed generating dataframe: no exporter configured")
	}

	p.logger.Infow("getting chart data", "url", u, logging.FieldExecutor, opts.Credentials.Username)
	t, err := p.exporter.FetchTable(ctx, u, opts.Credentials)
	if err != nil {
		if isDeadline(ctx, err) {
			return nil, reporterr.Wrap(reporterr.DataFrameTimeout, err, "")
		}
		return nil, reporterr.Wrap(reporterr.DataFrameFailed, err, fmt.Sprintf("Failed generating dataframe %s", err))
	}
	if t == nil {
		return nil, reporterr.New(reporterr.DataFrameFailed)
	}
	return t, nil
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func contentName(s *models.Schedule) string {
	if s.EmailSubject != "" {
		return s.EmailSubject
	}
	return s.Name + ": " + s.TargetTitle()
}

func dashboardKey(s *models.Schedule) string {
	if s.Dashboard == nil {
		return ""
	}
	if s.Dashboard.UUID != "" {
		return s.Dashboard.UUID
	}
	return strconv.FormatInt(s.Dashboard.ID, 10)
}

func permalinkState(d *models.DashboardState) PermalinkState {
	return PermalinkState{
		Anchor:     d.Anchor,
		DataMask:   d.DataMask,
		ActiveTabs: d.ActiveTabs,
		URLParams:  d.URLParams,
	}
}

func headerData(s *models.Schedule, executionID string) HeaderData {
	h := HeaderData{
		NotificationType:   string(s.Type),
		NotificationFormat: string(s.ReportFormat),
		ExecutionID:        executionID,
	}
	if s.Chart != nil {
		h.NotificationSource = "chart"
		h.ChartID = s.Chart.ID
	} else if s.Dashboard != nil {
		h.NotificationSource = "dashboard"
		h.DashboardID = s.Dashboard.ID
	}
	for _, o := range s.Owners {
		h.Owners = append(h.Owners, o.Username)
	}
	for _, r := range s.Recipients {
		if r.Type == models.RecipientSlack || r.Type == models.RecipientSlackV2 {
			h.SlackChannels = append(h.SlackChannels, r.Config.Target)
		}
	}
	return h
}
