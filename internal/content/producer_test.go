package content

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

type fakeRenderer struct {
	mu       sync.Mutex
	requests []ScreenshotRequest
	image    []byte
	err      error
	pdfErr   error
}

func (f *fakeRenderer) CaptureScreenshot(_ context.Context, req ScreenshotRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.image, f.err
}

func (f *fakeRenderer) BuildPDF(_ context.Context, screenshots [][]byte) ([]byte, error) {
	if f.pdfErr != nil {
		return nil, f.pdfErr
	}
	return []byte(fmt.Sprintf("%%PDF pages=%d", len(screenshots))), nil
}

type fakeExporter struct {
	csv   []byte
	table *Table
	err   error
	urls  []string
}

func (f *fakeExporter) FetchCSV(_ context.Context, url string, _ Credentials) ([]byte, error) {
	f.urls = append(f.urls, url)
	return f.csv, f.err
}

func (f *fakeExporter) FetchTable(_ context.Context, url string, _ Credentials) (*Table, error) {
	f.urls = append(f.urls, url)
	return f.table, f.err
}

type fakePermalinks struct {
	mu     sync.Mutex
	states []PermalinkState
	err    error
}

func (f *fakePermalinks) CreatePermalink(_ context.Context, _ string, state PermalinkState) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.states = append(f.states, state)
	return fmt.Sprintf("key%d", len(f.states)), nil
}

func chartSchedule(format models.ReportFormat) models.Schedule {
	return models.Schedule{
		ID:           1,
		Name:         "Daily",
		Type:         models.TypeReport,
		Chart:        &models.ChartRef{ID: 42, Name: "Revenue", HasQueryContext: true},
		ReportFormat: format,
		Owners:       []models.User{{Username: "ann"}},
		Recipients: []models.Recipient{
			{Type: models.RecipientEmail, Config: models.RecipientConfig{Target: "a@x.io"}},
			{Type: models.RecipientSlackV2, Config: models.RecipientConfig{Target: "C1"}},
		},
	}
}

func dashboardSchedule() models.Schedule {
	return models.Schedule{
		ID:           2,
		Name:         "Weekly",
		Type:         models.TypeReport,
		Dashboard:    &models.DashboardRef{ID: 9, UUID: "d-uuid", Title: "Ops"},
		ReportFormat: models.FormatPNG,
	}
}

func newTestProducer(r Renderer, e DataExporter, p PermalinkIssuer) *Producer {
	return NewProducer(Config{BaseURL: "http://app", UserFriendlyBaseURL: "https://bi.example.com"}, r, e, p, nil)
}

func TestProduce_ChartScreenshot(t *testing.T) {
	r := &fakeRenderer{image: []byte("png")}
	p := newTestProducer(r, nil, nil)
	s := chartSchedule(models.FormatPNG)
	s.CustomWidth = 5000
	s.CustomHeight = 700

	c, err := p.Produce(context.Background(), s, Options{ExecutionID: "e1"})
	require.NoError(t, err)

	assert.Equal(t, "Daily: Revenue", c.Name)
	assert.Equal(t, [][]byte{[]byte("png")}, c.Screenshots)
	assert.True(t, strings.HasPrefix(c.URL, "https://bi.example.com/explore/"))
	require.Len(t, r.requests, 1)
	assert.Equal(t, Size{Width: 2400, Height: 700}, r.requests[0].WindowSize, "width is capped")
	assert.True(t, strings.HasPrefix(r.requests[0].URL, "http://app/explore/"))

	assert.Equal(t, "chart", c.Header.NotificationSource)
	assert.Equal(t, int64(42), c.Header.ChartID)
	assert.Equal(t, []string{"ann"}, c.Header.Owners)
	assert.Equal(t, []string{"C1"}, c.Header.SlackChannels)
	assert.Equal(t, "e1", c.Header.ExecutionID)
}

func TestProduce_AlertWithoutAttachSkipsArtifacts(t *testing.T) {
	r := &fakeRenderer{image: []byte("png")}
	p := newTestProducer(r, nil, nil)
	s := chartSchedule(models.FormatPNG)
	s.Type = models.TypeAlert

	c, err := p.Produce(context.Background(), s, Options{})
	require.NoError(t, err)
	assert.Empty(t, c.Screenshots)
	assert.Empty(t, r.requests)

	c, err = p.Produce(context.Background(), s, Options{Features: Features{AlertsAttachReports: true}})
	require.NoError(t, err)
	assert.Len(t, c.Screenshots, 1)
}

func TestProduce_ScreenshotTimeout(t *testing.T) {
	r := &fakeRenderer{err: context.DeadlineExceeded}
	p := newTestProducer(r, nil, nil)

	_, err := p.Produce(context.Background(), chartSchedule(models.FormatPNG), Options{})
	require.Error(t, err)
	assert.Equal(t, reporterr.ScreenshotTimeout, reporterr.KindOf(err))
}

func TestProduce_ScreenshotFailure(t *testing.T) {
	r := &fakeRenderer{err: errors.New("browser crashed")}
	p := newTestProducer(r, nil, nil)

	_, err := p.Produce(context.Background(), chartSchedule(models.FormatPNG), Options{})
	require.Error(t, err)
	assert.Equal(t, reporterr.ScreenshotFailed, reporterr.KindOf(err))
	assert.Contains(t, err.Error(), "Failed taking a screenshot browser crashed")
}

func TestProduce_EmptyScreenshotFails(t *testing.T) {
	p := newTestProducer(&fakeRenderer{}, nil, nil)
	_, err := p.Produce(context.Background(), chartSchedule(models.FormatPNG), Options{})
	assert.Equal(t, reporterr.ScreenshotFailed, reporterr.KindOf(err))
}

func TestProduce_PDF(t *testing.T) {
	p := newTestProducer(&fakeRenderer{image: []byte("png")}, nil, nil)
	c, err := p.Produce(context.Background(), chartSchedule(models.FormatPDF), Options{})
	require.NoError(t, err)
	assert.Equal(t, "%PDF pages=1", string(c.PDF))

	p = newTestProducer(&fakeRenderer{image: []byte("png"), pdfErr: errors.New("bad image")}, nil, nil)
	_, err = p.Produce(context.Background(), chartSchedule(models.FormatPDF), Options{})
	assert.Equal(t, reporterr.PdfFailed, reporterr.KindOf(err))
}

func TestProduce_CSV(t *testing.T) {
	e := &fakeExporter{csv: []byte("a,b\n1,2\n")}
	p := newTestProducer(&fakeRenderer{}, e, nil)

	c, err := p.Produce(context.Background(), chartSchedule(models.FormatCSV), Options{})
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(c.CSV))
	require.Len(t, e.urls, 1)
	assert.Contains(t, e.urls[0], "/api/v1/chart/42/data/?")
	assert.Contains(t, e.urls[0], "format=csv")
	assert.Contains(t, e.urls[0], "type=post_processed")
}

func TestProduce_CSVTimeoutAndFailure(t *testing.T) {
	p := newTestProducer(&fakeRenderer{}, &fakeExporter{err: context.DeadlineExceeded}, nil)
	_, err := p.Produce(context.Background(), chartSchedule(models.FormatCSV), Options{})
	assert.Equal(t, reporterr.CsvTimeout, reporterr.KindOf(err))

	p = newTestProducer(&fakeRenderer{}, &fakeExporter{err: errors.New("502")}, nil)
	_, err = p.Produce(context.Background(), chartSchedule(models.FormatCSV), Options{})
	assert.Equal(t, reporterr.CsvFailed, reporterr.KindOf(err))

	p = newTestProducer(&fakeRenderer{}, &fakeExporter{}, nil)
	_, err = p.Produce(context.Background(), chartSchedule(models.FormatCSV), Options{})
	assert.Equal(t, reporterr.CsvFailed, reporterr.KindOf(err))
}

func TestProduce_CSVWithoutQueryContext(t *testing.T) {
	s := chartSchedule(models.FormatCSV)
	s.Chart.HasQueryContext = false

	r := &fakeRenderer{image: []byte("png")}
	e := &fakeExporter{csv: []byte("x\n")}
	p := newTestProducer(r, e, nil)
	c, err := p.Produce(context.Background(), s, Options{})
	require.NoError(t, err)
	assert.Len(t, r.requests, 1, "a screenshot populates the query context first")
	assert.Equal(t, "x\n", string(c.CSV))

	p = newTestProducer(&fakeRenderer{err: errors.New("no browser")}, e, nil)
	_, err = p.Produce(context.Background(), s, Options{})
	require.Error(t, err)
	assert.Equal(t, reporterr.NoQueryContext, reporterr.KindOf(err))
	assert.Contains(t, err.Error(), "no query context saved")
}

func TestProduce_EmbeddedTable(t *testing.T) {
	table := &Table{Columns: []string{"n"}, Rows: [][]string{{"1"}}}
	e := &fakeExporter{table: table}
	p := newTestProducer(nil, e, nil)

	c, err := p.Produce(context.Background(), chartSchedule(models.FormatText), Options{})
	require.NoError(t, err)
	assert.Same(t, table, c.Table)
	assert.Contains(t, e.urls[0], "format=json")

	p = newTestProducer(nil, &fakeExporter{err: context.DeadlineExceeded}, nil)
	_, err = p.Produce(context.Background(), chartSchedule(models.FormatText), Options{})
	assert.Equal(t, reporterr.DataFrameTimeout, reporterr.KindOf(err))
}

func TestProduce_EmailSubjectOverridesName(t *testing.T) {
	p := newTestProducer(&fakeRenderer{image: []byte("png")}, nil, nil)
	s := chartSchedule(models.FormatPNG)
	s.EmailSubject = "KPIs"
	c, err := p.Produce(context.Background(), s, Options{})
	require.NoError(t, err)
	assert.Equal(t, "KPIs", c.Name)
}

func TestProduce_DashboardTabs(t *testing.T) {
	r := &fakeRenderer{image: []byte("png")}
	links := &fakePermalinks{}
	p := newTestProducer(r, nil, links)
	s := dashboardSchedule()
	s.Extra.Dashboard = &models.DashboardState{Anchor: `["TAB-1","TAB-2"]`}

	c, err := p.Produce(context.Background(), s, Options{Features: Features{AlertReportTabs: true}})
	require.NoError(t, err)

	assert.Len(t, c.Screenshots, 2, "one artifact per tab")
	assert.Equal(t, "Weekly: Ops", c.Name)
	assert.Equal(t, "dashboard", c.Header.NotificationSource)
	// One permalink for the link plus one per tab.
	require.Len(t, links.states, 3)
	assert.Equal(t, "TAB-1", links.states[1].Anchor)
	assert.Nil(t, links.states[1].DataMask)
	assert.Equal(t, "TAB-2", links.states[2].Anchor)
	assert.Len(t, r.requests, 2)
	assert.Equal(t, Size{Width: 1600, Height: 2000}, r.requests[0].WindowSize)
}

func TestProduce_DashboardSingleAnchor(t *testing.T) {
	r := &fakeRenderer{image: []byte("png")}
	links := &fakePermalinks{}
	p := newTestProducer(r, nil, links)
	s := dashboardSchedule()
	s.Extra.Dashboard = &models.DashboardState{Anchor: "TAB-1", ActiveTabs: []string{"TAB-1"}}

	_, err := p.Produce(context.Background(), s, Options{Features: Features{AlertReportTabs: true}})
	require.NoError(t, err)
	require.Len(t, r.requests, 1)
	assert.Contains(t, r.requests[0].URL, "/superset/dashboard/p/")
	assert.Equal(t, []string{"TAB-1"}, links.states[1].ActiveTabs)
}

func TestProduce_DashboardWithoutTabsFeature(t *testing.T) {
	r := &fakeRenderer{image: []byte("png")}
	p := newTestProducer(r, nil, &fakePermalinks{})
	s := dashboardSchedule()
	s.Extra.Dashboard = &models.DashboardState{Anchor: `["TAB-1","TAB-2"]`}

	c, err := p.Produce(context.Background(), s, Options{})
	require.NoError(t, err)
	assert.Len(t, c.Screenshots, 1)
	assert.Equal(t, "https://bi.example.com/superset/dashboard/d-uuid/?force=false", c.URL)
}

func TestErrorContentFallsBackWhenPermalinkFails(t *testing.T) {
	p := newTestProducer(nil, nil, &fakePermalinks{err: errors.New("kv down")})
	s := dashboardSchedule()
	s.Extra.Dashboard = &models.DashboardState{Anchor: "TAB-1"}

	c := p.ErrorContent(context.Background(), s, Options{Features: Features{AlertReportTabs: true}}, "Error occurred for Report: Weekly", "boom")
	assert.Equal(t, "boom", c.Text)
	assert.Equal(t, "https://bi.example.com/superset/dashboard/d-uuid/?force=false", c.URL)
}
