package render

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazereport/internal/content"
)

func testConfig(url string) Config {
	return Config{
		RendererURL: url,
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}
}

func TestRenderer_CaptureScreenshot(t *testing.T) {
	var got screenshotRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/screenshot", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	r, err := NewRenderer(testConfig(srv.URL), nil)
	require.NoError(t, err)

	img, err := r.CaptureScreenshot(context.Background(), content.ScreenshotRequest{
		URL:         "http://app/explore/",
		WindowSize:  content.Size{Width: 800, Height: 600},
		Credentials: content.Credentials{Username: "bot", Token: "tok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(img))
	assert.Equal(t, "http://app/explore/", got.URL)
	assert.Equal(t, 800, got.WindowSize.Width)
	assert.Equal(t, "bot", got.User)
}

func TestRenderer_NoContentMeansEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r, err := NewRenderer(testConfig(srv.URL), nil)
	require.NoError(t, err)
	img, err := r.CaptureScreenshot(context.Background(), content.ScreenshotRequest{URL: "u"})
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestRenderer_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotEmpty(t, body, "body is replayed on every attempt")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	r, err := NewRenderer(testConfig(srv.URL), nil)
	require.NoError(t, err)
	doc, err := r.BuildPDF(context.Background(), [][]byte{[]byte("a")})
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(doc))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRenderer_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad window size", http.StatusBadRequest)
	}))
	defer srv.Close()

	r, err := NewRenderer(testConfig(srv.URL), nil)
	require.NoError(t, err)
	_, err = r.CaptureScreenshot(context.Background(), content.ScreenshotRequest{URL: "u"})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Contains(t, se.Body, "bad window size")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRenderer_DeadlineSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	r, err := NewRenderer(testConfig(srv.URL), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = r.CaptureScreenshot(ctx, content.ScreenshotRequest{URL: "u"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNewRendererRequiresURL(t *testing.T) {
	_, err := NewRenderer(Config{}, nil)
	assert.Error(t, err)
}

func TestExporter_FetchCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "csv", r.URL.Query().Get("format"))
		w.Write([]byte("a,b\n1,2\n"))
	}))
	defer srv.Close()

	e := NewExporter(testConfig(""), nil)
	data, err := e.FetchCSV(context.Background(), srv.URL+"/api/v1/chart/1/data/?format=csv", content.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestExporter_FetchTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":[{"colnames":["city","total"],"data":[{"city":"Oslo","total":12},{"city":"Rome","total":3.5}]}]}`))
	}))
	defer srv.Close()

	e := NewExporter(testConfig(""), nil)
	tbl, err := e.FetchTable(context.Background(), srv.URL, content.Credentials{})
	require.NoError(t, err)
	require.NotNil(t, tbl)
	assert.Equal(t, []string{"city", "total"}, tbl.Columns)
	assert.Equal(t, [][]string{{"Oslo", "12"}, {"Rome", "3.5"}}, tbl.Rows)
}

func TestExporter_FetchTableEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	tbl, err := NewExporter(testConfig(""), nil).FetchTable(context.Background(), srv.URL, content.Credentials{})
	require.NoError(t, err)
	assert.Nil(t, tbl)
}

func TestPermalinkClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/dashboard/d-uuid/permalink", r.URL.Path)
		assert.Equal(t, "Bearer svc", r.Header.Get("Authorization"))
		var state content.PermalinkState
		require.NoError(t, json.NewDecoder(r.Body).Decode(&state))
		assert.Equal(t, "TAB-1", state.Anchor)
		w.Write([]byte(`{"key":"abc123","url":"http://app/superset/dashboard/p/abc123/"}`))
	}))
	defer srv.Close()

	p := NewPermalinkClient(srv.URL, func() (string, error) { return "svc", nil }, testConfig(""), nil)
	key, err := p.CreatePermalink(context.Background(), "d-uuid", content.PermalinkState{Anchor: "TAB-1"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)
}

func TestPermalinkClient_MissingKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := NewPermalinkClient(srv.URL, nil, testConfig(""), nil)
	_, err := p.CreatePermalink(context.Background(), "1", content.PermalinkState{})
	assert.Error(t, err)
}
