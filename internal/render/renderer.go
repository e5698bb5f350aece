package render

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/content"
)

// Renderer is a content.Renderer backed by the rendering service.
type Renderer struct {
	base   string
	client *client
}

// NewRenderer creates a renderer client.
func NewRenderer(cfg Config, logger *zap.SugaredLogger) (*Renderer, error) {
	if cfg.RendererURL == "" {
		return nil, errors.New("renderer url is required")
	}
	return &Renderer{
		base:   strings.TrimRight(cfg.RendererURL, "/"),
		client: newClient(cfg, logger),
	}, nil
}

type screenshotRequest struct {
	URL        string       `json:"url"`
	WindowSize content.Size `json:"window_size"`
	ThumbSize  content.Size `json:"thumb_size"`
	User       string       `json:"user"`
}

// CaptureScreenshot implements content.Renderer. A 204 reply means the page
// rendered nothing.
func (r *Renderer) CaptureScreenshot(ctx context.Context, req content.ScreenshotRequest) ([]byte, error) {
	payload, err := json.Marshal(screenshotRequest{
		URL:        req.URL,
		WindowSize: req.WindowSize,
		ThumbSize:  req.ThumbSize,
		User:       req.Credentials.Username,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal screenshot request")
	}
	resp, err := r.client.do(ctx, http.MethodPost, r.base+"/screenshot", req.Credentials.Token,
		"application/json", func() []byte { return payload })
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNoContent {
		return nil, nil
	}
	return resp.body, nil
}

type pdfRequest struct {
	Images [][]byte `json:"images"`
}

// BuildPDF implements content.Renderer.
func (r *Renderer) BuildPDF(ctx context.Context, screenshots [][]byte) ([]byte, error) {
	payload, err := json.Marshal(pdfRequest{Images: screenshots})
	if err != nil {
		return nil, errors.Wrap(err, "marshal pdf request")
	}
	resp, err := r.client.do(ctx, http.MethodPost, r.base+"/pdf", "", "application/json",
		func() []byte { return payload })
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}
