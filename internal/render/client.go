// Package render talks to the headless rendering service and the web app's
// data and permalink endpoints over HTTP.
package render

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/pkg/config"
)

// maxBodySize caps artifacts read from upstream services.
const maxBodySize = 64 << 20

// Config configures the HTTP clients.
type Config struct {
	// RendererURL is the base URL of the screenshot and pdf service.
	RendererURL string        `yaml:"renderer_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
}

// response is a fully read upstream reply.
type response struct {
	status      int
	body        []byte
	contentType string
}

// StatusError is returned for non-2xx upstream replies.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return "upstream returned status " + http.StatusText(e.Status) + ": " + e.Body
}

// client executes requests with retries on transport errors and 5xx/429.
type client struct {
	http     *http.Client
	executor failsafe.Executor[*response]
	logger   *zap.SugaredLogger
}

func newClient(cfg Config, logger *zap.SugaredLogger) *client {
	cfg.SetDefaults()
	policy := retrypolicy.NewBuilder[*response]().
		HandleIf(shouldRetry).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithJitterFactor(0.1).
		WithMaxRetries(cfg.MaxRetries).
		ReturnLastFailure().
		Build()
	return &client{
		http:     &http.Client{Timeout: cfg.Timeout},
		executor: failsafe.With[*response](policy),
		logger:   logging.OrNop(logger),
	}
}

func shouldRetry(resp *response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return true
	}
	switch resp.status {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	}
	return false
}

// do sends the request built by newReq, retrying as configured. The body
// factory is called once per attempt.
func (c *client) do(ctx context.Context, method, url, token, contentType string, body func() []byte) (*response, error) {
	resp, err := c.executor.WithContext(ctx).Get(func() (*response, error) {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body())
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rdr)
		if err != nil {
			return nil, errors.Wrap(err, "create request")
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("User-Agent", config.UserAgent())

		httpResp, err := c.http.Do(req)
		if err != nil {
			return nil, errors.Wrapf(err, "%s %s", method, url)
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
		if err != nil {
			return nil, errors.Wrap(err, "read response")
		}
		return &response{
			status:      httpResp.StatusCode,
			body:        data,
			contentType: httpResp.Header.Get("Content-Type"),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.status < 200 || resp.status > 299 {
		msg := strings.TrimSpace(string(resp.body))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return resp, &StatusError{Status: resp.status, Body: msg}
	}
	return resp, nil
}
