package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/blazereport/pkg/config"
)

// SlackConfig holds Slack Web API configuration.
type SlackConfig struct {
	Token      string `yaml:"token"`
	APIBaseURL string `yaml:"api_base_url"`
	// V2Enabled makes legacy recipients migrate to channel ids once the
	// token can read the channel directory.
	V2Enabled bool          `yaml:"v2_enabled"`
	Timeout   time.Duration `yaml:"timeout"`
	// RateLimit is the sustained request rate per second.
	RateLimit     float64       `yaml:"rate_limit"`
	RateBurst     int           `yaml:"rate_burst"`
	DirectorySize int           `yaml:"directory_size"`
	DirectoryTTL  time.Duration `yaml:"directory_ttl"`
}

// SetDefaults applies default values.
func (c *SlackConfig) SetDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://slack.com/api"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 1
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
	if c.DirectorySize <= 0 {
		c.DirectorySize = 4096
	}
	if c.DirectoryTTL <= 0 {
		c.DirectoryTTL = 10 * time.Minute
	}
}

// Validate validates the Slack configuration.
func (c *SlackConfig) Validate() error {
	if c.Token == "" {
		return errors.New("slack token is required")
	}
	if _, err := url.Parse(c.APIBaseURL); err != nil {
		return errors.Wrap(err, "invalid slack api base url")
	}
	return nil
}

// SlackChannel is one entry of the workspace channel directory.
type SlackChannel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
}

// slackFile is a file shared alongside a message.
type slackFile struct {
	name string
	data []byte
}

// SlackClient is a minimal Slack Web API client shared by the Slack
// notifiers and the channel directory.
type SlackClient struct {
	config     SlackConfig
	httpClient *http.Client
	limiter    *rate.Limiter

	mu     sync.Mutex
	scopes []string
}

// NewSlackClient creates a Slack Web API client.
func NewSlackClient(config SlackConfig) (*SlackClient, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid slack config")
	}
	return &SlackClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}, nil
}

type slackEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// call invokes a Web API method. body is sent as JSON, or as a form when it
// is url.Values.
func (c *SlackClient) call(ctx context.Context, method string, body any, out any) (http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, systemError("slack", err, "Slack request for %s was not sent: %s", method, err.Error())
	}

	var (
		reader      io.Reader
		contentType string
	)
	switch b := body.(type) {
	case url.Values:
		reader = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, clientError("slack", err, "Failed to encode slack %s payload", method)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json; charset=utf-8"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.config.APIBaseURL, "/")+"/"+method, reader)
	if err != nil {
		return nil, clientError("slack", err, "Failed to create slack request: %s", err.Error())
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("User-Agent", config.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, systemError("slack", err, "Slack request failed: %s", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, systemError("slack", nil, "Slack rate limited %s, retry after %ss", method, resp.Header.Get("Retry-After"))
	}
	if err := checkResponse("slack", resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, systemError("slack", err, "Failed to read slack response: %s", err.Error())
	}
	var env slackEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, systemError("slack", err, "Invalid slack response for %s", method)
	}
	if !env.OK {
		return nil, clientError("slack", nil, "Slack API error: %s", env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, systemError("slack", err, "Invalid slack response for %s", method)
		}
	}
	return resp.Header, nil
}

// Scopes returns the OAuth scopes of the token. A successful lookup is
// cached for the life of the client.
func (c *SlackClient) Scopes(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scopes != nil {
		return c.scopes, nil
	}

	hdr, err := c.call(ctx, "auth.test", url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	scopes := []string{}
	for _, s := range strings.Split(hdr.Get("X-OAuth-Scopes"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	c.scopes = scopes
	return scopes, nil
}

// CanReadChannels reports whether the token can list public and private
// channels, which channel id addressing needs.
func (c *SlackClient) CanReadChannels(ctx context.Context) bool {
	scopes, err := c.Scopes(ctx)
	if err != nil {
		return false
	}
	return slices.Contains(scopes, "channels:read") && slices.Contains(scopes, "groups:read")
}

// PostMessage posts text to a channel, by id or by name.
func (c *SlackClient) PostMessage(ctx context.Context, channel, text string) error {
	_, err := c.call(ctx, "chat.postMessage", map[string]any{
		"channel": channel,
		"text":    text,
	}, nil)
	return err
}

// UploadFiles shares files in a channel with text as the initial comment.
func (c *SlackClient) UploadFiles(ctx context.Context, channelID, text string, files []slackFile) error {
	type uploadedFile struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	uploaded := make([]uploadedFile, 0, len(files))

	for _, f := range files {
		var ticket struct {
			UploadURL string `json:"upload_url"`
			FileID    string `json:"file_id"`
		}
		if _, err := c.call(ctx, "files.getUploadURLExternal", url.Values{
			"filename": {f.name},
			"length":   {strconv.Itoa(len(f.data))},
		}, &ticket); err != nil {
			return err
		}
		if err := c.putFile(ctx, ticket.UploadURL, f.data); err != nil {
			return err
		}
		uploaded = append(uploaded, uploadedFile{ID: ticket.FileID, Title: f.name})
	}

	_, err := c.call(ctx, "files.completeUploadExternal", map[string]any{
		"files":           uploaded,
		"channel_id":      channelID,
		"initial_comment": text,
	}, nil)
	return err
}

func (c *SlackClient) putFile(ctx context.Context, uploadURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return clientError("slack", err, "Invalid slack upload url")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return systemError("slack", err, "Slack file upload failed: %s", err.Error())
	}
	defer resp.Body.Close()
	return checkResponse("slack", resp)
}

// ListChannels returns one page of public and private channels.
func (c *SlackClient) ListChannels(ctx context.Context, cursor string) ([]SlackChannel, string, error) {
	var page struct {
		Channels []SlackChannel `json:"channels"`
		Meta     struct {
			NextCursor string `json:"next_cursor"`
		} `json:"response_metadata"`
	}
	form := url.Values{
		"types":            {"public_channel,private_channel"},
		"exclude_archived": {"true"},
		"limit":            {"999"},
	}
	if cursor != "" {
		form.Set("cursor", cursor)
	}
	if _, err := c.call(ctx, "conversations.list", form, &page); err != nil {
		return nil, "", err
	}
	return page.Channels, page.Meta.NextCursor, nil
}
