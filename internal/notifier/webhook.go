package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazereport/internal/content"
	"github.com/good-yellow-bee/blazereport/pkg/config"
)

// WebhookConfig configures the generic webhook channel.
type WebhookConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// SigningSecret, when set, signs each body with HMAC-SHA256.
	SigningSecret string `yaml:"signing_secret"`
	// AllowHTTP permits plain http targets.
	AllowHTTP bool `yaml:"allow_http"`
}

// SetDefaults applies default values.
func (c *WebhookConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-BlazeReport-Signature"

// WebhookNotifier posts content as JSON to the recipient target URL.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	config.SetDefaults()
	return &WebhookNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

type webhookFile struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type webhookPayload struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	URL         string             `json:"url"`
	Text        string             `json:"text,omitempty"`
	Header      content.HeaderData `json:"header"`
	Table       *content.Table     `json:"table,omitempty"`
	Files       []webhookFile      `json:"files,omitempty"`
}

func buildWebhookPayload(c *content.Content) webhookPayload {
	p := webhookPayload{
		Name:        c.Name,
		Description: c.Description,
		URL:         c.URL,
		Text:        c.Text,
		Header:      c.Header,
		Table:       c.Table,
	}
	for i, shot := range c.Screenshots {
		p.Files = append(p.Files, webhookFile{Filename: screenshotName(c.Name, i, len(c.Screenshots)), ContentType: "image/png", Data: shot})
	}
	if len(c.PDF) > 0 {
		p.Files = append(p.Files, webhookFile{Filename: c.Name + ".pdf", ContentType: "application/pdf", Data: c.PDF})
	}
	if len(c.CSV) > 0 {
		p.Files = append(p.Files, webhookFile{Filename: c.Name + ".csv", ContentType: "text/csv", Data: c.CSV})
	}
	return p
}

// Send posts the content to the recipient target.
func (w *WebhookNotifier) Send(ctx context.Context, msg *Message) error {
	target := strings.TrimSpace(msg.Recipient.Config.Target)
	if err := validateWebhookURL(target); err != nil {
		if !(w.config.AllowHTTP && strings.HasPrefix(target, "http://")) {
			return clientError(w.Name(), err, "Invalid webhook recipient: %s", err.Error())
		}
	}

	body, err := json.Marshal(buildWebhookPayload(msg.Content))
	if err != nil {
		return clientError(w.Name(), err, "Failed to marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return clientError(w.Name(), err, "Failed to create webhook request: %s", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", config.UserAgent())
	if w.config.SigningSecret != "" {
		req.Header.Set(SignatureHeader, Sign([]byte(w.config.SigningSecret), body))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return systemError(w.Name(), err, "Webhook request failed: %s", err.Error())
	}
	defer resp.Body.Close()
	return checkResponse(w.Name(), resp)
}

// Close is a no-op for webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
