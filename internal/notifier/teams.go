package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/good-yellow-bee/blazereport/internal/content"
)

// TeamsConfig holds Microsoft Teams webhook configuration.
type TeamsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SetDefaults applies default values.
func (c *TeamsConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// validateWebhookURL checks a recipient webhook target.
func validateWebhookURL(u string) error {
	if u == "" {
		return errors.New("webhook URL is required")
	}
	if !strings.HasPrefix(u, "https://") {
		return errors.New("webhook URL must use HTTPS")
	}
	return nil
}

// TeamsNotifier posts Adaptive Cards to the Teams webhook in the recipient
// target.
type TeamsNotifier struct {
	config     TeamsConfig
	httpClient *http.Client
}

// NewTeamsNotifier creates a new Teams notifier.
func NewTeamsNotifier(config TeamsConfig) *TeamsNotifier {
	config.SetDefaults()
	return &TeamsNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns "teams".
func (t *TeamsNotifier) Name() string {
	return "teams"
}

// Send posts the content card to the recipient webhook.
func (t *TeamsNotifier) Send(ctx context.Context, msg *Message) error {
	webhook := strings.TrimSpace(msg.Recipient.Config.Target)
	if err := validateWebhookURL(webhook); err != nil {
		return clientError(t.Name(), err, "Invalid Teams recipient: %s", err.Error())
	}

	jsonData, err := json.Marshal(buildTeamsPayload(msg.Content))
	if err != nil {
		return clientError(t.Name(), err, "Failed to marshal Teams payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(jsonData))
	if err != nil {
		return clientError(t.Name(), err, "Failed to create Teams request: %s", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return systemError(t.Name(), err, "Teams request failed: %s", err.Error())
	}
	defer resp.Body.Close()
	return checkResponse(t.Name(), resp)
}

// Close is a no-op for Teams notifier.
func (t *TeamsNotifier) Close() error {
	return nil
}

// teamsMessage represents the Teams webhook payload with Adaptive Card.
type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

type adaptiveCard struct {
	Schema  string `json:"$schema"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Body    []any  `json:"body"`
	Actions []any  `json:"actions,omitempty"`
}

// Adaptive Card element types
type textBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Size     string `json:"size,omitempty"`
	Weight   string `json:"weight,omitempty"`
	Color    string `json:"color,omitempty"`
	FontType string `json:"fontType,omitempty"`
	Wrap     bool   `json:"wrap,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []fact `json:"facts"`
}

type fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type container struct {
	Type  string `json:"type"`
	Style string `json:"style,omitempty"`
	Items []any  `json:"items"`
}

type openURLAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// buildTeamsPayload builds the Adaptive Card for c. Error notices use the
// attention style.
func buildTeamsPayload(c *content.Content) teamsMessage {
	style := "accent"
	if c.Text != "" {
		style = "attention"
	}

	body := []any{
		container{
			Type:  "Container",
			Style: style,
			Items: []any{
				textBlock{Type: "TextBlock", Text: c.Name, Size: "Large", Weight: "Bolder", Wrap: true},
			},
		},
	}
	if c.Description != "" {
		body = append(body, textBlock{Type: "TextBlock", Text: c.Description, Wrap: true})
	}

	facts := []fact{
		{Title: "Type", Value: c.Header.NotificationType},
		{Title: "Source", Value: c.Header.NotificationSource},
	}
	if c.Header.NotificationFormat != "" {
		facts = append(facts, fact{Title: "Format", Value: c.Header.NotificationFormat})
	}
	body = append(body, factSet{Type: "FactSet", Facts: facts})

	if c.Text != "" {
		body = append(body, textBlock{Type: "TextBlock", Text: "**Error:** " + c.Text, Wrap: true, Color: "attention"})
	} else if c.Table != nil {
		body = append(body, textBlock{
			Type:     "TextBlock",
			Text:     truncate(c.Table.Text(), maxChatMessageSize),
			FontType: "Monospace",
			Wrap:     true,
		})
	}

	card := adaptiveCard{
		Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
		Type:    "AdaptiveCard",
		Version: "1.4",
		Body:    body,
	}
	if c.URL != "" {
		card.Actions = []any{openURLAction{Type: "Action.OpenUrl", Title: "Explore in BlazeReport", URL: c.URL}}
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				Content:     card,
			},
		},
	}
}
