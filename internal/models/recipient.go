package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RecipientType is the delivery channel of a recipient.
type RecipientType string

const (
	RecipientEmail RecipientType = "Email"
	// RecipientSlack addresses channels by name. It is migrated to
	// RecipientSlackV2 the first time the workspace accepts id addressing.
	RecipientSlack   RecipientType = "Slack"
	RecipientSlackV2 RecipientType = "SlackV2"
	RecipientTeams   RecipientType = "Teams"
	RecipientWebhook RecipientType = "Webhook"
)

// ParseRecipientType converts a string to RecipientType.
func ParseRecipientType(s string) (RecipientType, error) {
	switch strings.ToLower(s) {
	case "email":
		return RecipientEmail, nil
	case "slack":
		return RecipientSlack, nil
	case "slackv2":
		return RecipientSlackV2, nil
	case "teams":
		return RecipientTeams, nil
	case "webhook":
		return RecipientWebhook, nil
	}
	return "", fmt.Errorf("unknown recipient type: %q", s)
}

// RecipientConfig is the channel-specific configuration blob.
type RecipientConfig struct {
	Target    string `json:"target"`
	CCTarget  string `json:"ccTarget,omitempty"`
	BCCTarget string `json:"bccTarget,omitempty"`
}

// Recipient is a typed delivery destination owned by a schedule.
type Recipient struct {
	ID         int64           `json:"id"`
	ScheduleID int64           `json:"schedule_id"`
	Type       RecipientType   `json:"type"`
	Config     RecipientConfig `json:"recipient_config_json"`
}

// Targets splits the target list on commas and semicolons.
func (c RecipientConfig) Targets() []string {
	return SplitTargets(c.Target)
}

// SplitTargets splits a comma or semicolon separated address list.
func SplitTargets(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// MarshalConfig encodes the config for storage.
func (r *Recipient) MarshalConfig() (string, error) {
	b, err := json.Marshal(r.Config)
	if err != nil {
		return "", fmt.Errorf("marshal recipient config: %w", err)
	}
	return string(b), nil
}

// UnmarshalConfig decodes a stored config blob.
func (r *Recipient) UnmarshalConfig(raw string) error {
	if raw == "" {
		r.Config = RecipientConfig{}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &r.Config); err != nil {
		return fmt.Errorf("unmarshal recipient config: %w", err)
	}
	return nil
}
