package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/good-yellow-bee/blazereport/internal/content"
)

// SlackNotifier delivers to legacy recipients addressed by channel name.
type SlackNotifier struct {
	client *SlackClient
}

// NewSlackNotifier creates a legacy Slack notifier.
func NewSlackNotifier(client *SlackClient) *SlackNotifier {
	return &SlackNotifier{client: client}
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send posts the message body to each named channel. It returns ErrSlackV1
// when the recipient has to be migrated first: the workspace supports id
// addressing or the content carries files, which can only be shared by id.
func (s *SlackNotifier) Send(ctx context.Context, msg *Message) error {
	if len(slackFiles(msg.Content)) > 0 {
		return ErrSlackV1
	}
	if s.client.config.V2Enabled && s.client.CanReadChannels(ctx) {
		return ErrSlackV1
	}

	channels := msg.Recipient.Config.Targets()
	if len(channels) == 0 {
		return clientError(s.Name(), nil, "Slack recipient has no channels")
	}
	body := chatBody(msg.Content)
	for _, ch := range channels {
		if err := s.client.PostMessage(ctx, normalizeChannelName(ch), body); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// SlackV2Notifier delivers to recipients addressed by channel id.
type SlackV2Notifier struct {
	client *SlackClient
}

// NewSlackV2Notifier creates a Slack notifier for channel id recipients.
func NewSlackV2Notifier(client *SlackClient) *SlackV2Notifier {
	return &SlackV2Notifier{client: client}
}

// Name returns "slackv2".
func (s *SlackV2Notifier) Name() string {
	return "slackv2"
}

// Send shares the content in every channel, uploading files when present.
func (s *SlackV2Notifier) Send(ctx context.Context, msg *Message) error {
	channels := msg.Recipient.Config.Targets()
	if len(channels) == 0 {
		return clientError(s.Name(), nil, "Slack recipient has no channels")
	}

	body := chatBody(msg.Content)
	files := slackFiles(msg.Content)
	for _, ch := range channels {
		var err error
		if len(files) > 0 {
			err = s.client.UploadFiles(ctx, ch, body, files)
		} else {
			err = s.client.PostMessage(ctx, ch, body)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for Slack notifier.
func (s *SlackV2Notifier) Close() error {
	return nil
}

func slackFiles(c *content.Content) []slackFile {
	if c.Text != "" {
		return nil
	}
	var files []slackFile
	switch {
	case len(c.CSV) > 0:
		files = append(files, slackFile{name: c.Name + ".csv", data: c.CSV})
	case len(c.Screenshots) > 0:
		for i, shot := range c.Screenshots {
			files = append(files, slackFile{name: screenshotName(c.Name, i, len(c.Screenshots)), data: shot})
		}
	case len(c.PDF) > 0:
		files = append(files, slackFile{name: c.Name + ".pdf", data: c.PDF})
	}
	return files
}

func screenshotName(name string, i, n int) string {
	if n > 1 {
		return fmt.Sprintf("%s_%d.png", name, i+1)
	}
	return name + ".png"
}

func normalizeChannelName(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "#")
}
