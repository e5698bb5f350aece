package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazereport/internal/content"
	"github.com/good-yellow-bee/blazereport/internal/models"
)

func teamsRecipient(target string) models.Recipient {
	return models.Recipient{Type: models.RecipientTeams, Config: models.RecipientConfig{Target: target}}
}

func TestTeamsNotifierName(t *testing.T) {
	assert.Equal(t, "teams", NewTeamsNotifier(TeamsConfig{}).Name())
}

func TestTeamsNotifierSend(t *testing.T) {
	var received teamsMessage
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewTeamsNotifier(TeamsConfig{})
	n.httpClient = server.Client()

	c := testContent()
	c.Header.NotificationType = "Alert"
	c.Header.NotificationSource = "chart"
	c.Table = &content.Table{Columns: []string{"x"}, Rows: [][]string{{"1"}}}
	require.NoError(t, n.Send(context.Background(), &Message{Content: c, Recipient: teamsRecipient(server.URL)}))

	require.Len(t, received.Attachments, 1)
	card := received.Attachments[0].Content
	assert.Equal(t, "AdaptiveCard", card.Type)
	raw, _ := json.Marshal(card)
	assert.Contains(t, string(raw), `"Weekly"`)
	assert.Contains(t, string(raw), `"Action.OpenUrl"`)
	assert.Contains(t, string(raw), `"Monospace"`)
}

func TestTeamsNotifierErrors(t *testing.T) {
	n := NewTeamsNotifier(TeamsConfig{})

	err := n.Send(context.Background(), &Message{Content: testContent(), Recipient: teamsRecipient("http://insecure")})
	require.Error(t, err)
	assert.Equal(t, SeverityClient, severityOf(err))
	assert.Contains(t, err.Error(), "must use HTTPS")

	for status, want := range map[int]Severity{
		http.StatusBadRequest:         SeverityClient,
		http.StatusServiceUnavailable: SeveritySystem,
	} {
		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		n.httpClient = server.Client()
		err := n.Send(context.Background(), &Message{Content: testContent(), Recipient: teamsRecipient(server.URL)})
		server.Close()
		require.Error(t, err)
		assert.Equal(t, want, severityOf(err), "status %d", status)
	}
}

func TestTeamsNotifierContextCancellation(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	n := NewTeamsNotifier(TeamsConfig{})
	n.httpClient = server.Client()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := n.Send(ctx, &Message{Content: testContent(), Recipient: teamsRecipient(server.URL)})
	require.Error(t, err)
	assert.Equal(t, SeveritySystem, severityOf(err))
}

func TestBuildTeamsPayload_ErrorStyle(t *testing.T) {
	msg := buildTeamsPayload(&content.Content{Name: "Error occurred for Alert: cpu", Text: "boom"})
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"style":"attention"`)
	assert.Contains(t, string(raw), "**Error:** boom")
	assert.NotContains(t, string(raw), "Action.OpenUrl")
}
