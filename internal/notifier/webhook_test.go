package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazereport/internal/models"
)

func TestWebhookNotifierSend(t *testing.T) {
	var (
		payload webhookPayload
		sig     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		sig = r.Header.Get(SignatureHeader)
		assert.Equal(t, Sign([]byte("s3cret"), body), sig)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{SigningSecret: "s3cret", AllowHTTP: true})
	c := testContent()
	c.PDF = []byte("%PDF")
	err := n.Send(context.Background(), &Message{
		Content:   c,
		Recipient: models.Recipient{Type: models.RecipientWebhook, Config: models.RecipientConfig{Target: server.URL}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Weekly", payload.Name)
	assert.Equal(t, "exec-1", payload.Header.ExecutionID)
	require.Len(t, payload.Files, 1)
	assert.Equal(t, "Weekly.pdf", payload.Files[0].Filename)
	assert.Equal(t, []byte("%PDF"), payload.Files[0].Data)
	assert.NotEmpty(t, sig)
}

func TestWebhookNotifierRejectsHTTP(t *testing.T) {
	n := NewWebhookNotifier(WebhookConfig{})
	err := n.Send(context.Background(), &Message{
		Content:   testContent(),
		Recipient: models.Recipient{Type: models.RecipientWebhook, Config: models.RecipientConfig{Target: "http://example.com"}},
	})
	require.Error(t, err)
	assert.Equal(t, SeverityClient, severityOf(err))
}

func TestWebhookNotifierServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{AllowHTTP: true})
	err := n.Send(context.Background(), &Message{
		Content:   testContent(),
		Recipient: models.Recipient{Type: models.RecipientWebhook, Config: models.RecipientConfig{Target: server.URL}},
	})
	require.Error(t, err)
	assert.Equal(t, SeveritySystem, severityOf(err))
	assert.Contains(t, err.Error(), "status 500")
}
