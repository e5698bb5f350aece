package notifier

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazereport/internal/content"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

type mockNotifier struct {
	mu    sync.Mutex
	name  string
	sent  []models.Recipient
	errFn func(r models.Recipient) error
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Send(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg.Recipient)
	if m.errFn != nil {
		return m.errFn(msg.Recipient)
	}
	return nil
}

func (m *mockNotifier) Close() error { return nil }

type mockMigrator struct {
	calls int
	err   error
}

func (m *mockMigrator) Migrate(_ context.Context, r *models.Recipient) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	r.Type = models.RecipientSlackV2
	r.Config.Target = "C1"
	return nil
}

func emailRecipient(target string) models.Recipient {
	return models.Recipient{Type: models.RecipientEmail, Config: models.RecipientConfig{Target: target}}
}

func testContent() *content.Content {
	return &content.Content{Name: "Weekly", URL: "http://app/r/1", Header: content.HeaderData{ExecutionID: "exec-1"}}
}

func TestDispatcher_AllSucceed(t *testing.T) {
	email := &mockNotifier{name: "email"}
	d := NewDispatcher(nil)
	d.Register(models.RecipientEmail, email)

	err := d.Send(context.Background(), testContent(), []models.Recipient{emailRecipient("a@x.io"), emailRecipient("b@x.io")})
	require.NoError(t, err)
	assert.Len(t, email.sent, 2)
}

func TestDispatcher_ClientErrorsDoNotStopDelivery(t *testing.T) {
	email := &mockNotifier{name: "email", errFn: func(r models.Recipient) error {
		if r.Config.Target == "bad" {
			return clientError("email", nil, "bad address")
		}
		return nil
	}}
	d := NewDispatcher(nil)
	d.Register(models.RecipientEmail, email)

	err := d.Send(context.Background(), testContent(), []models.Recipient{
		emailRecipient("a@x.io"), emailRecipient("bad"), emailRecipient("c@x.io"),
	})
	require.Error(t, err)
	assert.Len(t, email.sent, 3)
	assert.Equal(t, reporterr.ClientNotificationErrors, reporterr.KindOf(err))
	assert.Equal(t, "bad address", err.Error())
}

func TestDispatcher_SystemErrorWins(t *testing.T) {
	email := &mockNotifier{name: "email", errFn: func(r models.Recipient) error {
		switch r.Config.Target {
		case "client":
			return clientError("email", nil, "rejected")
		case "system":
			return &NotificationError{Channel: "email", Status: 503, Msg: "unavailable"}
		}
		return nil
	}}
	d := NewDispatcher(nil)
	d.Register(models.RecipientEmail, email)

	err := d.Send(context.Background(), testContent(), []models.Recipient{emailRecipient("client"), emailRecipient("system")})
	require.Error(t, err)
	assert.Equal(t, reporterr.SystemNotificationErrors, reporterr.KindOf(err))
	assert.Equal(t, "rejected;unavailable", err.Error())
}

func TestDispatcher_UnknownErrorIsSystem(t *testing.T) {
	email := &mockNotifier{name: "email", errFn: func(models.Recipient) error { return errors.New("boom") }}
	d := NewDispatcher(nil)
	d.Register(models.RecipientEmail, email)

	err := d.Send(context.Background(), testContent(), []models.Recipient{emailRecipient("a")})
	assert.True(t, reporterr.Is(err, reporterr.SystemNotificationErrors))
}

func TestDispatcher_UnregisteredTypeIsClientError(t *testing.T) {
	d := NewDispatcher(nil)
	err := d.Send(context.Background(), testContent(), []models.Recipient{{Type: models.RecipientTeams}})
	assert.True(t, reporterr.Is(err, reporterr.ClientNotificationErrors))
}

func TestDispatcher_DryRunSendsNothing(t *testing.T) {
	email := &mockNotifier{name: "email", errFn: func(models.Recipient) error { return errors.New("must not be called") }}
	d := NewDispatcher(nil, WithDryRun(true))
	d.Register(models.RecipientEmail, email)

	require.NoError(t, d.Send(context.Background(), testContent(), []models.Recipient{emailRecipient("a")}))
	assert.Empty(t, email.sent)
}

func TestDispatcher_SlackMigrationRetriesOnce(t *testing.T) {
	v1 := &mockNotifier{name: "slack", errFn: func(models.Recipient) error { return ErrSlackV1 }}
	v2 := &mockNotifier{name: "slackv2"}
	migrator := &mockMigrator{}
	d := NewDispatcher(nil, WithMigrator(migrator))
	d.Register(models.RecipientSlack, v1)
	d.Register(models.RecipientSlackV2, v2)

	r := models.Recipient{Type: models.RecipientSlack, Config: models.RecipientConfig{Target: "#general"}}
	require.NoError(t, d.Send(context.Background(), testContent(), []models.Recipient{r}))
	assert.Equal(t, 1, migrator.calls)
	require.Len(t, v2.sent, 1)
	assert.Equal(t, "C1", v2.sent[0].Config.Target)
}

func TestDispatcher_SlackMigrationFailureIsSystemError(t *testing.T) {
	v1 := &mockNotifier{name: "slack", errFn: func(models.Recipient) error { return ErrSlackV1 }}
	v2 := &mockNotifier{name: "slackv2"}
	migrator := &mockMigrator{err: errors.New("Could not find the following channels: a, b")}
	d := NewDispatcher(nil, WithMigrator(migrator))
	d.Register(models.RecipientSlack, v1)
	d.Register(models.RecipientSlackV2, v2)

	r := models.Recipient{Type: models.RecipientSlack, Config: models.RecipientConfig{Target: "a,b"}}
	err := d.Send(context.Background(), testContent(), []models.Recipient{r})
	require.Error(t, err)
	assert.True(t, reporterr.Is(err, reporterr.SystemNotificationErrors))
	assert.Equal(t, "Failed to update slack recipients to v2: Could not find the following channels: a, b", err.Error())
	assert.Empty(t, v2.sent)
}

func TestDispatcher_SlackMigrationWithoutMigrator(t *testing.T) {
	v1 := &mockNotifier{name: "slack", errFn: func(models.Recipient) error { return ErrSlackV1 }}
	d := NewDispatcher(nil)
	d.Register(models.RecipientSlack, v1)

	err := d.Send(context.Background(), testContent(), []models.Recipient{{Type: models.RecipientSlack}})
	assert.True(t, reporterr.Is(err, reporterr.SystemNotificationErrors))
}

func TestNotificationError_Severity(t *testing.T) {
	assert.Equal(t, SeverityClient, (&NotificationError{Status: 400}).Severity())
	assert.Equal(t, SeverityClient, (&NotificationError{Status: 429}).Severity())
	assert.Equal(t, SeveritySystem, (&NotificationError{Status: 500}).Severity())
	assert.Equal(t, SeveritySystem, severityOf(errors.New("x")))
	assert.Equal(t, SeverityClient, severityOf(errors.Wrap(clientError("email", nil, "x"), "wrapped")))
}
