package notifier

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/content"
	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/metrics"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/reporterr"
)

// Migrator moves a legacy Slack recipient to channel id addressing and
// persists it. On success r holds the migrated recipient.
type Migrator interface {
	Migrate(ctx context.Context, r *models.Recipient) error
}

// Dispatcher routes content to the notifier of each recipient type.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers map[models.RecipientType]Notifier
	migrator  Migrator
	dryRun    bool
	logger    *zap.SugaredLogger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDryRun makes the dispatcher log deliveries instead of sending them.
func WithDryRun(dryRun bool) DispatcherOption {
	return func(d *Dispatcher) { d.dryRun = dryRun }
}

// WithMigrator sets the legacy Slack recipient migrator.
func WithMigrator(m Migrator) DispatcherOption {
	return func(d *Dispatcher) { d.migrator = m }
}

// NewDispatcher creates a new notification dispatcher.
func NewDispatcher(logger *zap.SugaredLogger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifiers: make(map[models.RecipientType]Notifier),
		logger:    logging.OrNop(logger).With(logging.FieldComponent, "notifier"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register routes recipients of type t to n.
func (d *Dispatcher) Register(t models.RecipientType, n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[t] = n
}

// Get returns the notifier registered for t.
func (d *Dispatcher) Get(t models.RecipientType) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[t]
	return n, ok
}

// Send delivers c to every recipient. A failing recipient never stops
// delivery to the rest. Failures are aggregated at the end: any system
// failure yields SystemNotificationErrors, otherwise ClientNotificationErrors.
func (d *Dispatcher) Send(ctx context.Context, c *content.Content, recipients []models.Recipient) error {
	var (
		errs   []error
		system bool
	)
	for _, r := range recipients {
		if d.dryRun {
			d.logger.Infow("would send notification, dry run is enabled",
				"name", c.Name,
				logging.FieldRecipientType, r.Type,
				"target", r.Config.Target,
				logging.FieldExecutionID, c.Header.ExecutionID,
			)
			continue
		}

		err := d.deliver(ctx, c, r)
		if errors.Is(err, ErrSlackV1) {
			err = d.migrateAndRetry(ctx, c, r)
		}
		if err == nil {
			metrics.NotificationsSentTotal.WithLabelValues(string(r.Type)).Inc()
			continue
		}

		sev := severityOf(err)
		metrics.NotificationsFailedTotal.WithLabelValues(string(r.Type), string(sev)).Inc()
		log := d.logger.Warnw
		if sev == SeveritySystem {
			log = d.logger.Errorw
			system = true
		}
		log("notification failed",
			logging.FieldRecipientType, r.Type,
			"severity", sev,
			logging.FieldExecutionID, c.Header.ExecutionID,
			logging.FieldError, err,
		)
		errs = append(errs, err)
	}

	switch {
	case len(errs) == 0:
		return nil
	case system:
		return reporterr.Aggregate(reporterr.SystemNotificationErrors, errs)
	default:
		return reporterr.Aggregate(reporterr.ClientNotificationErrors, errs)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, c *content.Content, r models.Recipient) error {
	n, ok := d.Get(r.Type)
	if !ok {
		return clientError(string(r.Type), nil, "No notifier configured for recipient type %s", r.Type)
	}
	return n.Send(ctx, &Message{Content: c, Recipient: r})
}

// migrateAndRetry upgrades a legacy Slack recipient and sends once more. A
// failed migration leaves the recipient untouched.
func (d *Dispatcher) migrateAndRetry(ctx context.Context, c *content.Content, r models.Recipient) error {
	d.logger.Infow("attempting to upgrade slack recipient to v2", "target", r.Config.Target)
	if d.migrator == nil {
		metrics.SlackMigrationsTotal.WithLabelValues("failed").Inc()
		return systemError(string(models.RecipientSlack), ErrSlackV1,
			"Failed to update slack recipients to v2: no channel directory configured")
	}

	migrated := r
	if err := d.migrator.Migrate(ctx, &migrated); err != nil {
		metrics.SlackMigrationsTotal.WithLabelValues("failed").Inc()
		return systemError(string(models.RecipientSlack), err,
			"Failed to update slack recipients to v2: %s", err.Error())
	}
	metrics.SlackMigrationsTotal.WithLabelValues("migrated").Inc()
	return d.deliver(ctx, c, migrated)
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs error
	for t, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "close %s notifier", t))
		}
	}
	d.notifiers = make(map[models.RecipientType]Notifier)
	return errs
}
