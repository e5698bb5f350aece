package notifier

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/models"
)

// ChannelLister pages through the workspace channels.
type ChannelLister interface {
	ListChannels(ctx context.Context, cursor string) ([]SlackChannel, string, error)
}

type channelEntry struct {
	id        string
	fetchedAt time.Time
}

// SlackDirectory resolves channel names to ids with exact matching over
// public and private channels. Lookups are served from an LRU cache; a miss
// triggers one full directory listing.
type SlackDirectory struct {
	lister ChannelLister
	cache  *lru.Cache[string, channelEntry]
	ttl    time.Duration
	now    func() time.Time

	// refreshMu serializes full listings.
	refreshMu sync.Mutex
}

// NewSlackDirectory creates a directory caching up to size names for ttl.
func NewSlackDirectory(lister ChannelLister, size int, ttl time.Duration) (*SlackDirectory, error) {
	cache, err := lru.New[string, channelEntry](size)
	if err != nil {
		return nil, errors.Wrap(err, "create channel cache")
	}
	return &SlackDirectory{lister: lister, cache: cache, ttl: ttl, now: time.Now}, nil
}

// Lookup returns the id of every name it can resolve.
func (d *SlackDirectory) Lookup(ctx context.Context, names []string) (map[string]string, error) {
	found, missing := d.fromCache(names)
	if len(missing) == 0 {
		return found, nil
	}

	if err := d.refresh(ctx); err != nil {
		return nil, err
	}
	found, _ = d.fromCache(names)
	return found, nil
}

func (d *SlackDirectory) fromCache(names []string) (map[string]string, []string) {
	found := make(map[string]string, len(names))
	var missing []string
	now := d.now()
	for _, name := range names {
		if e, ok := d.cache.Get(name); ok && now.Sub(e.fetchedAt) < d.ttl {
			found[name] = e.id
			continue
		}
		missing = append(missing, name)
	}
	return found, missing
}

func (d *SlackDirectory) refresh(ctx context.Context) error {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	now := d.now()
	cursor := ""
	for {
		channels, next, err := d.lister.ListChannels(ctx, cursor)
		if err != nil {
			return errors.Wrap(err, "list slack channels")
		}
		for _, ch := range channels {
			d.cache.Add(ch.Name, channelEntry{id: ch.ID, fetchedAt: now})
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// ChannelResolver resolves channel names to ids.
type ChannelResolver interface {
	Lookup(ctx context.Context, names []string) (map[string]string, error)
}

// RecipientStore persists recipient changes.
type RecipientStore interface {
	UpdateRecipient(ctx context.Context, r *models.Recipient) error
}

// SlackMigrator converts legacy Slack recipients to channel id recipients.
type SlackMigrator struct {
	channels ChannelResolver
	store    RecipientStore
	logger   *zap.SugaredLogger
}

// NewSlackMigrator creates a SlackMigrator.
func NewSlackMigrator(channels ChannelResolver, store RecipientStore, logger *zap.SugaredLogger) *SlackMigrator {
	return &SlackMigrator{channels: channels, store: store, logger: logging.OrNop(logger)}
}

// Migrate resolves every channel name of r and persists r as a SlackV2
// recipient. It fails without changes if any name is unknown.
func (m *SlackMigrator) Migrate(ctx context.Context, r *models.Recipient) error {
	if r.Type != models.RecipientSlack {
		return errors.Newf("recipient %d is not a legacy slack recipient", r.ID)
	}

	var names []string
	for _, t := range r.Config.Targets() {
		if name := normalizeChannelName(t); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return errors.New("recipient has no channels")
	}

	ids, err := m.channels.Lookup(ctx, names)
	if err != nil {
		return err
	}
	var missing []string
	resolved := make([]string, 0, len(names))
	for _, name := range names {
		id, ok := ids[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		resolved = append(resolved, id)
	}
	if len(missing) > 0 {
		return errors.Newf("Could not find the following channels: %s", strings.Join(missing, ", "))
	}

	migrated := *r
	migrated.Type = models.RecipientSlackV2
	migrated.Config = models.RecipientConfig{Target: strings.Join(resolved, ",")}
	if err := m.store.UpdateRecipient(ctx, &migrated); err != nil {
		return errors.Wrap(err, "persist migrated recipient")
	}

	m.logger.Infow("slack recipient migrated to channel ids",
		"recipient_id", r.ID,
		logging.FieldScheduleID, r.ScheduleID,
		"channels", len(resolved),
	)
	*r = migrated
	return nil
}
