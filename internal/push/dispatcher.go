package push

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/storykeep/internal/logger"
)

// DefaultRemember is how long a shown notification stays clickable.
const DefaultRemember = 24 * time.Hour

// Dispatcher shows push notifications and remembers them so a later
// click can be resolved to the URL in their data.
type Dispatcher struct {
	notifier Notifier
	shown    *cache.Cache
	icon     string
	log      logger.Logger
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Notifier Notifier
	Icon     string // replaces the default icon and badge when set
	Remember time.Duration
	Logger   logger.Logger
}

// NewDispatcher creates a Dispatcher. A nil notifier logs notifications.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("push")
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	remember := cfg.Remember
	if remember <= 0 {
		remember = DefaultRemember
	}
	return &Dispatcher{
		notifier: notifier,
		shown:    cache.New(remember, remember/2),
		icon:     cfg.Icon,
		log:      log,
	}
}

// HandlePush parses raw and shows the resulting notification. A malformed
// payload is logged and the default notification is shown instead.
// The returned notification carries the ID to pass to Open.
func (d *Dispatcher) HandlePush(ctx context.Context, raw []byte) (*Notification, error) {
	n, err := ParsePayload(raw)
	if err != nil {
		d.log.Warn("malformed push payload, using defaults", logger.Error(err))
	}
	if d.icon != "" {
		n.Icon = d.icon
		n.Badge = d.icon
	}
	n.ID = uuid.NewString()

	if err := d.notifier.Notify(ctx, &n); err != nil {
		d.log.Error("failed to show notification",
			logger.String("notifier", d.notifier.Name()),
			logger.Error(err))
		return nil, err
	}

	d.shown.SetDefault(n.ID, &n)
	d.log.Debug("notification shown",
		logger.String("id", n.ID),
		logger.String("notifier", d.notifier.Name()))
	return &n, nil
}

// Open resolves a notification click to the URL to open, forgetting the
// notification. Unknown or expired IDs open "/".
func (d *Dispatcher) Open(id string) string {
	v, ok := d.shown.Get(id)
	if !ok {
		return DefaultURL
	}
	d.shown.Delete(id)
	n, _ := v.(*Notification)
	return n.URL()
}
