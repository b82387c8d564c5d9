// Package telemetry reports store failures and critical errors to Sentry.
// It is opt-in: nothing is sent unless telemetry.enabled is set together
// with a DSN.
package telemetry

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/storykeep/internal/conf"
	"github.com/tphakala/storykeep/internal/errors"
)

// FlushTimeout bounds how long Close waits for queued events.
const FlushTimeout = 2 * time.Second

// Reporter sends enhanced errors to Sentry through its own hub.
// It implements errors.TelemetryReporter.
type Reporter struct {
	hub     *sentry.Hub
	enabled atomic.Bool
}

// New creates a reporter from settings. A disabled config yields nil.
func New(settings conf.TelemetrySettings, release string) (*Reporter, error) {
	if !settings.Enabled {
		return nil, nil
	}
	return newReporter(sentry.ClientOptions{
		Dsn:         settings.DSN,
		Environment: settings.Environment,
		SampleRate:  settings.SampleRate,
		Release:     "storykeep@" + release,
	})
}

func newReporter(opts sentry.ClientOptions) (*Reporter, error) {
	// Never ship host identity or stack traces
	opts.ServerName = ""
	opts.AttachStacktrace = false
	next := opts.BeforeSend
	opts.BeforeSend = func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
		event = scrubEvent(event)
		if next != nil {
			return next(event, hint)
		}
		return event
	}

	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	r := &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}
	r.enabled.Store(true)
	return r, nil
}

// IsEnabled implements errors.TelemetryReporter.
func (r *Reporter) IsEnabled() bool {
	return r != nil && r.enabled.Load()
}

// ReportError implements errors.TelemetryReporter.
func (r *Reporter) ReportError(ee *errors.EnhancedError) {
	if !r.IsEnabled() || ee == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", ee.GetCategory())
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for key, value := range ee.GetContext() {
			scope.SetContext(key, sentry.Context{"value": scrubValue(value)})
		}
		scope.SetLevel(level(ee))
		scope.SetFingerprint([]string{ee.GetComponent(), ee.GetCategory(), fmt.Sprintf("%T", ee.Err)})
		r.hub.CaptureException(ee)
	})
}

// Close flushes queued events and disables the reporter.
func (r *Reporter) Close() {
	if r == nil || !r.enabled.Swap(false) {
		return
	}
	r.hub.Flush(FlushTimeout)
}

func level(ee *errors.EnhancedError) sentry.Level {
	if ee.Priority == errors.PriorityCritical {
		return sentry.LevelFatal
	}
	return sentry.LevelError
}

func scrubEvent(event *sentry.Event) *sentry.Event {
	if event == nil {
		return nil
	}
	event.User = sentry.User{}
	event.ServerName = ""
	delete(event.Contexts, "device")
	delete(event.Contexts, "os")
	delete(event.Tags, "server_name")
	return event
}

// scrubValue drops query strings and user info from URLs; tokens and
// story IDs tend to travel there.
func scrubValue(value any) any {
	s, ok := value.(string)
	if !ok || !strings.Contains(s, "://") {
		return value
	}
	u, err := url.Parse(s)
	if err != nil {
		return "[unparseable url]"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
