package push

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/logger"
)

// Notifier displays a notification.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n *Notification) error
}

// ShoutrrrNotifier sends notifications to every configured shoutrrr URL
// through a single router.
type ShoutrrrNotifier struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrNotifier validates urls and builds the sender.
func NewShoutrrrNotifier(urls []string, timeout time.Duration) (*ShoutrrrNotifier, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one URL is required").
			Component("push").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		// The raw error may echo tokens embedded in the URL
		return nil, errors.Newf("invalid notification URL: %s", redact(err.Error(), urls)).
			Component("push").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrNotifier{urls: slices.Clone(urls), sender: sender}, nil
}

func (s *ShoutrrrNotifier) Name() string { return "shoutrrr" }

// Notify sends the notification. The first per-service failure is returned.
func (s *ShoutrrrNotifier) Notify(_ context.Context, n *Notification) error {
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	message := n.Body
	if u := n.URL(); u != DefaultURL {
		message = message + "\n" + u
	}
	for _, err := range s.sender.Send(message, &params) {
		if err != nil {
			return errors.New(fmt.Errorf("send failed: %s", redact(err.Error(), s.urls))).
				Component("push").
				Category(errors.CategoryNotification).
				Build()
		}
	}
	return nil
}

func redact(msg string, urls []string) string {
	for _, u := range urls {
		if u != "" {
			msg = strings.ReplaceAll(msg, u, "[redacted-url]")
		}
	}
	return msg
}

// LogNotifier writes notifications to the log. Used when no URLs are configured.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier returns a notifier logging at Info through log.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Global().Module("push")
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(_ context.Context, n *Notification) error {
	l.log.Info("notification",
		logger.String("id", n.ID),
		logger.String("title", n.Title),
		logger.String("body", n.Body),
		logger.String("url", n.URL()))
	return nil
}
