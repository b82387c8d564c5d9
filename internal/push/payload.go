// Package push turns push payloads into notifications and resolves
// notification clicks to the URL they should open.
package push

import (
	"bytes"
	"encoding/json"
	"maps"

	"github.com/tphakala/storykeep/internal/errors"
)

// Defaults applied when a payload omits a field.
const (
	DefaultTitle = "Dicoding Stories"
	DefaultBody  = "Ada story baru yang dibagikan!"
	DefaultIcon  = "/favicon.png"
	DefaultURL   = "/"
)

// Notification is a notification ready to display.
type Notification struct {
	ID    string         `json:"id,omitempty"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon"`
	Badge string         `json:"badge"`
	Data  map[string]any `json:"data"`
}

// URL returns the URL carried in the notification data, "/" when absent.
func (n *Notification) URL() string {
	if n == nil {
		return DefaultURL
	}
	if u, ok := n.Data["url"].(string); ok && u != "" {
		return u
	}
	return DefaultURL
}

type payload struct {
	Title   string `json:"title"`
	Options *struct {
		Body string         `json:"body"`
		Data map[string]any `json:"data"`
	} `json:"options"`
}

// DefaultNotification returns the notification shown for an empty payload.
func DefaultNotification() Notification {
	return Notification{
		Title: DefaultTitle,
		Body:  DefaultBody,
		Icon:  DefaultIcon,
		Badge: DefaultIcon,
		Data:  map[string]any{"url": DefaultURL},
	}
}

// ParsePayload builds a notification from a push body. Empty strings count as
// absent. A non-empty options.data replaces the default data as a whole.
// Malformed JSON yields the defaults together with the parse error.
func ParsePayload(raw []byte) (Notification, error) {
	n := DefaultNotification()
	if len(bytes.TrimSpace(raw)) == 0 {
		return n, nil
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return n, errors.New(err).
			Component("push").
			Category(errors.CategoryValidation).
			Context("operation", "parse_payload").
			Build()
	}

	if p.Title != "" {
		n.Title = p.Title
	}
	if p.Options != nil {
		if p.Options.Body != "" {
			n.Body = p.Options.Body
		}
		if p.Options.Data != nil {
			n.Data = maps.Clone(p.Options.Data)
		}
	}
	return n, nil
}
