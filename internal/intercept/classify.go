// Package intercept classifies outbound GET requests and routes each class
// to its caching strategy.
package intercept

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/tphakala/storykeep/internal/cachetier"
)

// Class is the request category that selects a caching strategy.
type Class int

const (
	// Bypass requests are never handled by a strategy.
	Bypass Class = iota
	API
	Image
	Navigation
	Generic
)

// String returns the lower-case class name used in logs and metrics.
func (c Class) String() string {
	switch c {
	case Bypass:
		return "bypass"
	case API:
		return "api"
	case Image:
		return "image"
	case Navigation:
		return "navigation"
	case Generic:
		return "generic"
	default:
		return "unknown"
	}
}

// Fetch metadata headers carrying the browser's request destination and mode.
const (
	HeaderFetchDest = "Sec-Fetch-Dest"
	HeaderFetchMode = "Sec-Fetch-Mode"
)

var imageExtPattern = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|svg)$`)

// Classification is the result of classifying one request.
type Classification struct {
	Class Class
	Key   string // tier key for the request
}

// Classifier holds the API prefix used to recognize API requests.
type Classifier struct {
	apiPrefix string
}

// NewClassifier returns a Classifier for the given API path prefix, e.g. "/v1/".
func NewClassifier(apiPrefix string) Classifier {
	return Classifier{apiPrefix: apiPrefix}
}

// Classify assigns a class to req. The first matching rule wins:
// non-http(s) scheme, API prefix, image destination or extension,
// navigate mode, then generic.
func (c Classifier) Classify(req *http.Request) Classification {
	u := req.URL
	if u == nil {
		return Classification{Class: Bypass}
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return Classification{Class: Bypass}
	}

	key := cachetier.RequestKey(u)
	switch {
	case c.apiPrefix != "" && strings.HasPrefix(u.Path, c.apiPrefix):
		return Classification{Class: API, Key: key}
	case strings.EqualFold(req.Header.Get(HeaderFetchDest), "image") || imageExtPattern.MatchString(u.Path):
		return Classification{Class: Image, Key: key}
	case strings.EqualFold(req.Header.Get(HeaderFetchMode), "navigate"):
		return Classification{Class: Navigation, Key: key}
	default:
		return Classification{Class: Generic, Key: key}
	}
}
