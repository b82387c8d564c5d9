package cachetier

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tphakala/storykeep/internal/errors"
)

// SourceHeader marks a response served from a tier instead of the network.
// Live responses never carry it.
const (
	SourceHeader = "X-Storykeep-Source"
	SourceCache  = "cache"
)

// FromCache reports whether resp was served from a tier.
func FromCache(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(SourceHeader) == SourceCache
}

// Snapshot is a durable copy of a response's status, headers and body,
// detached from the connection that produced it. Snapshots are never mutated
// after capture.
type Snapshot struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// RequestKey identifies a request in a tier: the absolute URL without fragment.
func RequestKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	k := *u
	k.Fragment = ""
	k.RawFragment = ""
	return k.String()
}

// Capture drains resp.Body once and returns the snapshot together with a
// replacement response carrying an independent copy of the body. The original
// body is closed and must not be used afterwards.
func Capture(resp *http.Response) (*Snapshot, *http.Response, error) {
	if resp == nil {
		return nil, nil, errors.ValidationError("cannot capture a nil response")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			builder := errors.New(err).
				Component("cachetier").
				Category(errors.CategoryNetwork).
				Context("operation", "capture")
			if resp.Request != nil && resp.Request.URL != nil {
				builder = builder.Context("url", resp.Request.URL.Redacted())
			}
			return nil, nil, builder.Build()
		}
	}

	snap := &Snapshot{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}
	if resp.Request != nil {
		snap.URL = RequestKey(resp.Request.URL)
	}

	out := *resp
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	return snap, &out, nil
}

// Response materializes a fresh response for req. Each call gets its own
// body reader, so a snapshot can be served any number of times.
func (s *Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(s.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.Status, http.StatusText(s.Status)),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}
