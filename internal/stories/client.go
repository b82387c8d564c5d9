// Package stories loads stories from the story API and keeps the persistent
// store in step with what was seen on the network.
package stories

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tphakala/storykeep/internal/cachetier"
	"github.com/tphakala/storykeep/internal/datastore"
	"github.com/tphakala/storykeep/internal/errors"
)

const maxEnvelopeBytes = 4 << 20

// ListQuery selects a page of stories.
type ListQuery struct {
	Page     int
	Size     int
	Location bool   // only stories carrying coordinates
	Token    string // bearer token, optional
}

type envelope struct {
	Error     bool              `json:"error"`
	Message   string            `json:"message"`
	ListStory []datastore.Story `json:"listStory"`
	Story     *datastore.Story  `json:"story"`
}

// APIClient talks to the story API. Its http.Client normally routes through
// the interceptor, so a cached or synthesized offline response may come back
// instead of a live one.
type APIClient struct {
	base   *url.URL
	prefix string
	client *http.Client
}

// NewAPIClient creates a client for the API at base, under prefix (for example "/v1/").
func NewAPIClient(base *url.URL, prefix string, client *http.Client) *APIClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &APIClient{base: base, prefix: prefix, client: client}
}

func (c *APIClient) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.prefix + path
	u.RawQuery = query.Encode()
	return u.String()
}

// ListStories fetches one page of stories. The bool reports whether the
// answer is a cached snapshot rather than a live response.
func (c *APIClient) ListStories(ctx context.Context, q ListQuery) ([]datastore.Story, bool, error) {
	query := url.Values{}
	if q.Page > 0 {
		query.Set("page", strconv.Itoa(q.Page))
	}
	if q.Size > 0 {
		query.Set("size", strconv.Itoa(q.Size))
	}
	if q.Location {
		query.Set("location", "1")
	}
	env, cached, err := c.get(ctx, c.endpoint("stories", query), q.Token)
	if err != nil {
		return nil, false, err
	}
	return env.ListStory, cached, nil
}

// GetStory fetches a single story by id. The bool reports whether the answer
// is a cached snapshot.
func (c *APIClient) GetStory(ctx context.Context, id, token string) (*datastore.Story, bool, error) {
	env, cached, err := c.get(ctx, c.endpoint("stories/"+url.PathEscape(id), nil), token)
	if err != nil {
		return nil, false, err
	}
	if env.Story == nil {
		return nil, false, errors.Newf("story %s missing from response", id).
			Component("stories").
			Category(errors.CategoryNotFound).
			Build()
	}
	return env.Story, cached, nil
}

func (c *APIClient) get(ctx context.Context, target, token string) (*envelope, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, errors.NetworkError(err, target, 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return nil, false, errors.NetworkError(err, target, 0)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false, errors.New(fmt.Errorf("decode response: %w", err)).
			Component("stories").
			Category(errors.CategoryHTTP).
			NetworkContext(target, 0).
			Context("status", resp.StatusCode).
			Build()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || env.Error {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, false, errors.Newf("story api: %s", msg).
			Component("stories").
			Category(errors.CategoryHTTP).
			NetworkContext(target, 0).
			Context("status", resp.StatusCode).
			Build()
	}
	return &env, cachetier.FromCache(resp), nil
}
