package stories

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tphakala/storykeep/internal/datastore"
	"github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/logger"
)

// ErrNoCachedStories is returned when the network failed and the store has
// nothing to fall back to.
var ErrNoCachedStories = errors.NewStd("no stories available: connect to the internet or view stories online first")

// API is the story API. *APIClient satisfies it.
type API interface {
	ListStories(ctx context.Context, q ListQuery) ([]datastore.Story, bool, error)
	GetStory(ctx context.Context, id, token string) (*datastore.Story, bool, error)
}

// Store is the persistence used by Service. *datastore.Store satisfies it.
type Store interface {
	UpsertRecords(ctx context.Context, stories []datastore.Story) error
	UpsertRecord(ctx context.Context, story *datastore.Story) error
	GetRecord(ctx context.Context, id string) (*datastore.Story, error)
	ListRecords(ctx context.Context) ([]datastore.Story, error)
	UpsertFavorite(ctx context.Context, story datastore.Story) (*datastore.Favorite, error)
	GetFavorite(ctx context.Context, id string) (*datastore.Favorite, error)
	IsFavorite(ctx context.Context, id string) (bool, error)
	ListFavorites(ctx context.Context) ([]datastore.Favorite, error)
	RemoveFavorite(ctx context.Context, id string) error
	ClearFavorites(ctx context.Context) (int64, error)
	CacheImage(ctx context.Context, src, storyID string) bool
}

// Config configures a Service.
type Config struct {
	PageSize   int
	ImageRate  float64 // image prefetches per second; zero disables prefetching
	ImageBurst int
	Logger     logger.Logger
}

// DefaultPageSize is the page size requested from the API.
const DefaultPageSize = 12

// Result is a set of stories and where they came from.
type Result struct {
	Stories []datastore.Story
	Offline bool // served from the persistent store or the api tier
}

// Service loads stories network-first, falling back to the persistent store.
type Service struct {
	api      API
	store    Store
	pageSize int
	limiter  *rate.Limiter
	log      logger.Logger

	mu     sync.RWMutex
	loaded map[string]datastore.Story

	prefetch sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewService creates a Service.
func NewService(api API, store Store, cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("stories")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var limiter *rate.Limiter
	if cfg.ImageRate > 0 {
		burst := max(cfg.ImageBurst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.ImageRate), burst)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		api:      api,
		store:    store,
		pageSize: pageSize,
		limiter:  limiter,
		log:      log,
		loaded:   make(map[string]datastore.Story),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// LoadStories fetches the first page from the API and persists every record.
// On any API failure the stored records are returned instead. A storage
// failure during fallback counts as "no data". A listing answered from the
// api tier is returned as offline and not persisted again, so CachedAt keeps
// the time the stories were last seen live.
func (s *Service) LoadStories(ctx context.Context, token string) (*Result, error) {
	list, cached, err := s.api.ListStories(ctx, ListQuery{Size: s.pageSize, Token: token})
	if err == nil && cached {
		s.remember(list...)
		return &Result{Stories: list, Offline: true}, nil
	}
	if err == nil {
		s.remember(list...)
		if err := s.store.UpsertRecords(ctx, list); err != nil {
			s.log.Warn("failed to persist stories", logger.Error(err))
		}
		s.prefetchImages(list)
		return &Result{Stories: list}, nil
	}

	s.log.Info("story api unavailable, using stored stories", logger.Error(err))
	stored, dbErr := s.store.ListRecords(ctx)
	if dbErr != nil {
		s.log.Warn("stored stories unavailable", logger.Error(dbErr))
		return nil, errors.Join(ErrNoCachedStories, err)
	}
	if len(stored) == 0 {
		return nil, errors.Join(ErrNoCachedStories, err)
	}
	s.remember(stored...)
	return &Result{Stories: stored, Offline: true}, nil
}

// GetStory fetches one story network-first, falling back to the stored record.
// The bool reports whether the story came from the store or the api tier.
func (s *Service) GetStory(ctx context.Context, id, token string) (*datastore.Story, bool, error) {
	story, cached, err := s.api.GetStory(ctx, id, token)
	if err == nil && cached {
		s.remember(*story)
		return story, true, nil
	}
	if err == nil {
		s.remember(*story)
		if err := s.store.UpsertRecord(ctx, story); err != nil {
			s.log.Warn("failed to persist story", logger.String("id", id), logger.Error(err))
		}
		return story, false, nil
	}

	stored, dbErr := s.store.GetRecord(ctx, id)
	if dbErr != nil || stored == nil {
		if dbErr != nil {
			s.log.Warn("stored story unavailable", logger.String("id", id), logger.Error(dbErr))
		}
		return nil, false, errors.New(errors.Join(ErrNoCachedStories, err)).
			Component("stories").
			Category(errors.CategoryNotFound).
			Context("story_id", id).
			Build()
	}
	s.remember(*stored)
	return stored, true, nil
}

// AddFavorite favorites a story the client has already seen: the record
// loaded in memory, or the stored copy.
func (s *Service) AddFavorite(ctx context.Context, id string) (*datastore.Favorite, error) {
	s.mu.RLock()
	story, ok := s.loaded[id]
	s.mu.RUnlock()

	if !ok {
		stored, err := s.store.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, errors.Newf("story %s has not been loaded", id).
				Component("stories").
				Category(errors.CategoryNotFound).
				Build()
		}
		story = *stored
	}
	return s.store.UpsertFavorite(ctx, story)
}

func (s *Service) RemoveFavorite(ctx context.Context, id string) error {
	return s.store.RemoveFavorite(ctx, id)
}

func (s *Service) Favorites(ctx context.Context) ([]datastore.Favorite, error) {
	return s.store.ListFavorites(ctx)
}

func (s *Service) IsFavorite(ctx context.Context, id string) (bool, error) {
	return s.store.IsFavorite(ctx, id)
}

func (s *Service) ClearFavorites(ctx context.Context) (int64, error) {
	return s.store.ClearFavorites(ctx)
}

func (s *Service) remember(list ...datastore.Story) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, story := range list {
		s.loaded[story.ID] = story
	}
}

// prefetchImages caches story images in the background, throttled by the
// limiter. Failures are logged by the store.
func (s *Service) prefetchImages(list []datastore.Story) {
	if s.limiter == nil || len(list) == 0 {
		return
	}
	s.prefetch.Add(1)
	go func() {
		defer s.prefetch.Done()
		cached := 0
		for _, story := range list {
			if story.PhotoURL == "" {
				continue
			}
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
			if s.store.CacheImage(s.ctx, story.PhotoURL, story.ID) {
				cached++
			}
		}
		s.log.Debug("story images prefetched",
			logger.Int("cached", cached),
			logger.Int("stories", len(list)))
	}()
}

// Wait blocks until background image prefetching finishes.
func (s *Service) Wait() {
	s.prefetch.Wait()
}

// Close stops background prefetching and waits for it.
func (s *Service) Close() {
	s.cancel()
	s.prefetch.Wait()
}
