// Package datastore is the persistent store: stories, favorites, the offline
// action queue and cached image blobs, kept in a local SQLite database.
//
// A Store is constructed once and shared by reference. The database is opened
// lazily on first use; concurrent first callers share a single open and schema
// migration. Every operation runs in its own scoped statement or transaction
// and fails with a storage category error, which callers treat as "no cached
// data" rather than as fatal.
package datastore

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/logger"
)

// DefaultSlowQueryThreshold defines the duration after which a query is logged as slow.
const DefaultSlowQueryThreshold = 500 * time.Millisecond

// ImageFetcher fetches remote image bytes. *httpclient.Client satisfies it.
type ImageFetcher interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// MetricsRecorder receives store outcomes. *metrics.CacheMetrics satisfies it.
type MetricsRecorder interface {
	RecordStoreError(operation string)
	RecordImageCache(result string)
}

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file. The parent directory is created if missing.
	Path string
	// Fetcher is used by CacheImage. Without it image caching always reports false.
	Fetcher ImageFetcher
	// MaxImageBytes caps the size of a cached image blob.
	MaxImageBytes int64
	// SlowQuery is the slow statement threshold; zero uses DefaultSlowQueryThreshold.
	SlowQuery time.Duration
	Logger    logger.Logger
	Metrics   MetricsRecorder
}

// DefaultMaxImageBytes is used when Config.MaxImageBytes is zero.
const DefaultMaxImageBytes = 8 << 20

// Store is the persistent store handle.
type Store struct {
	path          string
	fetcher       ImageFetcher
	maxImageBytes int64
	slowQuery     time.Duration
	log           logger.Logger
	metrics       MetricsRecorder

	mu    sync.RWMutex
	db    *gorm.DB
	group singleflight.Group
}

// New creates a Store. Nothing touches the disk until the first operation.
func New(cfg Config) *Store {
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("storage")
	}
	maxBytes := cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	slowQuery := cfg.SlowQuery
	if slowQuery <= 0 {
		slowQuery = DefaultSlowQueryThreshold
	}
	return &Store{
		path:          cfg.Path,
		fetcher:       cfg.Fetcher,
		maxImageBytes: maxBytes,
		slowQuery:     slowQuery,
		log:           log,
		metrics:       cfg.Metrics,
	}
}

// Open returns the shared database handle, opening and migrating it on first use.
// It is safe to call concurrently; only one migration runs. A failed open is not
// remembered, so the next call tries again.
func (s *Store) Open(ctx context.Context) (*gorm.DB, error) {
	if db := s.handle(); db != nil {
		return db, nil
	}

	v, err, shared := s.group.Do("open", func() (any, error) {
		if db := s.handle(); db != nil {
			return db, nil
		}
		// Migration must not be cut short by one caller's cancellation
		db, err := s.openDatabase(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.db = db
		s.mu.Unlock()
		return db, nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordStoreError("open")
		}
		return nil, err
	}
	if shared {
		s.log.Trace("joined in-flight store open")
	}
	return v.(*gorm.DB), nil
}

func (s *Store) handle() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

func (s *Store) openDatabase(ctx context.Context) (*gorm.DB, error) {
	start := time.Now()

	db, err := OpenSQLite(s.path, "store", s.log, s.slowQuery)
	if err != nil {
		return nil, s.unavailable(err, time.Since(start))
	}

	if _, err := MigrateTables(ctx, db, s.log, storeTables); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	s.log.Info("persistent store opened",
		logger.String("path", s.path),
		logger.Duration("duration", time.Since(start)))
	return db, nil
}

func (s *Store) unavailable(err error, elapsed time.Duration) error {
	return errors.New(fmt.Errorf("%w: %w", ErrStoreUnavailable, err)).
		Component("datastore").
		Category(errors.CategoryStorage).
		Priority(errors.PriorityHigh).
		Timing("open", elapsed).
		Context("path", s.path).
		Build()
}

// reset drops a handle that stopped working so the next Open starts fresh.
func (s *Store) reset(stale *gorm.DB) {
	s.mu.Lock()
	if s.db != stale {
		s.mu.Unlock()
		return
	}
	s.db = nil
	s.mu.Unlock()

	if sqlDB, err := stale.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// run executes fn against the shared handle. When the handle turns out to be
// dead the store re-opens once and retries fn.
func (s *Store) run(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	db, err := s.Open(ctx)
	if err != nil {
		return err
	}

	err = fn(db.WithContext(ctx))
	if isConnectionLost(err) {
		s.log.Warn("store connection lost, reopening",
			logger.String("operation", operation),
			logger.Error(err))
		s.reset(db)
		if db, err = s.Open(ctx); err != nil {
			return err
		}
		err = fn(db.WithContext(ctx))
	}

	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordStoreError(operation)
		}
		return dbError(err, operation)
	}
	return nil
}

// ClearAll wipes all four tables in one transaction.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.run(ctx, "clear_all", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			for _, model := range []any{&Story{}, &Favorite{}, &QueueEntry{}, &CachedImage{}} {
				if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// Close closes the database if it was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()

	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}
