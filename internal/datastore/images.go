package datastore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/storykeep/internal/logger"
)

// LocalImagePath is where the proxy serves cached image blobs.
const LocalImagePath = "/_offline/images"

// Image cache results passed to MetricsRecorder.RecordImageCache.
const (
	ImageCacheStored  = "stored"
	ImageCacheFailed  = "failed"
	ImageCacheSkipped = "skipped"
)

// ImageRef is a locally resolvable reference to a cached image blob.
type ImageRef struct {
	SourceURL   string
	LocalURL    string
	ContentType string
	Data        []byte
	CachedAt    time.Time
}

// LocalImageURL returns the proxy path that serves the cached copy of src.
func LocalImageURL(src string) string {
	return LocalImagePath + "?src=" + url.QueryEscape(src)
}

// CacheImage fetches src over the network and stores the blob keyed by src.
// Image caching never blocks the caller's primary operation: any fetch or
// write failure is logged and reported as false.
func (s *Store) CacheImage(ctx context.Context, src, storyID string) bool {
	if src == "" || s.fetcher == nil {
		s.recordImage(ImageCacheSkipped)
		return false
	}

	blob, contentType, err := s.fetchImage(ctx, src)
	if err != nil {
		s.log.Warn("image fetch failed",
			logger.String("url", src),
			logger.String("story_id", storyID),
			logger.Error(err))
		s.recordImage(ImageCacheFailed)
		return false
	}

	img := &CachedImage{
		URL:         src,
		StoryID:     storyID,
		ContentType: contentType,
		Blob:        blob,
		CachedAt:    time.Now(),
	}
	err = s.run(ctx, "cache_image", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(img).Error
	})
	if err != nil {
		s.log.Warn("image store failed",
			logger.String("url", src),
			logger.Error(err))
		s.recordImage(ImageCacheFailed)
		return false
	}

	s.log.Debug("image cached",
		logger.String("url", src),
		logger.Int("bytes", len(blob)))
	s.recordImage(ImageCacheStored)
	return true
}

func (s *Store) fetchImage(ctx context.Context, src string) (blob []byte, contentType string, err error) {
	resp, err := s.fetcher.Get(ctx, src)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	blob, err = io.ReadAll(io.LimitReader(resp.Body, s.maxImageBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(blob)) > s.maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", s.maxImageBytes)
	}

	contentType = resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(blob)
	}
	return blob, contentType, nil
}

// GetCachedImage returns a reference to the cached blob for src, or nil when
// the image is not cached.
func (s *Store) GetCachedImage(ctx context.Context, src string) (*ImageRef, error) {
	var img CachedImage
	found := false
	err := s.run(ctx, "get_cached_image", func(db *gorm.DB) error {
		var err error
		found, err = first(db.Where("url = ?", src), &img)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &ImageRef{
		SourceURL:   img.URL,
		LocalURL:    LocalImageURL(img.URL),
		ContentType: img.ContentType,
		Data:        img.Blob,
		CachedAt:    img.CachedAt,
	}, nil
}

// RemoveCachedImage deletes the blob for src. Removing an absent image
// succeeds; false means the delete itself failed and was logged.
func (s *Store) RemoveCachedImage(ctx context.Context, src string) bool {
	err := s.run(ctx, "remove_cached_image", func(db *gorm.DB) error {
		return db.Where("url = ?", src).Delete(&CachedImage{}).Error
	})
	if err != nil {
		s.log.Warn("cached image removal failed",
			logger.String("url", src),
			logger.Error(err))
		return false
	}
	return true
}

func (s *Store) recordImage(result string) {
	if s.metrics != nil {
		s.metrics.RecordImageCache(result)
	}
}
