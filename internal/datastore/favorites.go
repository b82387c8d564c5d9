package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/logger"
)

// UpsertFavorite stores story as a favorite, replacing any previous row for
// the same ID, then caches its image. A failed image cache is logged only.
func (s *Store) UpsertFavorite(ctx context.Context, story Story) (*Favorite, error) {
	if story.ID == "" {
		return nil, errors.ValidationError("story id is required")
	}

	now := time.Now()
	story.CachedAt = now
	fav := &Favorite{Story: story, AddedAt: now}

	err := s.run(ctx, "upsert_favorite", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(fav).Error
	})
	if err != nil {
		return nil, err
	}

	if story.PhotoURL != "" && !s.CacheImage(ctx, story.PhotoURL, story.ID) {
		s.log.Warn("favorite saved without cached image",
			logger.String("story_id", story.ID),
			logger.String("url", story.PhotoURL))
	}
	return fav, nil
}

// GetFavorite returns the favorite with the given ID, or nil when there is none.
func (s *Store) GetFavorite(ctx context.Context, id string) (*Favorite, error) {
	var fav Favorite
	found := false
	err := s.run(ctx, "get_favorite", func(db *gorm.DB) error {
		var err error
		found, err = first(db.Where("id = ?", id), &fav)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &fav, nil
}

// IsFavorite reports whether a favorite row exists for id.
func (s *Store) IsFavorite(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.run(ctx, "is_favorite", func(db *gorm.DB) error {
		return db.Model(&Favorite{}).Where("id = ?", id).Count(&count).Error
	})
	return count > 0, err
}

// ListFavorites returns all favorites, most recently added first.
func (s *Store) ListFavorites(ctx context.Context) ([]Favorite, error) {
	var favs []Favorite
	err := s.run(ctx, "list_favorites", func(db *gorm.DB) error {
		return db.Order("added_at DESC").Find(&favs).Error
	})
	return favs, err
}

// RemoveFavorite deletes the favorite and evicts its cached image unless
// another favorite still shows the same photo. Removing an unknown ID succeeds.
// Row delete and image eviction are independent; eviction failure is logged.
func (s *Store) RemoveFavorite(ctx context.Context, id string) error {
	fav, err := s.GetFavorite(ctx, id)
	if err != nil {
		return err
	}
	if fav == nil {
		return nil
	}

	if err := s.run(ctx, "remove_favorite", func(db *gorm.DB) error {
		return db.Where("id = ?", id).Delete(&Favorite{}).Error
	}); err != nil {
		return err
	}

	s.evictFavoriteImages(ctx, fav.PhotoURL)
	return nil
}

// ClearFavorites removes every favorite and evicts their images.
// It returns the number of favorites removed.
func (s *Store) ClearFavorites(ctx context.Context) (int64, error) {
	var urls []string
	var removed int64
	err := s.run(ctx, "clear_favorites", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&Favorite{}).Where("photo_url <> ''").Distinct().Pluck("photo_url", &urls).Error; err != nil {
				return err
			}
			result := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Favorite{})
			removed = result.RowsAffected
			return result.Error
		})
	})
	if err != nil {
		return 0, err
	}

	s.evictFavoriteImages(ctx, urls...)
	return removed, nil
}

// evictFavoriteImages removes cached images no longer referenced by any favorite.
func (s *Store) evictFavoriteImages(ctx context.Context, urls ...string) {
	for _, u := range urls {
		if u == "" {
			continue
		}
		var refs int64
		err := s.run(ctx, "count_image_refs", func(db *gorm.DB) error {
			return db.Model(&Favorite{}).Where("photo_url = ?", u).Count(&refs).Error
		})
		if err != nil {
			s.log.Warn("skipping image eviction", logger.String("url", u), logger.Error(err))
			continue
		}
		if refs > 0 {
			continue
		}
		if !s.RemoveCachedImage(ctx, u) {
			s.log.Warn("failed to evict cached image", logger.String("url", u))
		}
	}
}
