package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/storykeep/internal/errors"
)

// UpsertRecord inserts the story or fully replaces the row with the same ID.
// CachedAt is stamped with the current time.
func (s *Store) UpsertRecord(ctx context.Context, story *Story) error {
	if story == nil || story.ID == "" {
		return errors.ValidationError("story id is required")
	}
	story.CachedAt = time.Now()
	return s.run(ctx, "upsert_record", func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(story).Error
	})
}

// UpsertRecords upserts a batch of stories in one transaction.
func (s *Store) UpsertRecords(ctx context.Context, stories []Story) error {
	if len(stories) == 0 {
		return nil
	}
	now := time.Now()
	for i := range stories {
		if stories[i].ID == "" {
			return errors.ValidationError("story id is required")
		}
		stories[i].CachedAt = now
	}
	return s.run(ctx, "upsert_records", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&stories).Error
		})
	})
}

// GetRecord returns the story with the given ID, or nil when there is none.
func (s *Store) GetRecord(ctx context.Context, id string) (*Story, error) {
	var story Story
	found := false
	err := s.run(ctx, "get_record", func(db *gorm.DB) error {
		var err error
		found, err = first(db.Where("id = ?", id), &story)
		return err
	})
	if err != nil || !found {
		return nil, err
	}
	return &story, nil
}

// ListRecords returns every cached story, newest first.
func (s *Store) ListRecords(ctx context.Context) ([]Story, error) {
	var stories []Story
	err := s.run(ctx, "list_records", func(db *gorm.DB) error {
		return db.Order("created_at DESC").Find(&stories).Error
	})
	return stories, err
}

// DeleteRecord removes a story. Used for housekeeping only.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	return s.run(ctx, "delete_record", func(db *gorm.DB) error {
		return db.Where("id = ?", id).Delete(&Story{}).Error
	})
}

// first loads a single row, mapping "record not found" to found=false.
func first(db *gorm.DB, dest any) (bool, error) {
	result := db.Limit(1).Find(dest)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
