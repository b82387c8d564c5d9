package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/storykeep/internal/errors"
)

// Enqueue appends an offline action. IDs are assigned monotonically.
func (s *Store) Enqueue(ctx context.Context, actionType string, payload []byte) (*QueueEntry, error) {
	if actionType == "" {
		return nil, errors.ValidationError("queue entry type is required")
	}
	entry := &QueueEntry{
		Type:      actionType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	err := s.run(ctx, "enqueue", func(db *gorm.DB) error {
		return db.Create(entry).Error
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListQueue returns queued actions in insertion order.
func (s *Store) ListQueue(ctx context.Context) ([]QueueEntry, error) {
	var entries []QueueEntry
	err := s.run(ctx, "list_queue", func(db *gorm.DB) error {
		return db.Order("id ASC").Find(&entries).Error
	})
	return entries, err
}

// ClearQueue drops every queued action and returns how many were removed.
func (s *Store) ClearQueue(ctx context.Context) (int64, error) {
	var removed int64
	err := s.run(ctx, "clear_queue", func(db *gorm.DB) error {
		result := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&QueueEntry{})
		removed = result.RowsAffected
		return result.Error
	})
	return removed, err
}
