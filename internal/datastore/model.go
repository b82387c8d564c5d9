package datastore

import "time"

// Story is a domain record fetched from the story API. Unique by ID and
// upserted whenever it is seen on the network.
type Story struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PhotoURL    string    `json:"photoUrl"`
	Lat         *float64  `json:"lat,omitempty"`
	Lon         *float64  `json:"lon,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false" json:"createdAt"`
	CachedAt    time.Time `gorm:"index" json:"cachedAt"`
}

// TableName overrides the default table name
func (Story) TableName() string {
	return "stories"
}

// Favorite is a Story the user has favorited. Presence of a row is the only
// source of truth for "is favorited".
type Favorite struct {
	Story
	AddedAt time.Time `gorm:"index" json:"addedAt"`
}

// TableName overrides the name promoted from the embedded Story
func (Favorite) TableName() string {
	return "favorites"
}

// QueueEntry is an action recorded while offline. The table is kept for
// schema compatibility; entries are listed and cleared but never replayed.
type QueueEntry struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      string    `gorm:"index;not null" json:"type"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// TableName overrides the default table name
func (QueueEntry) TableName() string {
	return "offline_queue"
}

// CachedImage holds a fetched image blob keyed by its source URL.
type CachedImage struct {
	URL         string `gorm:"primaryKey"`
	StoryID     string `gorm:"index"`
	ContentType string
	Blob        []byte
	CachedAt    time.Time
}

// TableName overrides the default table name
func (CachedImage) TableName() string {
	return "cached_images"
}
