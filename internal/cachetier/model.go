package cachetier

import "time"

// tierRecord registers a tier name; a tier exists once opened or written to.
type tierRecord struct {
	Name      string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (tierRecord) TableName() string {
	return "cache_tiers"
}

// entryRecord is one stored snapshot, unique per tier and request key.
type entryRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Tier       string `gorm:"uniqueIndex:idx_cache_entries_tier_key;not null"`
	RequestKey string `gorm:"uniqueIndex:idx_cache_entries_tier_key;not null"`
	URL        string
	Status     int
	Header     []byte
	Body       []byte
	StoredAt   time.Time
}

func (entryRecord) TableName() string {
	return "cache_entries"
}
