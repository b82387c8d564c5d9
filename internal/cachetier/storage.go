// Package cachetier stores full request/response snapshots in named tiers.
//
// Tiers have no domain knowledge. Entries live in SQLite and are fronted by an
// in-process memory layer that is refreshed on reads and invalidated on writes.
// Entries never expire individually; a tier disappears only when it is deleted
// as a whole.
package cachetier

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/storykeep/internal/datastore"
	"github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/logger"
)

// DefaultMemoryTTL bounds how long a snapshot stays in the memory layer.
const DefaultMemoryTTL = 10 * time.Minute

// MetricsRecorder receives tier lookups. *metrics.CacheMetrics satisfies it.
type MetricsRecorder interface {
	RecordTierLookup(tier string, hit bool)
}

// Config configures Storage.
type Config struct {
	Path      string
	MemoryTTL time.Duration
	SlowQuery time.Duration // zero disables slow statement warnings
	Logger    logger.Logger
	Metrics   MetricsRecorder
}

// Storage holds every tier.
type Storage struct {
	db      *gorm.DB
	mem     *cache.Cache
	log     logger.Logger
	metrics MetricsRecorder
}

var tierTables = []datastore.TableModel{
	{Model: &tierRecord{}, Name: "cache_tiers"},
	{Model: &entryRecord{}, Name: "cache_entries"},
}

// NewStorage opens the tier database at cfg.Path, migrating its schema.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module("cache")
	}

	db, err := datastore.OpenSQLite(cfg.Path, "tiers", log, cfg.SlowQuery)
	if err != nil {
		return nil, tierError(err, errors.CategoryStorage, "open", "")
	}
	if _, err := datastore.MigrateTables(ctx, db, log, tierTables); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	ttl := cfg.MemoryTTL
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}

	return &Storage{
		db:      db,
		mem:     cache.New(ttl, ttl*2),
		log:     log,
		metrics: cfg.Metrics,
	}, nil
}

// Open returns a handle to the named tier, registering it when new.
func (s *Storage) Open(ctx context.Context, name string) (*Tier, error) {
	if name == "" {
		return nil, errors.ValidationError("tier name is required")
	}
	if err := s.ensureTier(s.db.WithContext(ctx), name); err != nil {
		return nil, tierError(err, errors.CategoryStorage, "open_tier", name)
	}
	return &Tier{name: name, storage: s}, nil
}

func (s *Storage) ensureTier(db *gorm.DB, name string) error {
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&tierRecord{Name: name, CreatedAt: time.Now()}).Error
}

// Names lists every tier, sorted.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&tierRecord{}).Order("name ASC").Pluck("name", &names).Error; err != nil {
		return nil, tierError(err, errors.CategoryStorage, "list_tiers", "")
	}
	return names, nil
}

// Match looks key up in tier. An empty tier searches every tier in name order
// and returns the first hit. A miss returns nil without error.
func (s *Storage) Match(ctx context.Context, tier, key string) (*Snapshot, error) {
	if tier != "" {
		snap, err := s.lookup(ctx, tier, key)
		if err == nil {
			s.recordLookup(tier, snap != nil)
		}
		return snap, err
	}

	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		snap, err := s.lookup(ctx, name, key)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			s.recordLookup(name, true)
			return snap, nil
		}
	}
	s.recordLookup(AllTiers, false)
	return nil, nil
}

// AllTiers labels lookups that searched every tier.
const AllTiers = "*"

func (s *Storage) lookup(ctx context.Context, tier, key string) (*Snapshot, error) {
	memKey := memoryKey(tier, key)
	if v, ok := s.mem.Get(memKey); ok {
		// The memory layer is per process; a purge from another process
		// (cache purge on the command line) only shows up in the database.
		var n int64
		if err := s.db.WithContext(ctx).Model(&entryRecord{}).
			Where("tier = ? AND request_key = ?", tier, key).Count(&n).Error; err != nil {
			return nil, tierError(err, errors.CategoryStorage, "match", tier)
		}
		if n > 0 {
			return v.(*Snapshot), nil
		}
		s.mem.Delete(memKey)
		return nil, nil
	}

	var rec entryRecord
	result := s.db.WithContext(ctx).Where("tier = ? AND request_key = ?", tier, key).Limit(1).Find(&rec)
	if result.Error != nil {
		return nil, tierError(result.Error, errors.CategoryStorage, "match", tier)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	snap, err := rec.snapshot()
	if err != nil {
		return nil, tierError(err, errors.CategoryStorage, "decode_entry", tier)
	}
	s.mem.Set(memKey, snap, cache.DefaultExpiration)
	return snap, nil
}

// Put stores snap under key in tier, replacing any previous entry. The tier
// is created when it does not exist yet.
func (s *Storage) Put(ctx context.Context, tier, key string, snap *Snapshot) error {
	if tier == "" || key == "" || snap == nil {
		return errors.ValidationError("tier, key and snapshot are required")
	}

	header, err := json.Marshal(snap.Header)
	if err != nil {
		return tierError(err, errors.CategoryCacheWrite, "encode_entry", tier)
	}
	rec := &entryRecord{
		Tier:       tier,
		RequestKey: key,
		URL:        snap.URL,
		Status:     snap.Status,
		Header:     header,
		Body:       snap.Body,
		StoredAt:   snap.StoredAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureTier(tx, tier); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tier"}, {Name: "request_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "status", "header", "body", "stored_at"}),
		}).Create(rec).Error
	})
	if err != nil {
		s.mem.Delete(memoryKey(tier, key))
		return tierError(err, errors.CategoryCacheWrite, "put", tier)
	}

	s.mem.Set(memoryKey(tier, key), snap, cache.DefaultExpiration)
	return nil
}

// Delete removes one entry and reports whether it existed.
func (s *Storage) Delete(ctx context.Context, tier, key string) (bool, error) {
	s.mem.Delete(memoryKey(tier, key))
	result := s.db.WithContext(ctx).Where("tier = ? AND request_key = ?", tier, key).Delete(&entryRecord{})
	if result.Error != nil {
		return false, tierError(result.Error, errors.CategoryStorage, "delete", tier)
	}
	return result.RowsAffected > 0, nil
}

// Keys lists the request keys stored in tier, sorted.
func (s *Storage) Keys(ctx context.Context, tier string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&entryRecord{}).
		Where("tier = ?", tier).Order("request_key ASC").Pluck("request_key", &keys).Error
	if err != nil {
		return nil, tierError(err, errors.CategoryStorage, "keys", tier)
	}
	return keys, nil
}

// DeleteTier drops a tier and all its entries. It reports whether the tier existed.
func (s *Storage) DeleteTier(ctx context.Context, name string) (bool, error) {
	var existed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tier = ?", name).Delete(&entryRecord{}).Error; err != nil {
			return err
		}
		result := tx.Where("name = ?", name).Delete(&tierRecord{})
		existed = result.RowsAffected > 0
		return result.Error
	})
	if err != nil {
		return false, tierError(err, errors.CategoryStorage, "delete_tier", name)
	}

	prefix := memoryKey(name, "")
	for k := range s.mem.Items() {
		if strings.HasPrefix(k, prefix) {
			s.mem.Delete(k)
		}
	}

	if existed {
		s.log.Info("cache tier deleted", logger.String("tier", name))
	}
	return existed, nil
}

// Close releases the database.
func (s *Storage) Close() error {
	s.mem.Flush()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Storage) recordLookup(tier string, hit bool) {
	if s.metrics != nil {
		s.metrics.RecordTierLookup(tier, hit)
	}
}

func memoryKey(tier, key string) string {
	return tier + "\x00" + key
}

func (r *entryRecord) snapshot() (*Snapshot, error) {
	snap := &Snapshot{
		URL:      r.URL,
		Status:   r.Status,
		Body:     r.Body,
		StoredAt: r.StoredAt,
	}
	if len(r.Header) > 0 {
		if err := json.Unmarshal(r.Header, &snap.Header); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func tierError(err error, category errors.ErrorCategory, operation, tier string) error {
	builder := errors.New(err).
		Component("cachetier").
		Category(category).
		Context("operation", operation)
	if tier != "" {
		builder = builder.Context("tier", tier)
	}
	return builder.Build()
}

// Tier is a handle to one named tier.
type Tier struct {
	name    string
	storage *Storage
}

// Name returns the tier name.
func (t *Tier) Name() string { return t.name }

// Match looks key up in this tier only.
func (t *Tier) Match(ctx context.Context, key string) (*Snapshot, error) {
	return t.storage.Match(ctx, t.name, key)
}

// Put stores snap under key.
func (t *Tier) Put(ctx context.Context, key string, snap *Snapshot) error {
	return t.storage.Put(ctx, t.name, key, snap)
}

// Delete removes key from this tier.
func (t *Tier) Delete(ctx context.Context, key string) (bool, error) {
	return t.storage.Delete(ctx, t.name, key)
}

// Keys lists the keys stored in this tier.
func (t *Tier) Keys(ctx context.Context) ([]string, error) {
	return t.storage.Keys(ctx, t.name)
}

// Obsolete returns the names in existing that are not in allowed.
func Obsolete(existing, allowed []string) []string {
	var out []string
	for _, name := range existing {
		if !slices.Contains(allowed, name) {
			out = append(out, name)
		}
	}
	return out
}
