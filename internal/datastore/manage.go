package datastore

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/logger"
)

// TableModel pairs a gorm model with its table name for migration logging.
type TableModel struct {
	Model any
	Name  string
}

// storeTables lists the persistent store schema in migration order.
var storeTables = []TableModel{
	{&Story{}, "stories"},
	{&Favorite{}, "favorites"},
	{&QueueEntry{}, "offline_queue"},
	{&CachedImage{}, "cached_images"},
}

// OpenSQLite opens (creating when missing) a SQLite database file with the
// module logger attached to gorm under the given database name. The cache
// tiers share it with the store.
func OpenSQLite(path, name string, log logger.Logger, slowQuery time.Duration) (*gorm.DB, error) {
	if path == "" {
		return nil, errors.NewStd("database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	// Busy timeout lets concurrent writers wait instead of failing with "database is locked"
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, name, slowQuery),
	})
}

// MigrateTables creates or upgrades every table, logging what changed.
// It returns the number of tables migrated before any failure.
func MigrateTables(ctx context.Context, db *gorm.DB, log logger.Logger, tables []TableModel) (int, error) {
	start := time.Now()
	db = db.WithContext(ctx)

	log.Debug("starting table migrations", logger.Int("table_count", len(tables)))

	successCount := 0
	for _, table := range tables {
		if err := migrateTable(db, table, log); err != nil {
			return successCount, err
		}
		successCount++
	}

	log.Debug("database migration completed",
		logger.Duration("total_duration", time.Since(start)),
		logger.Int("tables_migrated", successCount))
	return successCount, nil
}

// migrateTable migrates a single table with detailed logging
func migrateTable(db *gorm.DB, table TableModel, log logger.Logger) error {
	tableStart := time.Now()
	tableExists := db.Migrator().HasTable(table.Model)
	columnsBefore := getTableColumns(db, table.Model, tableExists)

	if err := db.AutoMigrate(table.Model); err != nil {
		enhancedErr := errors.New(err).
			Component("datastore").
			Category(errors.CategoryStorage).
			Priority(errors.PriorityCritical).
			Context("operation", "auto_migrate_table").
			Context("table", table.Name).
			Build()
		log.Error("table migration failed",
			logger.String("table", table.Name),
			logger.Error(enhancedErr))
		return enhancedErr
	}

	action, addedColumns := determineTableChanges(db, table.Model, tableExists, columnsBefore)
	fields := []logger.Field{
		logger.String("table", table.Name),
		logger.String("action", action),
		logger.Duration("duration", time.Since(tableStart)),
	}
	if len(addedColumns) > 0 {
		fields = append(fields, logger.Strings("added_columns", addedColumns))
	}
	log.Debug("table migrated", fields...)
	return nil
}

func getTableColumns(db *gorm.DB, model any, tableExists bool) []string {
	if !tableExists {
		return nil
	}
	cols, err := db.Migrator().ColumnTypes(model)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(cols))
	for _, col := range cols {
		names = append(names, col.Name())
	}
	return names
}

// determineTableChanges reports created/updated/unchanged and the new columns.
func determineTableChanges(db *gorm.DB, model any, tableExists bool, columnsBefore []string) (action string, addedColumns []string) {
	after := getTableColumns(db, model, true)
	if !tableExists {
		return "created", after
	}
	for _, name := range after {
		if !slices.Contains(columnsBefore, name) {
			addedColumns = append(addedColumns, name)
		}
	}
	if len(addedColumns) == 0 {
		return "unchanged", nil
	}
	return "updated", addedColumns
}
