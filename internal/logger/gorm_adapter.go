package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// maxLoggedSQL caps the logged statement; image blob inserts inline their bytes.
const maxLoggedSQL = 512

// GormLoggerAdapter routes gorm output into a module logger. The story store
// and the cache tiers each get one, told apart by the database attribute.
// Statements log at TRACE, so they need module_levels.storage (or cache) set
// to trace before they appear.
type GormLoggerAdapter struct {
	logger        Logger
	database      string
	slowThreshold time.Duration
}

// NewGormLoggerAdapter creates an adapter for the named database. Statements
// slower than slowThreshold are logged at WARN; 0 disables the check.
func NewGormLoggerAdapter(logger Logger, database string, slowThreshold time.Duration) *GormLoggerAdapter {
	if logger == nil {
		logger = NewSlogLogger(nil, LogLevelInfo, nil)
	}
	return &GormLoggerAdapter{
		logger:        logger.With(String("database", database)),
		database:      database,
		slowThreshold: slowThreshold,
	}
}

// Database returns the name attached to every line.
func (a *GormLoggerAdapter) Database() string { return a.database }

// SlowThreshold returns the slow statement threshold.
func (a *GormLoggerAdapter) SlowThreshold() time.Duration { return a.slowThreshold }

// LogMode returns the adapter itself; levels come from the central logger config.
func (a *GormLoggerAdapter) LogMode(_ gorm_logger.LogLevel) gorm_logger.Interface {
	return a
}

// Info maps gorm's chatty info output to DEBUG.
func (a *GormLoggerAdapter) Info(_ context.Context, msg string, data ...any) {
	a.logger.Debug(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Warn(_ context.Context, msg string, data ...any) {
	a.logger.Warn(fmt.Sprintf(msg, data...))
}

func (a *GormLoggerAdapter) Error(_ context.Context, msg string, data ...any) {
	a.logger.Error(fmt.Sprintf(msg, data...))
}

// Trace logs one executed statement. Failed and slow statements go to WARN.
// A missing row is a cache miss, not a failure.
func (a *GormLoggerAdapter) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []Field{
		String("sql", truncateSQL(sql)),
		Int64("rows_affected", rows),
		Int64("duration_ms", elapsed.Milliseconds()),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		a.logger.Warn("statement failed", append(fields, Error(err))...)
	case a.slowThreshold > 0 && elapsed > a.slowThreshold:
		a.logger.Warn("slow statement", append(fields, Duration("threshold", a.slowThreshold))...)
	default:
		a.logger.Trace("statement", fields...)
	}
}

func truncateSQL(sql string) string {
	if len(sql) <= maxLoggedSQL {
		return sql
	}
	return fmt.Sprintf("%s... (%d bytes)", sql[:maxLoggedSQL], len(sql))
}
