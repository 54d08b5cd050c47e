// Package store logging: adapts GORM's logger interface onto slog.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tsalonen/cinetl/internal/logging"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQueryThreshold defines the duration after which a query is considered
// slow and logged at warn level.
const slowQueryThreshold = 1 * time.Second

type slogGormLogger struct {
	logger   *slog.Logger
	level    gormlogger.LogLevel
	logTrace bool
}

// newGormLogger returns a GORM logger that writes through the store's slog
// logger. Per-query trace logging is only enabled in debug mode.
func newGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return &slogGormLogger{
		logger:   logging.ForService("store"),
		level:    level,
		logTrace: debug,
	}
}

func (l *slogGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.logger.InfoContext(ctx, "gorm: "+msg, "args", args)
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.logger.WarnContext(ctx, "gorm: "+msg, "args", args)
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.logger.ErrorContext(ctx, "gorm: "+msg, "args", args)
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !isExpectedTraceError(err):
		sql, rows := fc()
		l.logger.ErrorContext(ctx, "query failed",
			"error", err,
			"sql", sql,
			"rows", rows,
			"elapsed", elapsed)
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.WarnContext(ctx, "slow query",
			"sql", sql,
			"rows", rows,
			"elapsed", elapsed,
			"threshold", slowQueryThreshold)
	case l.logTrace && l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.DebugContext(ctx, "query",
			"sql", sql,
			"rows", rows,
			"elapsed", elapsed)
	}
}

// isExpectedTraceError filters errors that are part of normal operation:
// not-found lookups and duplicate keys the loader resolves itself.
func isExpectedTraceError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || IsDuplicateKey(err)
}
