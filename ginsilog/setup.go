package ginsilog

import (
	"context"
	"fmt"
	"github.com/lmittmann/tint"
	"log/slog"
)

// DatabaseSummary describes a database prepared by SetupDatabase
type DatabaseSummary struct {
	RuntimeConfig RuntimeConfig
	RoleSuffixes  int
	BannedWords   int
	Users         int64
}

// SetupDatabase migrates the database, creates the runtime config if it
// doesn't exist, and seeds the role suffix and banned word tables when
// they're empty. The bot does the same on startup, so this is only
// needed to prepare a database ahead of time.
func SetupDatabase(ctx context.Context, config *Config) (DatabaseSummary, error) {
	var summary DatabaseSummary

	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.DatabaseLogLevel,
			AddSource: true,
		},
	)
	db, err := CreateDB(ctx, config.DatabaseType, config.Database, handler, config.DatabaseSlowThreshold)
	if err != nil {
		return summary, err
	}
	defer func() {
		if sqlDB, e := db.DB(); e == nil {
			_ = sqlDB.Close()
		}
	}()

	logger := slog.New(handler).With(loggerNameKey, "setup")
	writeDB := NewDatabase(db, logger, config.DatabaseType == dbTypePostgres)

	state, err := loadRuntimeConfig(ctx, writeDB, config)
	if err != nil {
		return summary, err
	}
	summary.RuntimeConfig = state

	settings, err := newDBSettings(ctx, writeDB, config.Nickname.RoleSuffixes, DefaultBannedWords, logger)
	if err != nil {
		return summary, fmt.Errorf("error seeding settings: %w", err)
	}
	summary.RoleSuffixes = len(settings.RoleSuffixes())
	summary.BannedWords = len(settings.BannedWords())

	if err = db.WithContext(ctx).Model(&User{}).Count(&summary.Users).Error; err != nil {
		return summary, fmt.Errorf("error counting users: %w", err)
	}
	return summary, nil
}
