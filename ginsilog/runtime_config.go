package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"time"
)

const (
	columnRuntimeConfigMaintenance         = "maintenance"
	columnRuntimeConfigCustomStatus        = "custom_status"
	columnRuntimeConfigLastMorningGreeting = "last_morning_greeting"
	columnRuntimeConfigLastNightGreeting   = "last_night_greeting"
)

// RuntimeConfig is bot state that can change while running and must
// survive restarts, like maintenance mode and which greetings have
// already been sent today.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Maintenance refuses non-admin commands and sets the bot's presence
	// to Do Not Disturb
	Maintenance bool `json:"maintenance" gorm:"not null;default:false"`

	// CustomStatus is shown as the bot's custom presence
	CustomStatus string `json:"custom_status" gorm:"type:string"`

	// LastMorningGreeting and LastNightGreeting are the dates (YYYY-MM-DD,
	// in the greetings timezone) each greeting was last sent
	LastMorningGreeting string `json:"last_morning_greeting" gorm:"type:string"`
	LastNightGreeting   string `json:"last_night_greeting" gorm:"type:string"`

	LogLevel          DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel DBLogLevel `gorm:"default:WARN;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	AILogLevel        DBLogLevel `gorm:"default:INFO;column:ai_log_level;type:string;check:ai_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"ai_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	VoiceLogLevel     DBLogLevel `gorm:"default:INFO;type:string;check:voice_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"voice_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
	HealthLogLevel    DBLogLevel `gorm:"default:INFO;type:string;check:health_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"health_log_level" binding:"omitempty,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

// DefaultRuntimeConfig returns a RuntimeConfig with log levels taken
// from config
func DefaultRuntimeConfig(config *Config) RuntimeConfig {
	return RuntimeConfig{
		LogLevel:          DBLogLevel(config.LogLevel.Level().String()),
		DiscordLogLevel:   DBLogLevel(config.Discord.LogLevel.Level().String()),
		DiscordGoLogLevel: DBLogLevel(config.Discord.DiscordGoLogLevel.Level().String()),
		DatabaseLogLevel:  DBLogLevel(config.DatabaseLogLevel.Level().String()),
		AILogLevel:        DBLogLevel(config.AI.LogLevel.Level().String()),
		VoiceLogLevel:     DBLogLevel(config.Voice.LogLevel.Level().String()),
		HealthLogLevel:    DBLogLevel(config.Health.LogLevel.Level().String()),
	}
}

// loadRuntimeConfig returns the stored RuntimeConfig, creating it with
// defaults when missing
func loadRuntimeConfig(ctx context.Context, writeDB DBI, config *Config) (RuntimeConfig, error) {
	var state RuntimeConfig
	err := writeDB.DB().WithContext(ctx).Last(&state).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		state = DefaultRuntimeConfig(config)
		if _, err = writeDB.Create(ctx, &state); err != nil {
			return state, fmt.Errorf("error creating runtime config: %w", err)
		}
	default:
		return state, fmt.Errorf("error getting runtime config: %w", err)
	}
	if err = structValidator.Struct(state); err != nil {
		return state, fmt.Errorf("invalid runtime config: %w", err)
	}
	return state, nil
}

// RuntimeConfig returns a copy of the current runtime configuration
func (b *Bot) RuntimeConfig() RuntimeConfig {
	b.cfgMu.RLock()
	defer b.cfgMu.RUnlock()
	return *b.runtimeConfig
}

// Maintenance reports whether maintenance mode is on
func (b *Bot) Maintenance() bool {
	return b.maintenance.Load()
}

// SetMaintenance turns maintenance mode on or off, persists it, and
// updates the bot's presence. It returns false if the mode was already
// set.
func (b *Bot) SetMaintenance(ctx context.Context, enabled bool) (bool, error) {
	if b.maintenance.Swap(enabled) == enabled {
		return false, nil
	}
	b.logger.WarnContext(ctx, "maintenance mode changed", "maintenance", enabled)

	err := b.updateRuntimeConfig(
		ctx,
		map[string]any{columnRuntimeConfigMaintenance: enabled},
		func(state *RuntimeConfig) {
			state.Maintenance = enabled
		},
	)
	state := b.RuntimeConfig()
	state.Maintenance = enabled
	b.updatePresence(ctx, state)
	return true, err
}

// SetCustomStatus sets and persists the bot's custom presence
func (b *Bot) SetCustomStatus(ctx context.Context, status string) error {
	err := b.updateRuntimeConfig(
		ctx,
		map[string]any{columnRuntimeConfigCustomStatus: status},
		func(state *RuntimeConfig) {
			state.CustomStatus = status
		},
	)
	if err != nil {
		return err
	}
	b.updatePresence(ctx, b.RuntimeConfig())
	return nil
}

// updateRuntimeConfig saves the given columns, applies the same change
// to the cached copy, and tells other instances to reload
func (b *Bot) updateRuntimeConfig(
	ctx context.Context,
	values map[string]any,
	apply func(state *RuntimeConfig),
) error {
	b.cfgMu.Lock()
	state := *b.runtimeConfig
	_, err := b.writeDB.Updates(ctx, &RuntimeConfig{ModelUintID: state.ModelUintID}, values)
	if err == nil {
		apply(&state)
		b.runtimeConfig = &state
	}
	b.cfgMu.Unlock()

	if err != nil {
		b.logger.ErrorContext(ctx, "error updating runtime config", tint.Err(err), "values", values)
		return fmt.Errorf("error updating runtime config: %w", err)
	}
	if b.dbNotifier != nil {
		go b.dbNotifier.ReloadRuntimeConfig(context.WithoutCancel(ctx))
	}
	return nil
}

// updatePresence sets Do Not Disturb in maintenance mode, otherwise the
// custom status
func (b *Bot) updatePresence(ctx context.Context, state RuntimeConfig) {
	if b.discord == nil || b.discord.session == nil || !b.discord.connected.Load() {
		return
	}
	var err error
	if state.Maintenance {
		err = b.discord.session.UpdateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    true,
				Status: string(discordgo.StatusDoNotDisturb),
			},
		)
	} else {
		err = b.discord.session.UpdateCustomStatus(state.CustomStatus)
	}
	if err != nil {
		b.logger.ErrorContext(ctx, "error updating discord status", tint.Err(err))
	}
}

// startRuntimeConfigRefresher reloads RuntimeConfig every
// RuntimeConfigTTL, and whenever a refresh is triggered
func (b *Bot) startRuntimeConfigRefresher(ctx context.Context) {
	if ttl := b.config.RuntimeConfigTTL; ttl > 0 {
		b.runtimeWG.Add(1)
		go func() {
			defer b.runtimeWG.Done()
			ticker := time.NewTicker(ttl)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case b.triggerRuntimeConfigRefreshCh <- false:
					case <-time.After(5 * time.Second):
						b.logger.Warn("timed out sending config refresh signal")
					}
				}
			}
		}()
	}

	b.runtimeWG.Add(1)
	go func() {
		defer b.runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.triggerRuntimeConfigRefreshCh:
				refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				if err := b.refreshRuntimeConfig(refreshCtx); err != nil {
					b.logger.ErrorContext(ctx, "error refreshing runtime config", tint.Err(err))
				}
				cancel()
			}
		}
	}()
}

func (b *Bot) refreshRuntimeConfig(ctx context.Context) error {
	var state RuntimeConfig
	if err := b.writeDB.DB().WithContext(ctx).Last(&state).Error; err != nil {
		return err
	}

	b.cfgMu.Lock()
	previous := *b.runtimeConfig
	b.runtimeConfig = &state
	b.cfgMu.Unlock()

	b.maintenance.Store(state.Maintenance)
	b.setRuntimeLevels(state)
	if previous.Maintenance != state.Maintenance || previous.CustomStatus != state.CustomStatus {
		b.updatePresence(ctx, state)
	}
	b.logger.DebugContext(ctx, "refreshed runtime config")
	return nil
}

// setRuntimeLevels applies the stored log levels to each component
func (b *Bot) setRuntimeLevels(state RuntimeConfig) {
	levels := []struct {
		stored DBLogLevel
		target *slog.LevelVar
	}{
		{state.LogLevel, b.config.LogLevel},
		{state.DiscordLogLevel, b.config.Discord.LogLevel},
		{state.DiscordGoLogLevel, b.config.Discord.DiscordGoLogLevel},
		{state.DatabaseLogLevel, b.config.DatabaseLogLevel},
		{state.AILogLevel, b.config.AI.LogLevel},
		{state.VoiceLogLevel, b.config.Voice.LogLevel},
		{state.HealthLogLevel, b.config.Health.LogLevel},
	}
	for _, l := range levels {
		if l.stored != "" && l.target != nil {
			l.target.Set(l.stored.Level())
		}
	}
}
