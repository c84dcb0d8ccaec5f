package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"
)

// ModerationAction is taken against a member who uses a banned word
type ModerationAction string

const (
	ModerationActionMute       ModerationAction = "mute"
	ModerationActionDisconnect ModerationAction = "disconnect"
	ModerationActionBoth       ModerationAction = "both"
)

var ErrInvalidModerationAction = errors.New("action must be one of: mute, disconnect, both")

// maxRoleSuffixLength is the longest suffix, in runes, that can be
// mapped to a role
const maxRoleSuffixLength = 8

var ErrRoleSuffixTooLong = fmt.Errorf("suffix must be at most %d characters", maxRoleSuffixLength)

func ParseModerationAction(s string) (ModerationAction, error) {
	switch a := ModerationAction(strings.ToLower(strings.TrimSpace(s))); a {
	case ModerationActionMute, ModerationActionDisconnect, ModerationActionBoth:
		return a, nil
	default:
		return "", ErrInvalidModerationAction
	}
}

func (a ModerationAction) mutes() bool {
	return a == ModerationActionMute || a == ModerationActionBoth
}

func (a ModerationAction) disconnects() bool {
	return a == ModerationActionDisconnect || a == ModerationActionBoth
}

// BannedWord is a word that triggers a moderation action
type BannedWord struct {
	Word   string           `json:"word" gorm:"primaryKey;type:string"`
	Action ModerationAction `json:"action" gorm:"type:string;not null"`
	ModelUnixTime
}

// RoleSuffix maps a guild role to the emoji appended to nicknames of
// members holding it
type RoleSuffix struct {
	RoleID string `json:"role_id" gorm:"primaryKey;type:string"`
	Suffix string `json:"suffix" gorm:"type:string;not null"`
	ModelUnixTime
}

// SettingsStore holds the role suffix and banned word tables.
type SettingsStore interface {
	RoleSuffix(roleID string) (string, bool)
	RoleSuffixes() map[string]string
	SetRoleSuffix(ctx context.Context, roleID, suffix string) error
	RemoveRoleSuffix(ctx context.Context, roleID string) error

	WordAction(word string) (ModerationAction, bool)
	BannedWords() map[string]ModerationAction
	SetWordAction(ctx context.Context, word string, action ModerationAction) error
	RemoveWord(ctx context.Context, word string) error

	// Reload refreshes the cached tables from the database
	Reload(ctx context.Context) error
}

// dbSettings is a SettingsStore persisted with gorm, with the tables
// cached in memory. Tables are seeded with defaults when empty.
type dbSettings struct {
	writeDB  DBI
	logger   *slog.Logger
	notifier DBNotifier

	mu       sync.RWMutex
	suffixes map[string]string
	words    map[string]ModerationAction
}

func newDBSettings(
	ctx context.Context,
	writeDB DBI,
	defaultSuffixes map[string]string,
	defaultWords map[string]string,
	logger *slog.Logger,
) (*dbSettings, error) {
	s := &dbSettings{
		writeDB:  writeDB,
		logger:   logger,
		suffixes: map[string]string{},
		words:    map[string]ModerationAction{},
	}
	if err := s.seed(ctx, defaultSuffixes, defaultWords); err != nil {
		return nil, err
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *dbSettings) seed(
	ctx context.Context,
	defaultSuffixes map[string]string,
	defaultWords map[string]string,
) error {
	return s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&RoleSuffix{}).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 && len(defaultSuffixes) > 0 {
				rows := make([]RoleSuffix, 0, len(defaultSuffixes))
				for _, roleID := range sortedKeys(defaultSuffixes) {
					rows = append(rows, RoleSuffix{RoleID: roleID, Suffix: defaultSuffixes[roleID]})
				}
				s.logger.InfoContext(ctx, "seeding role suffixes", "count", len(rows))
				if err := tx.Create(&rows).Error; err != nil {
					return err
				}
			}

			if err := tx.Model(&BannedWord{}).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 && len(defaultWords) > 0 {
				rows := make([]BannedWord, 0, len(defaultWords))
				for _, word := range sortedKeys(defaultWords) {
					action, err := ParseModerationAction(defaultWords[word])
					if err != nil {
						return fmt.Errorf("default word %q: %w", word, err)
					}
					rows = append(rows, BannedWord{Word: word, Action: action})
				}
				s.logger.InfoContext(ctx, "seeding banned words", "count", len(rows))
				if err := tx.Create(&rows).Error; err != nil {
					return err
				}
			}
			return nil
		},
	)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (s *dbSettings) Reload(ctx context.Context) error {
	var suffixRows []RoleSuffix
	var wordRows []BannedWord

	db := s.writeDB.DB().WithContext(ctx)
	if err := db.Find(&suffixRows).Error; err != nil {
		return fmt.Errorf("error loading role suffixes: %w", err)
	}
	if err := db.Find(&wordRows).Error; err != nil {
		return fmt.Errorf("error loading banned words: %w", err)
	}

	suffixes := make(map[string]string, len(suffixRows))
	for _, r := range suffixRows {
		suffixes[r.RoleID] = r.Suffix
	}
	words := make(map[string]ModerationAction, len(wordRows))
	for _, w := range wordRows {
		words[w.Word] = w.Action
	}

	s.mu.Lock()
	s.suffixes = suffixes
	s.words = words
	s.mu.Unlock()

	s.logger.DebugContext(
		ctx,
		"loaded settings",
		"role_suffixes", len(suffixes),
		"banned_words", len(words),
	)
	return nil
}

func (s *dbSettings) changed(ctx context.Context) {
	if s.notifier != nil {
		s.notifier.ReloadSettings(ctx)
	}
}

func (s *dbSettings) RoleSuffix(roleID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	suffix, ok := s.suffixes[roleID]
	return suffix, ok
}

func (s *dbSettings) RoleSuffixes() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.suffixes)
}

func (s *dbSettings) SetRoleSuffix(ctx context.Context, roleID, suffix string) error {
	suffix = strings.TrimSpace(suffix)
	if roleID == "" || suffix == "" {
		return errors.New("role ID and suffix are required")
	}
	if utf8.RuneCountInString(suffix) > maxRoleSuffixLength {
		return ErrRoleSuffixTooLong
	}
	row := RoleSuffix{RoleID: roleID, Suffix: suffix}
	err := s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: "role_id"}},
					DoUpdates: clause.AssignmentColumns([]string{"suffix", "updated_at"}),
				},
			).Create(&row).Error
		},
	)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.suffixes[roleID] = suffix
	s.mu.Unlock()
	s.changed(ctx)
	return nil
}

func (s *dbSettings) RemoveRoleSuffix(ctx context.Context, roleID string) error {
	if _, err := s.writeDB.Delete(ctx, &RoleSuffix{}, "role_id = ?", roleID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.suffixes, roleID)
	s.mu.Unlock()
	s.changed(ctx)
	return nil
}

func (s *dbSettings) WordAction(word string) (ModerationAction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	action, ok := s.words[strings.ToLower(word)]
	return action, ok
}

func (s *dbSettings) BannedWords() map[string]ModerationAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.words)
}

func (s *dbSettings) SetWordAction(ctx context.Context, word string, action ModerationAction) error {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return errors.New("word is required")
	}
	if _, err := ParseModerationAction(string(action)); err != nil {
		return err
	}
	row := BannedWord{Word: word, Action: action}
	err := s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: "word"}},
					DoUpdates: clause.AssignmentColumns([]string{"action", "updated_at"}),
				},
			).Create(&row).Error
		},
	)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.words[word] = action
	s.mu.Unlock()
	s.changed(ctx)
	return nil
}

func (s *dbSettings) RemoveWord(ctx context.Context, word string) error {
	word = strings.ToLower(strings.TrimSpace(word))
	if _, err := s.writeDB.Delete(ctx, &BannedWord{}, "word = ?", word); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.words, word)
	s.mu.Unlock()
	s.changed(ctx)
	return nil
}
