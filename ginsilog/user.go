package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"log/slog"
	"time"
)

var (
	columnUserBalance     = "balance"
	columnUserLastDaily   = "last_daily"
	columnUserUsername    = "username"
	columnUserGlobalName  = "global_name"
	columnUserLastSeen    = "last_seen"
	columnUserVoiceGender = "voice_gender"
)

// VoiceGender selects the voice used when speaking to a user
type VoiceGender string

const (
	VoiceGenderMale   VoiceGender = "m"
	VoiceGenderFemale VoiceGender = "f"
)

// ParseVoiceGender accepts m/f, male/female and lalaki/babae
func ParseVoiceGender(s string) (VoiceGender, bool) {
	switch s {
	case "m", "male", "lalaki":
		return VoiceGenderMale, true
	case "f", "female", "babae":
		return VoiceGenderFemale, true
	default:
		return "", false
	}
}

// User is a record of a Discord user seen by the bot, along with their
// economy balance and preferences.
//
//nolint:lll // struct tags can't be split
type User struct {
	// ID is the Discord user ID
	ID string `json:"id" gorm:"primaryKey;type:string"`

	// Username, not unique
	Username string `json:"username" gorm:"type:string"`

	// User's display name
	GlobalName string `json:"global_name" gorm:"type:string"`

	Bot bool `json:"bot" gorm:"type:bool"`

	// Balance is the user's coin balance. It never goes negative.
	Balance int64 `json:"balance" gorm:"column:balance;not null"`

	// LastDaily is the unix millisecond timestamp of the user's last
	// daily reward claim. 0 if never claimed.
	LastDaily int64 `json:"last_daily" gorm:"column:last_daily;not null"`

	VoiceGender VoiceGender `json:"voice_gender" gorm:"column:voice_gender;type:string"`

	// LastSeen is the last time this user sent a command or message
	LastSeen int64 `json:"last_seen" gorm:"column:last_seen"`

	ModelUnixTime
}

func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.String("username", u.Username),
		slog.Int64("balance", u.Balance),
	)
}

// Store persists users, preferences and chat history.
type Store struct {
	db              *gorm.DB
	writeDB         DBI
	logger          *slog.Logger
	startingBalance int64
}

func NewStore(writeDB DBI, startingBalance int64, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:              writeDB.DB(),
		writeDB:         writeDB,
		logger:          logger,
		startingBalance: startingBalance,
	}
}

// ensureUserTx inserts a user with the starting balance, if it doesn't
// already exist.
func ensureUserTx(tx *gorm.DB, userID string, startingBalance int64) error {
	u := User{
		ID:          userID,
		Balance:     startingBalance,
		VoiceGender: VoiceGenderFemale,
	}
	return tx.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		},
	).Create(&u).Error
}

// TouchUser creates the user if needed, and updates their name and
// last-seen time.
func (s *Store) TouchUser(ctx context.Context, du *discordgo.User) (*User, error) {
	var user User
	err := s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			if err := ensureUserTx(tx, du.ID, s.startingBalance); err != nil {
				return err
			}
			if err := tx.Model(&User{}).Where("id = ?", du.ID).Updates(
				map[string]any{
					columnUserUsername:   du.Username,
					columnUserGlobalName: du.GlobalName,
					columnUserLastSeen:   time.Now().UTC().UnixMilli(),
					"bot":                du.Bot,
				},
			).Error; err != nil {
				return err
			}
			return tx.Where("id = ?", du.ID).Take(&user).Error
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error saving user %s: %w", du.ID, err)
	}
	return &user, nil
}

// GetUser returns the user, or gorm.ErrRecordNotFound
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// VoiceGender returns the user's preferred voice, defaulting to female
func (s *Store) VoiceGender(ctx context.Context, userID string) VoiceGender {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WarnContext(
				ctx,
				"error loading voice preference",
				"user_id", userID,
				tint.Err(err),
			)
		}
		return VoiceGenderFemale
	}
	if u.VoiceGender == "" {
		return VoiceGenderFemale
	}
	return u.VoiceGender
}

func (s *Store) SetVoiceGender(ctx context.Context, userID string, gender VoiceGender) error {
	return s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			if err := ensureUserTx(tx, userID, s.startingBalance); err != nil {
				return err
			}
			return tx.Model(&User{}).Where("id = ?", userID).Update(
				columnUserVoiceGender,
				gender,
			).Error
		},
	)
}

// AutoTTSChannel marks a text channel whose messages are read aloud in
// the guild's voice channel.
type AutoTTSChannel struct {
	GuildID   string `json:"guild_id" gorm:"primaryKey;type:string"`
	ChannelID string `json:"channel_id" gorm:"primaryKey;type:string"`
	ModelUnixTime
}

// AutoTTSChannels returns the auto-TTS channel IDs for a guild
func (s *Store) AutoTTSChannels(ctx context.Context, guildID string) ([]string, error) {
	var channels []string
	err := s.db.WithContext(ctx).Model(&AutoTTSChannel{}).Where(
		"guild_id = ?",
		guildID,
	).Pluck("channel_id", &channels).Error
	return channels, err
}

// IsAutoTTSChannel reports whether auto-TTS is enabled for the channel
func (s *Store) IsAutoTTSChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AutoTTSChannel{}).Where(
		"guild_id = ? AND channel_id = ?",
		guildID,
		channelID,
	).Count(&count).Error
	return count > 0, err
}

// ToggleAutoTTSChannel flips auto-TTS for the channel and returns
// whether it's now enabled.
func (s *Store) ToggleAutoTTSChannel(ctx context.Context, guildID, channelID string) (bool, error) {
	var enabled bool
	err := s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			rv := tx.Where(
				"guild_id = ? AND channel_id = ?",
				guildID,
				channelID,
			).Delete(&AutoTTSChannel{})
			if rv.Error != nil {
				return rv.Error
			}
			if rv.RowsAffected > 0 {
				return nil
			}
			enabled = true
			return tx.Create(&AutoTTSChannel{GuildID: guildID, ChannelID: channelID}).Error
		},
	)
	return enabled, err
}
