package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	nicknameScanPageSize    = 1000
	nicknameScanConcurrency = 4

	// room kept for the name when a suffix is applied
	minNicknameBaseLength = 4
)

// cloud suffixes are stripped even when unmapped, since the emoji
// variation selector is sometimes dropped by clients
var extraNicknameSuffixes = []string{"☁️", "☁"}

// toBold maps ASCII letters and digits to their Mathematical Bold
// equivalents. Other runes are unchanged.
func toBold(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 4)
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(0x1D400 + (r - 'A'))
		case r >= 'a' && r <= 'z':
			b.WriteRune(0x1D41A + (r - 'a'))
		case r >= '0' && r <= '9':
			b.WriteRune(0x1D7CE + (r - '0'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// nicknameSuffix is a suffix FormatNickname strips from names. Suffixes
// with letters or digits are only stripped as a separate word, so they
// don't eat the end of a name like "Ivip".
type nicknameSuffix struct {
	text  string
	glued bool
}

// FormatNickname returns the formatted nickname for a member.
// roleIDs must be ordered by guild position, highest first; the first
// role with a suffix mapping provides the suffix. Known suffixes (plain
// or bolded) are removed from the end of the name, the rest is bolded
// and clamped to Discord's nickname length, then the suffix is added.
// A suffix too long to leave room for a name is not applied.
// FormatNickname(FormatNickname(x)) == FormatNickname(x).
func FormatNickname(name string, roleIDs []string, suffixes map[string]string) string {
	var suffix string
	for _, roleID := range roleIDs {
		if s, ok := suffixes[roleID]; ok && s != "" {
			suffix = s
			break
		}
	}

	known := make([]nicknameSuffix, 0, 2*(len(suffixes)+len(extraNicknameSuffixes)))
	addKnown := func(s string) {
		if s == "" {
			return
		}
		bold := toBold(s)
		glued := bold == s
		known = append(known, nicknameSuffix{text: s, glued: glued})
		if !glued {
			known = append(known, nicknameSuffix{text: bold})
		}
	}
	for _, s := range suffixes {
		addKnown(s)
	}
	for _, s := range extraNicknameSuffixes {
		addKnown(s)
	}
	// longer suffixes first, so "☁️" is removed before "☁"
	sort.Slice(
		known, func(i, j int) bool {
			return len(known[i].text) > len(known[j].text)
		},
	)

	limit := discordMaxNicknameLength
	if suffix != "" {
		limit -= 1 + utf8.RuneCountInString(suffix)
		if limit < minNicknameBaseLength {
			suffix = ""
			limit = discordMaxNicknameLength
		}
	}

	// strip before bolding, so suffixes with letters are still recognized
	base := toBold(strings.TrimSpace(stripNicknameSuffixes(name, known)))
	for {
		next := strings.TrimSpace(stripNicknameSuffixes(base, known))
		next = strings.TrimSpace(truncate(next, limit))
		if next == base {
			break
		}
		base = next
	}
	if base == "" {
		base = toBold("User")
	}

	if suffix == "" {
		return base
	}
	return base + " " + suffix
}

func stripNicknameSuffixes(name string, known []nicknameSuffix) string {
	for {
		trimmed := strings.TrimRight(name, " ")
		for _, s := range known {
			rest, ok := strings.CutSuffix(trimmed, s.text)
			if !ok {
				continue
			}
			if !s.glued && rest != "" && !strings.HasSuffix(rest, " ") {
				continue
			}
			trimmed = strings.TrimRight(rest, " ")
		}
		if trimmed == name {
			return name
		}
		name = trimmed
	}
}

func rolesByPosition(memberRoles []string, guildRoles []*discordgo.Role) []string {
	positions := make(map[string]int, len(guildRoles))
	for _, r := range guildRoles {
		positions[r.ID] = r.Position
	}
	ordered := make([]string, len(memberRoles))
	copy(ordered, memberRoles)
	sort.SliceStable(
		ordered, func(i, j int) bool {
			pi, ok := positions[ordered[i]]
			if !ok {
				pi = -1
			}
			pj, ok := positions[ordered[j]]
			if !ok {
				pj = -1
			}
			return pi > pj
		},
	)
	return ordered
}

// NicknameFormatter applies FormatNickname to guild members
type NicknameFormatter struct {
	discord  *Discord
	settings SettingsStore
	logger   *slog.Logger
}

func newNicknameFormatter(discord *Discord, settings SettingsStore, logger *slog.Logger) *NicknameFormatter {
	return &NicknameFormatter{
		discord:  discord,
		settings: settings,
		logger:   logger,
	}
}

// Nickname returns the formatted nickname for a member of the guild
func (n *NicknameFormatter) Nickname(guild *discordgo.Guild, member *discordgo.Member) string {
	roles := rolesByPosition(member.Roles, guild.Roles)
	return FormatNickname(displayName(member.User, member), roles, n.settings.RoleSuffixes())
}

// Apply updates the member's nickname if it isn't already formatted.
// Bots are skipped. The guild owner can't be renamed by bots, so when
// notifyOwner is set they are sent the suggested nickname instead.
func (n *NicknameFormatter) Apply(
	ctx context.Context,
	guild *discordgo.Guild,
	member *discordgo.Member,
	notifyOwner bool,
) (bool, error) {
	if member == nil || member.User == nil || member.User.Bot {
		return false, nil
	}
	nickname := n.Nickname(guild, member)
	if displayName(member.User, member) == nickname {
		return false, nil
	}

	log := n.logger.With("guild_id", guild.ID, "user_id", member.User.ID)
	if member.User.ID == guild.OwnerID {
		if notifyOwner {
			log.InfoContext(ctx, "suggesting nickname to guild owner", "nickname", nickname)
			_ = n.discord.sendDM(
				ctx,
				member.User.ID,
				fmt.Sprintf(
					"Hi! I can't change the server owner's nickname. Suggested nickname: `%s`",
					nickname,
				),
				nil,
			)
		}
		return false, nil
	}

	if err := n.discord.session.GuildMemberNickname(guild.ID, member.User.ID, nickname); err != nil {
		return false, fmt.Errorf("error setting nickname: %w", err)
	}
	log.DebugContext(ctx, "updated nickname", "nickname", nickname)
	return true, nil
}

// ApplyByID looks up the guild and member, then calls Apply
func (n *NicknameFormatter) ApplyByID(
	ctx context.Context,
	guildID string,
	userID string,
	notifyOwner bool,
) (bool, error) {
	guild, err := n.discord.guild(guildID)
	if err != nil {
		return false, fmt.Errorf("error loading guild: %w", err)
	}
	member, err := n.discord.member(guildID, userID)
	if err != nil {
		return false, fmt.Errorf("error loading member: %w", err)
	}
	return n.Apply(ctx, guild, member, notifyOwner)
}

// ScanGuild formats every member of the guild, returning the number of
// nicknames changed.
func (n *NicknameFormatter) ScanGuild(ctx context.Context, guildID string) (int, error) {
	guild, err := n.discord.guild(guildID)
	if err != nil {
		return 0, fmt.Errorf("error loading guild: %w", err)
	}
	if len(guild.Roles) == 0 {
		roles, e := n.discord.session.GuildRoles(guildID)
		if e != nil {
			return 0, fmt.Errorf("error loading roles: %w", e)
		}
		guild.Roles = roles
	}

	var members []*discordgo.Member
	after := ""
	for {
		page, e := n.discord.session.GuildMembers(guildID, after, nicknameScanPageSize)
		if e != nil {
			return 0, fmt.Errorf("error listing members: %w", e)
		}
		members = append(members, page...)
		if len(page) < nicknameScanPageSize {
			break
		}
		after = page[len(page)-1].User.ID
	}

	results := make([]bool, len(members))
	errs := make([]error, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nicknameScanConcurrency)
	for i, m := range members {
		g.Go(
			func() error {
				defer func() {
					if rc := recover(); rc != nil {
						logRecover(gctx, n.logger, rc)
						errs[i] = fmt.Errorf("panic formatting nickname: %v", rc)
					}
				}()
				if gctx.Err() != nil {
					return gctx.Err()
				}
				results[i], errs[i] = n.Apply(gctx, guild, m, false)
				return nil
			},
		)
	}
	if err = g.Wait(); err != nil {
		return 0, err
	}

	var changed int
	for i, ok := range results {
		if ok {
			changed++
		}
		if errs[i] != nil {
			n.logger.DebugContext(
				ctx,
				"unable to format nickname",
				"user_id", members[i].User.ID,
				tint.Err(errs[i]),
			)
		}
	}
	return changed, errors.Join(errs...)
}

func (n *NicknameFormatter) handlerGuildMemberAdd() func(
	s *discordgo.Session,
	e *discordgo.GuildMemberAdd,
) {
	return func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
		ctx := context.Background()
		defer func() {
			if rc := recover(); rc != nil {
				logRecover(ctx, n.logger, rc)
			}
		}()
		if e.Member == nil || e.User == nil {
			return
		}
		if _, err := n.ApplyByID(ctx, e.GuildID, e.User.ID, true); err != nil {
			n.logger.WarnContext(ctx, "error formatting new member", tint.Err(err))
		}
	}
}

func (n *NicknameFormatter) handlerGuildMemberUpdate() func(
	s *discordgo.Session,
	e *discordgo.GuildMemberUpdate,
) {
	return func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
		ctx := context.Background()
		defer func() {
			if rc := recover(); rc != nil {
				logRecover(ctx, n.logger, rc)
			}
		}()
		if e.Member == nil || e.User == nil {
			return
		}
		guild, err := n.discord.guild(e.GuildID)
		if err != nil {
			n.logger.WarnContext(ctx, "error loading guild", tint.Err(err))
			return
		}
		if _, err = n.Apply(ctx, guild, e.Member, true); err != nil {
			n.logger.WarnContext(ctx, "error formatting member", tint.Err(err))
		}
	}
}
