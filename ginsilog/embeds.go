package ginsilog

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
	"time"
)

const (
	embedColorPrimary = 0xFF5733
	embedColorSuccess = 0x33FF57
	embedColorError   = 0xFF3357
	embedColorInfo    = 0x3357FF
	embedColorAdmin   = 0xE74C3C
	embedColorOwner   = 0xFFD700

	embedFooter = "Ginsilog Bot"
)

// moderationTitles and moderationActionText describe each action in
// the channel warning, DM, and announcement
var (
	moderationTitles = map[ModerationAction]string{
		ModerationActionMute:       "🔇 TEXT CHANNEL VIOLATION 🔇",
		ModerationActionDisconnect: "🎤 VOICE CHANNEL VIOLATION 🎤",
		ModerationActionBoth:       "🚫 SEVERE VIOLATION 🚫",
	}
	moderationActionText = map[ModerationAction]string{
		ModerationActionMute:       "SERVER MUTED",
		ModerationActionDisconnect: "DISCONNECTED FROM VOICE",
		ModerationActionBoth:       "SERVER MUTED + DISCONNECTED FROM VOICE",
	}
	moderationReminders = map[ModerationAction]string{
		ModerationActionMute:       "Text channel violations result in temporary mutes. Repeated violations may lead to longer punishment.",
		ModerationActionDisconnect: "Voice channel violations are not tolerated. Please follow server rules in voice channels.",
		ModerationActionBoth:       "Severe violations are strictly prohibited. Further violations may result in a ban.",
	}
)

func violationWarningEmbed(userID, word string, action ModerationAction, muteDuration time.Duration) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       "⚠️ VIOLATION DETECTED! ⚠️",
		Description: fmt.Sprintf("<@%s> USED A PROHIBITED WORD: `%s`", userID, word),
		Color:       embedColorError,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "ACTION TAKEN:", Value: moderationActionText[action]},
		},
	}
	if action.mutes() {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:  "UNMUTE TIME:",
				Value: fmt.Sprintf("You will be automatically unmuted after %s", muteDuration),
			},
		)
	}
	return embed
}

func violationDMEmbed(word string, action ModerationAction) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "⚠️ SERVER VIOLATION WARNING ⚠️",
		Description: fmt.Sprintf(
			"Action taken: %s, for using the prohibited word: `%s`",
			strings.ToLower(moderationActionText[action]),
			word,
		),
		Color: embedColorError,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "REMINDER:", Value: moderationReminders[action]},
		},
	}
}

func violationAnnouncementEmbed(
	userID, channelID, word string,
	action ModerationAction,
	at time.Time,
) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       moderationTitles[action],
		Description: fmt.Sprintf("User <@%s> used a prohibited word in <#%s>", userID, channelID),
		Color:       embedColorError,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "VIOLATION:", Value: fmt.Sprintf("`%s`", word), Inline: true},
			{Name: "TIME:", Value: fmt.Sprintf("<t:%d:f>", at.Unix()), Inline: true},
			{Name: "ACTION:", Value: strings.ToUpper(string(action)), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "BAWAL YAN DITO!"},
	}
}

func unmutedEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🔊 SERVER MUTE EXPIRED",
		Description: "You have been automatically unmuted after your timeout period.",
		Color:       embedColorPrimary,
	}
}

func balanceEmbed(userID string, balance int64) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "💰 **ACCOUNT BALANCE**",
		Description: fmt.Sprintf("<@%s>'s balance: **%s**", userID, formatCoins(balance)),
		Color:       embedColorSuccess,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Yan lang pera mo? Mag-daily ka pa! | " + embedFooter},
	}
}

// leaderboardRank labels each position on the leaderboard
func leaderboardRank(idx int) string {
	switch {
	case idx < 3:
		return "MAYAMAN NA MAYAMAN!"
	case idx < 10:
		return "SAKTO LANG PERA"
	default:
		return "KAILANGAN PA MAG-IPON"
	}
}

// leaderboardEntry is a ranked user with a resolved display name
type leaderboardEntry struct {
	Name    string
	Balance int64
}

func leaderboardEmbed(entries []leaderboardEntry) *discordgo.MessageEmbed {
	var sb strings.Builder
	sb.WriteString("**TOP MAYAMAN NG SERVER**\n\n")
	if len(entries) == 0 {
		sb.WriteString("Wala pang laman ang leaderboard.")
	}
	for idx, e := range entries {
		_, _ = fmt.Fprintf(
			&sb,
			"`%d.` **%s** - **%s** *(%s)*\n",
			idx+1,
			e.Name,
			formatCoins(e.Balance),
			leaderboardRank(idx),
		)
	}
	return &discordgo.MessageEmbed{
		Title:       "**GINSILOG LEADERBOARD - MAYAMAN VS. DUKHA**",
		Description: sb.String(),
		Color:       embedColorPrimary,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Ginsilog Economy System"},
	}
}

func conversationClearedEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "**Conversation Cleared**",
		Description: "Burado na ang usapan natin sa channel na ito. Fresh start!",
		Color:       embedColorInfo,
	}
}

func rulesEmbed(guildID, rulesChannelID string) *discordgo.MessageEmbed {
	description := "**BASAHIN MO MABUTI ANG MGA RULES NA ITO!**\n\n" +
		"1. Be respectful to all members\n" +
		"2. No illegal content\n" +
		"3. Adults only (18+)\n" +
		"4. No spamming\n" +
		"5. Keep NSFW content in designated channels\n" +
		"6. No doxxing\n" +
		"7. Follow Discord Terms of Service\n" +
		"8. Listen to admins and moderators\n"
	if rulesChannelID != "" {
		description += fmt.Sprintf(
			"\n**Kung may tanong ka, pumunta ka sa <#%s> channel!**\n\n"+
				"[**CLICK HERE TO GO TO RULES CHANNEL**](https://discord.com/channels/%s/%s)",
			rulesChannelID, guildID, rulesChannelID,
		)
	}
	return &discordgo.MessageEmbed{
		Title:       "**SERVER RULES**",
		Description: description,
		Color:       embedColorPrimary,
		Footer:      &discordgo.MessageEmbedFooter{Text: embedFooter + " | Rules"},
	}
}

func announcementEmbed(message, authorName, announcementsChannelID string) *discordgo.MessageEmbed {
	description := message
	if announcementsChannelID != "" {
		description += fmt.Sprintf("\n\nFor more announcements, check <#%s>", announcementsChannelID)
	}
	return &discordgo.MessageEmbed{
		Title:       "Announcement",
		Description: description,
		Color:       embedColorPrimary,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Announced by " + authorName},
	}
}

func bannedWordsEmbed(words map[ModerationAction][]string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "📝 BANNED WORDS",
		Color: embedColorPrimary,
	}
	for _, action := range []ModerationAction{ModerationActionBoth, ModerationActionDisconnect, ModerationActionMute} {
		list := words[action]
		value := "(none)"
		if len(list) > 0 {
			value = "`" + strings.Join(list, "`, `") + "`"
		}
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{Name: moderationActionText[action], Value: truncate(value, 1024)},
		)
	}
	return embed
}

func roleSuffixesEmbed(suffixes map[string]string) *discordgo.MessageEmbed {
	var sb strings.Builder
	for _, roleID := range sortedKeys(suffixes) {
		_, _ = fmt.Fprintf(&sb, "<@&%s> → %s\n", roleID, suffixes[roleID])
	}
	if sb.Len() == 0 {
		sb.WriteString("No role emojis configured.")
	}
	return &discordgo.MessageEmbed{
		Title:       "📋 Role Emoji Mappings",
		Description: truncate(sb.String(), 4096),
		Color:       embedColorInfo,
	}
}

// commandHelp is a help entry: usage and description
type commandHelp struct {
	Usage       string
	Description string
}

type commandHelpSection struct {
	Title    string
	Color    int
	Commands []commandHelp
}

func helpEmbeds(prefix string, sections []commandHelpSection) []*discordgo.MessageEmbed {
	embeds := make([]*discordgo.MessageEmbed, 0, len(sections))
	for _, section := range sections {
		var sb strings.Builder
		for _, c := range section.Commands {
			_, _ = fmt.Fprintf(&sb, "**`%s%s`** - %s\n", prefix, c.Usage, c.Description)
		}
		embeds = append(
			embeds,
			&discordgo.MessageEmbed{
				Title:       section.Title,
				Description: sb.String(),
				Color:       section.Color,
			},
		)
	}
	embeds[len(embeds)-1].Footer = &discordgo.MessageEmbedFooter{Text: embedFooter}
	return embeds
}

var userHelpSections = []commandHelpSection{
	{
		Title: "**🤖 AI CHAT COMMANDS 🤖**",
		Color: 0x3498DB,
		Commands: []commandHelp{
			{"usap <message>", "Makipag-usap sa AI"},
			{"ask <message>", "Voice response (sasagot sa voice channel)"},
			{"asklog <message>", "Makipag-usap sa AI, naka-log"},
			{"clear", "Burahin ang usapan sa channel"},
			{"@Ginsilog <message>", "Mention the bot para makipag-usap"},
		},
	},
	{
		Title: "**💰 ECONOMY COMMANDS 💰**",
		Color: 0xF1C40F,
		Commands: []commandHelp{
			{"daily", "Claim your daily ₱10,000"},
			{"balance", "Check your balance"},
			{"give <@user> <amount>", "Bigyan ng pera ang iba"},
			{"leaderboard", "Top richest members"},
		},
	},
	{
		Title: "**🎮 GAMES COMMANDS 🎮**",
		Color: 0x9B59B6,
		Commands: []commandHelp{
			{"toss <h/t> [bet]", "Coin flip, doble ang panalo"},
			{"blackjack <bet>", "Start a blackjack game (alias: bj)"},
			{"hit", "Draw a card"},
			{"stand", "End your turn"},
		},
	},
	{
		Title: "**🔊 VOICE COMMANDS 🔊**",
		Color: 0xE67E22,
		Commands: []commandHelp{
			{"joinvc", "Papasukin ang bot sa voice channel mo"},
			{"vc <message>", "Ipabasa ang message sa voice channel"},
			{"listen", "Makikinig ang bot sa boses mo"},
			{"stoplisten", "Titigil sa pakikinig"},
			{"autotts", "Toggle auto text-to-speech sa channel"},
			{"change <m/f>", "Palitan ang boses (male/female)"},
			{"leave", "Paalisin ang bot sa voice channel"},
		},
	},
	{
		Title: "**🔧 UTILITY COMMANDS 🔧**",
		Color: 0x2ECC71,
		Commands: []commandHelp{
			{"rules", "Server rules"},
			{"tulong", "Itong help message"},
		},
	},
}

var adminHelpSections = []commandHelpSection{
	{
		Title: "**👑 ADMIN COMMANDS 👑**",
		Color: embedColorAdmin,
		Commands: []commandHelp{
			{"sagad <@user> <amount>", "Add coins to a user"},
			{"bawas <@user> <amount>", "Deduct coins from a user"},
			{"announcement <message>", "Post an announcement"},
			{"goodmorning", "Send the morning greeting now"},
			{"goodnight", "Send the night greeting now"},
			{"g <channel_id> <message>", "Send a message as the bot"},
			{"clear_messages [channel_id]", "Delete the bot's recent messages"},
			{"maintenance <on|off|toggle|status>", "Maintenance mode"},
			{"status [text]", "View or set the bot's custom status"},
			{"set_words <list|add|remove> [word] [action]", "Manage banned words"},
			{"roles [view|set <role_id> <emoji>|remove <role_id>]", "View or set role emojis"},
			{"setupnn", "Format every member's nickname now"},
			{"admin", "Admin commands"},
			{"commandslist", "Every command"},
		},
	},
}
