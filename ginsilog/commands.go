package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	clearMessagesLimit    = 500
	clearMessagesPageSize = 100
	clearMessagesDelay    = 700 * time.Millisecond
	autoTTSMaxLength      = 300
)

// Replies shared by several commands
const (
	replyCommandError  = "❌ **MAY ERROR!** Pasensya na, subukan mo ulit mamaya."
	replyAccessDenied  = "❌ **ACCESS DENIED!** Para sa admins lang ang command na ito."
	replyMaintenance   = "🛠️ **MAINTENANCE MODE!** Naka-maintenance ang bot ngayon, admins lang muna ang pwede."
	replyGuildOnly     = "Sa server lang pwede ang command na ito."
	replyVoiceDisabled = "🔇 Naka-disable ang voice features ngayon."
	replyNotInVoice    = "**SUMALI KA MUNA SA VOICE CHANNEL!** Hindi kita mahanap sa voice."
	replyBotNotInVoice = "Wala ako sa voice channel. Gamitin mo muna ang `%sjoinvc`."
	replyMentionEmpty  = "Ano yun? Sabihin mo lang kung ano ang tanong mo. 👀"
)

var snowflakePattern = regexp.MustCompile(`^<(?:@!?|@&|#)?(\d+)>$|^(\d+)$`)

// parseSnowflake extracts an ID from a raw ID or a user, role or
// channel mention
func parseSnowflake(s string) (string, bool) {
	match := snowflakePattern.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return "", false
	}
	if match[1] != "" {
		return match[1], true
	}
	return match[2], true
}

// parseAmount parses a coin amount, allowing thousands separators and
// a peso sign
func parseAmount(s string) (int64, error) {
	s = strings.NewReplacer(",", "", "₱", "", "_", "").Replace(strings.TrimSpace(s))
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

// invocation is a single parsed command message
type invocation struct {
	msg    *discordgo.Message
	member *discordgo.Member
	name   string
	args   []string

	// text is everything after the command name, with its spacing
	// intact
	text  string
	admin bool
}

func (inv *invocation) userID() string {
	return inv.msg.Author.ID
}

func (inv *invocation) authorName() string {
	return displayName(inv.msg.Author, inv.member)
}

type command struct {
	name      string
	aliases   []string
	admin     bool
	guildOnly bool

	// unmoderated commands skip the banned word check when an admin
	// runs them, so banned words can be named as arguments
	unmoderated bool
	handler     func(ctx context.Context, inv *invocation) error
}

// commandTable maps each command name and alias to its command
func (b *Bot) commandTable() map[string]*command {
	cmds := []*command{
		{name: "daily", handler: b.cmdDaily},
		{name: "balance", aliases: []string{"bal"}, handler: b.cmdBalance},
		{name: "give", guildOnly: true, handler: b.cmdGive},
		{name: "toss", handler: b.cmdToss},
		{name: "blackjack", aliases: []string{"bj"}, handler: b.cmdBlackjack},
		{name: "hit", handler: b.cmdHit},
		{name: "stand", handler: b.cmdStand},
		{name: "leaderboard", guildOnly: true, handler: b.cmdLeaderboard},
		{name: "tulong", aliases: []string{"help"}, handler: b.cmdHelp},
		{name: "usap", handler: b.cmdChat},
		{name: "asklog", handler: b.cmdAskLog},
		{name: "clear", handler: b.cmdClearConversation},
		{name: "rules", guildOnly: true, handler: b.cmdRules},

		{name: "joinvc", aliases: []string{"join", "summon"}, guildOnly: true, handler: b.cmdJoinVoice},
		{name: "vc", aliases: []string{"speak", "sabihin", "tts"}, guildOnly: true, handler: b.cmdSpeak},
		{name: "listen", guildOnly: true, handler: b.cmdListen},
		{name: "stoplisten", guildOnly: true, handler: b.cmdStopListening},
		{name: "leave", aliases: []string{"disconnect", "dc", "bye"}, guildOnly: true, handler: b.cmdLeave},
		{name: "autotts", guildOnly: true, handler: b.cmdAutoTTS},
		{name: "ask", guildOnly: true, handler: b.cmdAsk},
		{name: "change", handler: b.cmdChangeVoice},

		{name: "admin", admin: true, handler: b.cmdAdminHelp},
		{name: "commandslist", admin: true, handler: b.cmdCommandsList},
		{name: "sagad", admin: true, handler: b.cmdAddCoins},
		{name: "bawas", admin: true, handler: b.cmdDeductCoins},
		{name: "announcement", admin: true, handler: b.cmdAnnouncement},
		{name: "goodmorning", admin: true, handler: b.cmdGreeting(GreetingMorning)},
		{name: "goodnight", admin: true, handler: b.cmdGreeting(GreetingNight)},
		{name: "g", admin: true, handler: b.cmdGhostMessage},
		{name: "clear_messages", admin: true, handler: b.cmdClearMessages},
		{name: "maintenance", admin: true, handler: b.cmdMaintenance},
		{name: "status", admin: true, handler: b.cmdStatus},
		{name: "set_words", admin: true, unmoderated: true, handler: b.cmdSetWords},
		{name: "roles", admin: true, handler: b.cmdRoles},
		{name: "setupnn", admin: true, handler: b.cmdSetupNicknames},
	}

	table := make(map[string]*command, len(cmds)*2)
	for _, c := range cmds {
		if c.admin {
			c.guildOnly = true
		}
		table[c.name] = c
		for _, alias := range c.aliases {
			table[alias] = c
		}
	}
	return table
}

// parseCommand splits a prefixed message into the command name,
// arguments and argument text. ok is false if the message doesn't
// start with the prefix.
func parseCommand(prefix, content string) (name string, args []string, text string, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || len(content) <= len(prefix) || !strings.EqualFold(content[:len(prefix)], prefix) {
		return "", nil, "", false
	}
	content = content[len(prefix):]
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return "", nil, "", false
	}
	name = strings.ToLower(fields[0])
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimLeft(content, " \t\n"), fields[0]))
	return name, fields[1:], text, true
}

// handleMessage moderates and responds to a message: running commands,
// answering mentions, and reading aloud messages in auto-TTS channels.
func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	logger := b.logger.With(slog.Group("message", messageLogAttrs(m)...))
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			logRecover(ctx, logger, rc)
			b.discord.reply(ctx, m, replyCommandError)
		}
	}()

	if b.store != nil {
		if _, err := b.store.TouchUser(ctx, m.Author); err != nil {
			logger.WarnContext(ctx, "error updating user", tint.Err(err))
		}
	}

	name, args, text, isCommand := parseCommand(b.config.Discord.CommandPrefix, m.Content)
	cmd, found := b.commands[name]
	if b.moderator != nil && !(isCommand && found && cmd.unmoderated && b.authorIsAdmin(m)) {
		if b.moderator.Check(ctx, m) {
			return
		}
	}

	if isCommand {
		if found {
			b.runCommand(ctx, cmd, &invocation{msg: m, name: name, args: args, text: text})
		}
		return
	}
	if b.mentionsBot(m) {
		b.respondToMention(ctx, m)
		return
	}
	b.autoTTS(ctx, m)
}

// authorMember returns the guild member who sent the message, or nil
// for direct messages
func (b *Bot) authorMember(m *discordgo.Message) *discordgo.Member {
	if m.GuildID == "" {
		return nil
	}
	if m.Member != nil {
		return m.Member
	}
	if member, err := b.discord.member(m.GuildID, m.Author.ID); err == nil {
		return member
	}
	return nil
}

func (b *Bot) authorIsAdmin(m *discordgo.Message) bool {
	return b.discord.isAdmin(b.authorMember(m))
}

func (b *Bot) runCommand(ctx context.Context, cmd *command, inv *invocation) {
	logger := contextLoggerOrDefault(ctx, b.logger).With("command", cmd.name)
	ctx = WithLogger(ctx, logger)

	inv.member = b.authorMember(inv.msg)
	inv.admin = b.discord.isAdmin(inv.member)

	switch {
	case cmd.guildOnly && inv.msg.GuildID == "":
		b.discord.reply(ctx, inv.msg, replyGuildOnly)
		return
	case cmd.admin && !inv.admin:
		logger.WarnContext(ctx, "admin command denied")
		b.discord.reply(ctx, inv.msg, replyAccessDenied)
		return
	case b.Maintenance() && !inv.admin:
		b.discord.reply(ctx, inv.msg, replyMaintenance)
		return
	}

	logger.InfoContext(ctx, "running command", "args", inv.args)
	err := cmd.handler(ctx, inv)
	if b.status != nil {
		b.status.RecordCommand(cmd.name, err != nil)
	}
	if err != nil {
		logger.ErrorContext(ctx, "error running command", tint.Err(err))
		b.discord.reply(ctx, inv.msg, replyCommandError)
	}
}

func (b *Bot) mentionsBot(m *discordgo.Message) bool {
	botID := b.discord.BotUserID()
	if botID == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			return true
		}
	}
	return false
}

// respondToMention answers a message mentioning the bot, with the
// mentions removed from the prompt
func (b *Bot) respondToMention(ctx context.Context, m *discordgo.Message) {
	botID := b.discord.BotUserID()
	prompt := strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(m.Content)
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		b.discord.reply(ctx, m, replyMentionEmpty)
		return
	}
	b.discord.reply(ctx, m, b.chat(ctx, m.ChannelID, m.Author.ID, prompt))
}

// autoTTS speaks the message in the guild's voice channel when the
// channel has auto-TTS enabled and the author is in voice with the bot
func (b *Bot) autoTTS(ctx context.Context, m *discordgo.Message) {
	if b.voice == nil || m.GuildID == "" || strings.TrimSpace(m.Content) == "" {
		return
	}
	enabled, err := b.store.IsAutoTTSChannel(ctx, m.GuildID, m.ChannelID)
	if err != nil || !enabled {
		return
	}
	if _, err = b.voice.UserVoiceChannel(m.GuildID, m.Author.ID); err != nil {
		return
	}
	if b.voice.Session(m.GuildID) == nil {
		return
	}
	text := fmt.Sprintf("%s says: %s", displayName(m.Author, m.Member), m.Content)
	if err = b.voice.Speak(m.GuildID, truncate(text, autoTTSMaxLength), m.Author.ID); err != nil {
		contextLoggerOrDefault(ctx, b.logger).WarnContext(ctx, "error speaking auto-tts message", tint.Err(err))
	}
}

// chat returns the AI's reply to the prompt, or a canned reply if the
// AI is unavailable
func (b *Bot) chat(ctx context.Context, channelID, userID, prompt string) string {
	reply, err := b.ai.Chat(ctx, channelID, userID, prompt)
	switch {
	case errors.Is(err, ErrChatRateLimited):
		return aiRateLimitedReply
	case err != nil:
		return aiErrorReply
	}
	return reply
}

// economyErrorReply returns the reply for an economy or game error
// that's the user's doing
func (b *Bot) economyErrorReply(err error, balance int64) (string, bool) {
	prefix := b.config.Discord.CommandPrefix
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return fmt.Sprintf("❌ **KULANG ANG PERA MO!** Balance mo: **%s**", formatCoins(balance)), true
	case errors.Is(err, ErrInvalidAmount):
		return "❌ **INVALID AMOUNT!** Dapat mas malaki sa zero.", true
	case errors.Is(err, ErrSelfTransfer):
		return "❌ **HUWAG KANG MAG-BIGAY SA SARILI MO!**", true
	case errors.Is(err, ErrGameInProgress):
		return fmt.Sprintf(
			"❌ May blackjack game ka pa! Tapusin mo muna gamit ang `%shit` o `%sstand`.",
			prefix, prefix,
		), true
	case errors.Is(err, ErrNoActiveGame):
		return fmt.Sprintf(
			"❌ Wala kang blackjack game. Mag-start ka gamit ang `%sblackjack <bet>`.",
			prefix,
		), true
	}
	return "", false
}

func (b *Bot) usage(inv *invocation, usage string) string {
	return fmt.Sprintf("**Usage:** `%s%s %s`", b.config.Discord.CommandPrefix, inv.name, usage)
}

func (b *Bot) sendEmbeds(ctx context.Context, channelID string, embeds ...*discordgo.MessageEmbed) error {
	for _, chunk := range chunkItems(10, embeds...) {
		_, err := b.discord.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Embeds: chunk})
		if err != nil {
			return fmt.Errorf("error sending embeds: %w", err)
		}
	}
	return nil
}

func (b *Bot) cmdDaily(ctx context.Context, inv *invocation) error {
	balance, err := b.economy.ClaimDaily(ctx, inv.userID())
	var cooldown *CooldownError
	switch {
	case errors.As(err, &cooldown):
		b.discord.reply(
			ctx,
			inv.msg,
			fmt.Sprintf(
				"**HOY <@%s>! KAKA-CLAIM MO LANG!** ⏰ REMAINING TIME: **%s**",
				inv.userID(),
				formatRemaining(cooldown.Remaining),
			),
		)
		return nil
	case err != nil:
		return err
	}
	b.discord.reply(
		ctx,
		inv.msg,
		fmt.Sprintf(
			"🎉 **DAILY REWARD CLAIMED!** +**%s**\nNew balance: **%s**",
			formatCoins(b.config.Economy.DailyReward),
			formatCoins(balance),
		),
	)
	return nil
}

func (b *Bot) cmdBalance(ctx context.Context, inv *invocation) error {
	userID := inv.userID()
	if len(inv.args) > 0 {
		id, ok := parseSnowflake(inv.args[0])
		if !ok {
			b.discord.reply(ctx, inv.msg, b.usage(inv, "[@user]"))
			return nil
		}
		userID = id
	}
	balance, err := b.economy.Balance(ctx, userID)
	if err != nil {
		return err
	}
	return b.discord.sendEmbed(ctx, inv.msg.ChannelID, balanceEmbed(userID, balance))
}

func (b *Bot) cmdGive(ctx context.Context, inv *invocation) error {
	if len(inv.args) < 2 {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<@user> <amount>"))
		return nil
	}
	toUserID, ok := parseSnowflake(inv.args[0])
	amount, err := parseAmount(inv.args[1])
	if !ok || err != nil {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<@user> <amount>"))
		return nil
	}
	for _, u := range inv.msg.Mentions {
		if u != nil && u.ID == toUserID && u.Bot {
			b.discord.reply(ctx, inv.msg, "❌ Hindi pwedeng bigyan ng pera ang bot.")
			return nil
		}
	}

	balance, err := b.economy.Give(ctx, inv.userID(), toUserID, amount)
	if reply, isUserError := b.economyErrorReply(err, balance); isUserError {
		b.discord.reply(ctx, inv.msg, reply)
		return nil
	} else if err != nil {
		return err
	}
	b.discord.reply(
		ctx,
		inv.msg,
		fmt.Sprintf(
			"💸 **NAGBIGAY KA NG %s KAY <@%s>!**\nNatitirang pera mo: **%s**",
			formatCoins(amount),
			toUserID,
			formatCoins(balance),
		),
	)
	return nil
}

func (b *Bot) cmdToss(ctx context.Context, inv *invocation) error {
	if len(inv.args) < 1 {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<h/t> [bet]"))
		return nil
	}
	guess, ok := ParseCoinSide(strings.ToLower(inv.args[0]))
	if !ok {
		b.discord.reply(ctx, inv.msg, "❌ **INVALID CHOICE!** `h` (heads) o `t` (tails) lang.")
		return nil
	}
	var bet int64
	if len(inv.args) > 1 {
		var err error
		if bet, err = parseAmount(inv.args[1]); err != nil || bet < 0 {
			b.discord.reply(ctx, inv.msg, b.usage(inv, "<h/t> [bet]"))
			return nil
		}
	}

	result, err := b.economy.Toss(ctx, inv.userID(), guess, bet)
	if reply, isUserError := b.economyErrorReply(err, result.Balance); isUserError {
		b.discord.reply(ctx, inv.msg, reply)
		return nil
	} else if err != nil {
		return err
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "🪙 Lumabas ang **%s**!\n", strings.ToUpper(result.Result.String()))
	switch {
	case bet == 0 && result.Won:
		sb.WriteString("🎉 **TAMA KA!**")
	case bet == 0:
		sb.WriteString("😢 **MALI KA!**")
	case result.Won:
		_, _ = fmt.Fprintf(&sb, "🎉 **PANALO KA!** +%s\n", formatCoins(bet))
		_, _ = fmt.Fprintf(&sb, "New balance: **%s**", formatCoins(result.Balance))
	default:
		_, _ = fmt.Fprintf(&sb, "😢 **TALO KA!** -%s\n", formatCoins(bet))
		_, _ = fmt.Fprintf(&sb, "New balance: **%s**", formatCoins(result.Balance))
	}
	b.discord.reply(ctx, inv.msg, sb.String())
	return nil
}

// blackjackMessage describes the game. While the game is in progress,
// only the dealer's first card is shown.
func (b *Bot) blackjackMessage(result BlackjackResult) string {
	game := result.Game
	prefix := b.config.Discord.CommandPrefix

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "🃏 **BLACKJACK** (Bet: **%s**)\n", formatCoins(game.Bet))
	_, _ = fmt.Fprintf(&sb, "**Your hand:** %s (**%d**)\n", formatHand(game.PlayerHand), game.PlayerValue())
	if !result.Finished() {
		dealer := "🃏"
		if len(game.DealerHand) > 0 {
			dealer = fmt.Sprintf("%d, 🃏", game.DealerHand[0])
		}
		_, _ = fmt.Fprintf(&sb, "**Dealer:** %s\n\n", dealer)
		_, _ = fmt.Fprintf(&sb, "Type `%shit` para bumunot o `%sstand` para tumigil.", prefix, prefix)
		return sb.String()
	}

	_, _ = fmt.Fprintf(&sb, "**Dealer:** %s (**%d**)\n\n", formatHand(game.DealerHand), game.DealerValue())
	switch result.Outcome {
	case BlackjackOutcomePlayerBust:
		_, _ = fmt.Fprintf(&sb, "💥 **BUST!** Lampas 21 ka. Talo ka ng %s.", formatCoins(game.Bet))
	case BlackjackOutcomeDealerBust:
		_, _ = fmt.Fprintf(&sb, "🎉 **DEALER BUST!** Panalo ka ng %s!", formatCoins(result.Payout))
	case BlackjackOutcomeWin:
		_, _ = fmt.Fprintf(&sb, "🎉 **PANALO KA!** Nakuha mo ang %s!", formatCoins(result.Payout))
	case BlackjackOutcomePush:
		_, _ = fmt.Fprintf(&sb, "🤝 **PUSH!** Tabla, ibinalik ang %s mo.", formatCoins(result.Payout))
	default:
		sb.WriteString("😢 **TALO KA!** Mas malapit sa 21 ang dealer.")
	}
	_, _ = fmt.Fprintf(&sb, "\nBalance: **%s**", formatCoins(result.Balance))
	return sb.String()
}

func (b *Bot) cmdBlackjack(ctx context.Context, inv *invocation) error {
	if len(inv.args) < 1 {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<bet>"))
		return nil
	}
	bet, err := parseAmount(inv.args[0])
	if err != nil {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<bet>"))
		return nil
	}
	result, err := b.blackjack.Start(ctx, inv.userID(), bet)
	return b.replyBlackjack(ctx, inv, result, err)
}

func (b *Bot) cmdHit(ctx context.Context, inv *invocation) error {
	result, err := b.blackjack.Hit(ctx, inv.userID())
	return b.replyBlackjack(ctx, inv, result, err)
}

func (b *Bot) cmdStand(ctx context.Context, inv *invocation) error {
	result, err := b.blackjack.Stand(ctx, inv.userID())
	return b.replyBlackjack(ctx, inv, result, err)
}

func (b *Bot) replyBlackjack(ctx context.Context, inv *invocation, result BlackjackResult, err error) error {
	if reply, isUserError := b.economyErrorReply(err, result.Balance); isUserError {
		b.discord.reply(ctx, inv.msg, reply)
		return nil
	} else if err != nil {
		return err
	}
	b.discord.reply(ctx, inv.msg, b.blackjackMessage(result))
	return nil
}

func (b *Bot) cmdLeaderboard(ctx context.Context, inv *invocation) error {
	users, err := b.economy.Leaderboard(ctx, b.config.Economy.LeaderboardSize)
	if err != nil {
		return err
	}
	entries := b.leaderboardEntries(ctx, inv.msg.GuildID, users)
	return b.discord.sendEmbed(ctx, inv.msg.ChannelID, leaderboardEmbed(entries))
}

// leaderboardEntries resolves display names for the leaderboard,
// preferring the member's server nickname over the stored name
func (b *Bot) leaderboardEntries(ctx context.Context, guildID string, users []User) []leaderboardEntry {
	entries := make([]leaderboardEntry, len(users))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for i, u := range users {
		entries[i] = leaderboardEntry{Name: "Unknown User", Balance: u.Balance}
		g.Go(
			func() error {
				if member, err := b.discord.member(guildID, u.ID); err == nil && member != nil {
					entries[i].Name = displayName(member.User, member)
					return nil
				}
				switch {
				case u.GlobalName != "":
					entries[i].Name = u.GlobalName
				case u.Username != "":
					entries[i].Name = u.Username
				}
				return nil
			},
		)
	}
	_ = g.Wait()
	return entries
}

func (b *Bot) cmdHelp(ctx context.Context, inv *invocation) error {
	return b.sendEmbeds(ctx, inv.msg.ChannelID, helpEmbeds(b.config.Discord.CommandPrefix, userHelpSections)...)
}

func (b *Bot) cmdAdminHelp(ctx context.Context, inv *invocation) error {
	return b.sendEmbeds(ctx, inv.msg.ChannelID, helpEmbeds(b.config.Discord.CommandPrefix, adminHelpSections)...)
}

func (b *Bot) cmdCommandsList(ctx context.Context, inv *invocation) error {
	sections := append(append([]commandHelpSection{}, userHelpSections...), adminHelpSections...)
	return b.sendEmbeds(ctx, inv.msg.ChannelID, helpEmbeds(b.config.Discord.CommandPrefix, sections)...)
}

func (b *Bot) cmdChat(ctx context.Context, inv *invocation) error {
	if inv.text == "" {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<message>"))
		return nil
	}
	b.discord.reply(ctx, inv.msg, b.chat(ctx, inv.msg.ChannelID, inv.userID(), inv.text))
	return nil
}

// cmdAskLog answers like usap, and posts a copy of the exchange to the
// log channel
func (b *Bot) cmdAskLog(ctx context.Context, inv *invocation) error {
	if inv.text == "" {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<message>"))
		return nil
	}
	reply := b.chat(ctx, inv.msg.ChannelID, inv.userID(), inv.text)
	b.discord.reply(ctx, inv.msg, reply)

	logChannelID := b.config.Discord.LogChannelID
	if logChannelID == "" {
		return nil
	}
	embed := &discordgo.MessageEmbed{
		Title: "📝 AI Chat Log",
		Color: embedColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: fmt.Sprintf("<@%s> (%s)", inv.userID(), inv.authorName()), Inline: true},
			{Name: "Channel", Value: fmt.Sprintf("<#%s>", inv.msg.ChannelID), Inline: true},
			{Name: "Prompt", Value: truncate(inv.text, 1024)},
			{Name: "Reply", Value: shortenString(reply, 1024)},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
	_ = b.discord.sendEmbed(ctx, logChannelID, embed)
	return nil
}

func (b *Bot) cmdClearConversation(ctx context.Context, inv *invocation) error {
	if err := b.conversations.Clear(ctx, inv.msg.ChannelID); err != nil {
		return err
	}
	return b.discord.sendEmbed(ctx, inv.msg.ChannelID, conversationClearedEmbed())
}

func (b *Bot) cmdRules(ctx context.Context, inv *invocation) error {
	return b.discord.sendEmbed(
		ctx,
		inv.msg.ChannelID,
		rulesEmbed(inv.msg.GuildID, b.config.Discord.RulesChannelID),
	)
}

// voiceReply returns the reply for a voice error, if it's one the user
// can act on
func (b *Bot) voiceReply(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrVoiceDisabled):
		return replyVoiceDisabled, true
	case errors.Is(err, ErrNotInVoice):
		return replyNotInVoice, true
	case errors.Is(err, ErrNotConnected):
		return fmt.Sprintf(replyBotNotInVoice, b.config.Discord.CommandPrefix), true
	case errors.Is(err, ErrListenerBusy):
		return "❌ **MAY KAUSAP PA AKO!** Hintayin mo munang matapos, o gamitin ang `stoplisten`.", true
	}
	return "", false
}

// joinAuthorVoice joins the author's voice channel, unless the bot is
// already connected in the guild
func (b *Bot) joinAuthorVoice(ctx context.Context, inv *invocation, move bool) (*GuildVoiceSession, error) {
	if b.voice == nil {
		return nil, ErrVoiceDisabled
	}
	if sess := b.voice.Session(inv.msg.GuildID); sess != nil && !move {
		return sess, nil
	}
	channelID, err := b.voice.UserVoiceChannel(inv.msg.GuildID, inv.userID())
	if err != nil {
		return nil, err
	}
	return b.voice.Join(ctx, inv.msg.GuildID, channelID)
}

// replyVoiceResult replies with the user-facing message for err, or
// success if err is nil. Unexpected errors are returned.
func (b *Bot) replyVoiceResult(ctx context.Context, inv *invocation, err error, success string) error {
	if reply, isUserError := b.voiceReply(err); isUserError {
		b.discord.reply(ctx, inv.msg, reply)
		return nil
	} else if err != nil {
		return err
	}
	if success != "" {
		b.discord.reply(ctx, inv.msg, success)
	}
	return nil
}

func (b *Bot) cmdJoinVoice(ctx context.Context, inv *invocation) error {
	_, err := b.joinAuthorVoice(ctx, inv, true)
	return b.replyVoiceResult(ctx, inv, err, "🔊 **NANDITO NA AKO!** Tara usap tayo.")
}

func (b *Bot) cmdSpeak(ctx context.Context, inv *invocation) error {
	if inv.text == "" {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<message>"))
		return nil
	}
	_, err := b.joinAuthorVoice(ctx, inv, false)
	if err == nil {
		err = b.voice.Speak(inv.msg.GuildID, inv.text, inv.userID())
	}
	if err == nil {
		if reactErr := b.discord.session.MessageReactionAdd(inv.msg.ChannelID, inv.msg.ID, "🔊"); reactErr != nil {
			contextLoggerOrDefault(ctx, b.logger).DebugContext(ctx, "unable to add reaction", tint.Err(reactErr))
		}
	}
	return b.replyVoiceResult(ctx, inv, err, "")
}

func (b *Bot) cmdListen(ctx context.Context, inv *invocation) error {
	_, err := b.joinAuthorVoice(ctx, inv, false)
	if err == nil {
		err = b.voice.StartListening(inv.msg.GuildID, inv.userID(), inv.msg.ChannelID)
	}
	return b.replyVoiceResult(
		ctx,
		inv,
		err,
		fmt.Sprintf(
			"👂 **NAKIKINIG NA AKO, <@%s>!** Magsalita ka lang. Sabihin mo ang \"stop\" para tumigil.",
			inv.userID(),
		),
	)
}

func (b *Bot) cmdStopListening(ctx context.Context, inv *invocation) error {
	err := ErrVoiceDisabled
	if b.voice != nil {
		err = b.voice.StopListening(inv.msg.GuildID)
	}
	return b.replyVoiceResult(ctx, inv, err, "🔇 **TUMIGIL NA AKONG MAKINIG.**")
}

func (b *Bot) cmdLeave(ctx context.Context, inv *invocation) error {
	err := ErrVoiceDisabled
	if b.voice != nil {
		err = b.voice.Leave(ctx, inv.msg.GuildID)
	}
	return b.replyVoiceResult(ctx, inv, err, "👋 **AALIS NA AKO!** Paalam!")
}

func (b *Bot) cmdAutoTTS(ctx context.Context, inv *invocation) error {
	if b.voice == nil {
		b.discord.reply(ctx, inv.msg, replyVoiceDisabled)
		return nil
	}
	enabled, err := b.store.ToggleAutoTTSChannel(ctx, inv.msg.GuildID, inv.msg.ChannelID)
	if err != nil {
		return err
	}
	if enabled {
		b.discord.reply(
			ctx,
			inv.msg,
			"🔊 **AUTO-TTS ON!** Babasahin ko nang malakas ang mga message dito habang nasa voice ka.",
		)
		return nil
	}
	b.discord.reply(ctx, inv.msg, "🔇 **AUTO-TTS OFF!**")
	return nil
}

// cmdAsk answers the prompt in text, and aloud in the author's voice
// channel
func (b *Bot) cmdAsk(ctx context.Context, inv *invocation) error {
	if inv.text == "" {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<message>"))
		return nil
	}
	if _, err := b.joinAuthorVoice(ctx, inv, false); err != nil {
		return b.replyVoiceResult(ctx, inv, err, "")
	}
	reply := b.chat(ctx, inv.msg.ChannelID, inv.userID(), inv.text)
	b.discord.reply(ctx, inv.msg, reply)
	return b.replyVoiceResult(ctx, inv, b.voice.Speak(inv.msg.GuildID, reply, inv.userID()), "")
}

func (b *Bot) cmdChangeVoice(ctx context.Context, inv *invocation) error {
	if len(inv.args) < 1 {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<m/f>"))
		return nil
	}
	gender, ok := ParseVoiceGender(strings.ToLower(inv.args[0]))
	if !ok {
		b.discord.reply(ctx, inv.msg, "❌ `m` (male) o `f` (female) lang.")
		return nil
	}
	if err := b.store.SetVoiceGender(ctx, inv.userID(), gender); err != nil {
		return err
	}
	name := "FEMALE"
	if gender == VoiceGenderMale {
		name = "MALE"
	}
	b.discord.reply(ctx, inv.msg, fmt.Sprintf("🗣️ **VOICE CHANGED TO %s!**", name))
	if b.voice != nil && inv.msg.GuildID != "" && b.voice.Session(inv.msg.GuildID) != nil {
		_ = b.voice.Speak(inv.msg.GuildID, "Ito na ang bagong boses ko!", inv.userID())
	}
	return nil
}

// adminTarget parses the `<@user> <amount>` arguments of admin coin
// commands
func (b *Bot) adminTarget(ctx context.Context, inv *invocation) (string, int64, bool) {
	if len(inv.args) >= 2 {
		userID, ok := parseSnowflake(inv.args[0])
		amount, err := parseAmount(inv.args[1])
		if ok && err == nil && amount > 0 {
			return userID, amount, true
		}
	}
	b.discord.reply(ctx, inv.msg, b.usage(inv, "<@user> <amount>"))
	return "", 0, false
}

func (b *Bot) cmdAddCoins(ctx context.Context, inv *invocation) error {
	userID, amount, ok := b.adminTarget(ctx, inv)
	if !ok {
		return nil
	}
	balance, err := b.economy.Add(ctx, userID, amount)
	if err != nil {
		return err
	}
	contextLoggerOrDefault(ctx, b.logger).WarnContext(ctx, "admin added coins", "user_id", userID, "amount", amount)
	b.discord.reply(
		ctx,
		inv.msg,
		fmt.Sprintf(
			"💰 **SAGAD!** Binigyan si <@%s> ng **%s**.\nNew balance: **%s**",
			userID,
			formatCoins(amount),
			formatCoins(balance),
		),
	)
	return nil
}

// cmdDeductCoins takes coins from a user. Taking more than their
// balance empties it.
func (b *Bot) cmdDeductCoins(ctx context.Context, inv *invocation) error {
	userID, amount, ok := b.adminTarget(ctx, inv)
	if !ok {
		return nil
	}
	current, err := b.economy.Balance(ctx, userID)
	if err != nil {
		return err
	}
	amount = min(amount, current)
	balance := current
	if amount > 0 {
		if balance, err = b.economy.Deduct(ctx, userID, amount); err != nil {
			return err
		}
	}
	contextLoggerOrDefault(ctx, b.logger).WarnContext(ctx, "admin deducted coins", "user_id", userID, "amount", amount)
	b.discord.reply(
		ctx,
		inv.msg,
		fmt.Sprintf(
			"💸 **BAWAS!** Binawasan si <@%s> ng **%s**.\nNew balance: **%s**",
			userID,
			formatCoins(amount),
			formatCoins(balance),
		),
	)
	return nil
}

func (b *Bot) cmdAnnouncement(ctx context.Context, inv *invocation) error {
	if inv.text == "" {
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<message>"))
		return nil
	}
	if err := b.discord.session.ChannelMessageDelete(inv.msg.ChannelID, inv.msg.ID); err != nil {
		contextLoggerOrDefault(ctx, b.logger).WarnContext(ctx, "unable to delete command message", tint.Err(err))
	}
	return b.discord.sendEmbed(
		ctx,
		inv.msg.ChannelID,
		announcementEmbed(inv.text, inv.authorName(), b.config.Discord.AnnouncementsChannelID),
	)
}

func (b *Bot) cmdGreeting(kind GreetingKind) func(ctx context.Context, inv *invocation) error {
	return func(ctx context.Context, inv *invocation) error {
		err := b.greeter.Send(ctx, kind)
		switch {
		case errors.Is(err, ErrNoOnlineMembers):
			b.discord.reply(ctx, inv.msg, "**WALANG ONLINE!** Walang imemention.")
			return nil
		case err != nil:
			return err
		}
		b.discord.reply(ctx, inv.msg, fmt.Sprintf("✅ Naipadala na ang %s greeting!", kind))
		return nil
	}
}

// cmdGhostMessage sends a message to a channel as the bot. The command
// message is deleted, and the admin is sent a confirmation by DM.
func (b *Bot) cmdGhostMessage(ctx context.Context, inv *invocation) error {
	logger := contextLoggerOrDefault(ctx, b.logger)
	if err := b.discord.session.ChannelMessageDelete(inv.msg.ChannelID, inv.msg.ID); err != nil {
		logger.WarnContext(ctx, "unable to delete command message", tint.Err(err))
	}
	var channelID string
	var ok bool
	if len(inv.args) >= 2 {
		channelID, ok = parseSnowflake(inv.args[0])
	}
	if !ok {
		_ = b.discord.sendDM(ctx, inv.userID(), b.usage(inv, "<channel_id> <message>"), nil)
		return nil
	}
	content := strings.TrimSpace(strings.TrimPrefix(inv.text, inv.args[0]))

	for _, chunk := range splitMessage(content, discordMaxMessageLength) {
		if _, err := b.discord.session.ChannelMessageSend(channelID, chunk); err != nil {
			logger.WarnContext(ctx, "unable to send message", "channel_id", channelID, tint.Err(err))
			_ = b.discord.sendDM(ctx, inv.userID(), fmt.Sprintf("❌ Hindi maipadala sa <#%s>: %s", channelID, err), nil)
			return nil
		}
	}
	_ = b.discord.sendDM(
		ctx,
		inv.userID(),
		fmt.Sprintf("✅ Naipadala ang message sa <#%s>:\n>>> %s", channelID, truncate(content, 1500)),
		nil,
	)
	return nil
}

// cmdClearMessages deletes the bot's own messages among the most recent
// messages in a channel
func (b *Bot) cmdClearMessages(ctx context.Context, inv *invocation) error {
	channelID := inv.msg.ChannelID
	if len(inv.args) > 0 {
		id, ok := parseSnowflake(inv.args[0])
		if !ok {
			b.discord.reply(ctx, inv.msg, b.usage(inv, "[channel_id]"))
			return nil
		}
		channelID = id
	}

	deleted, err := b.clearBotMessages(ctx, channelID)
	if err != nil {
		return err
	}
	b.discord.reply(
		ctx,
		inv.msg,
		fmt.Sprintf("🧹 **NABURA ANG %d MESSAGES KO** sa <#%s>.", deleted, channelID),
	)
	return nil
}

func (b *Bot) clearBotMessages(ctx context.Context, channelID string) (int, error) {
	botID := b.discord.BotUserID()
	logger := contextLoggerOrDefault(ctx, b.logger)

	var deleted int
	before := ""
	for checked := 0; checked < clearMessagesLimit; {
		limit := min(clearMessagesPageSize, clearMessagesLimit-checked)
		page, err := b.discord.session.ChannelMessages(channelID, limit, before, "", "")
		if err != nil {
			return deleted, fmt.Errorf("error listing messages: %w", err)
		}
		if len(page) == 0 {
			break
		}
		checked += len(page)
		before = page[len(page)-1].ID

		for _, msg := range page {
			if msg.Author == nil || msg.Author.ID != botID {
				continue
			}
			if err = b.discord.session.ChannelMessageDelete(channelID, msg.ID); err != nil {
				logger.WarnContext(ctx, "unable to delete message", "message_id", msg.ID, tint.Err(err))
				continue
			}
			deleted++
			if err = b.discord.sleep(ctx, clearMessagesDelay); err != nil {
				return deleted, err
			}
		}
		if len(page) < limit {
			break
		}
	}
	return deleted, nil
}

func (b *Bot) cmdMaintenance(ctx context.Context, inv *invocation) error {
	action := "status"
	if len(inv.args) > 0 {
		action = strings.ToLower(inv.args[0])
	}

	var enabled bool
	switch action {
	case "on", "enable":
		enabled = true
	case "off", "disable":
		enabled = false
	case "toggle":
		enabled = !b.Maintenance()
	case "status":
		state := "OFF ✅"
		if b.Maintenance() {
			state = "ON 🛠️"
		}
		b.discord.reply(ctx, inv.msg, fmt.Sprintf("🛠️ **MAINTENANCE MODE:** %s", state))
		return nil
	default:
		b.discord.reply(ctx, inv.msg, b.usage(inv, "<on|off|toggle|status>"))
		return nil
	}

	changed, err := b.SetMaintenance(ctx, enabled)
	if err != nil {
		return err
	}
	switch {
	case !changed && enabled:
		b.discord.reply(ctx, inv.msg, "🛠️ Naka-maintenance mode na ang bot.")
	case !changed:
		b.discord.reply(ctx, inv.msg, "✅ Hindi naka-maintenance mode ang bot.")
	case enabled:
		b.discord.reply(ctx, inv.msg, "🛠️ **MAINTENANCE MODE ON!** Admins lang muna ang pwedeng gumamit ng bot.")
	default:
		b.discord.reply(ctx, inv.msg, "✅ **MAINTENANCE MODE OFF!** Balik na sa normal ang bot.")
	}
	return nil
}

func (b *Bot) cmdStatus(ctx context.Context, inv *invocation) error {
	if inv.text == "" {
		current := b.RuntimeConfig().CustomStatus
		if current == "" {
			current = "(none)"
		}
		b.discord.reply(ctx, inv.msg, fmt.Sprintf("📝 **CURRENT STATUS:** %s", current))
		return nil
	}
	if err := b.SetCustomStatus(ctx, inv.text); err != nil {
		return err
	}
	b.discord.reply(ctx, inv.msg, fmt.Sprintf("✅ **STATUS UPDATED:** %s", inv.text))
	return nil
}

func (b *Bot) cmdSetWords(ctx context.Context, inv *invocation) error {
	usage := b.usage(inv, "<list|add|remove> [word] [mute|disconnect|both]")
	action := "list"
	if len(inv.args) > 0 {
		action = strings.ToLower(inv.args[0])
	}

	switch action {
	case "list":
		byAction := map[ModerationAction][]string{}
		words := b.settings.BannedWords()
		for _, word := range sortedKeys(words) {
			byAction[words[word]] = append(byAction[words[word]], word)
		}
		return b.discord.sendEmbed(ctx, inv.msg.ChannelID, bannedWordsEmbed(byAction))
	case "add":
		if len(inv.args) < 3 {
			b.discord.reply(ctx, inv.msg, usage)
			return nil
		}
		modAction, err := ParseModerationAction(inv.args[2])
		if err != nil {
			b.discord.reply(ctx, inv.msg, "❌ "+err.Error())
			return nil
		}
		if err = b.settings.SetWordAction(ctx, inv.args[1], modAction); err != nil {
			return err
		}
		b.discord.reply(
			ctx,
			inv.msg,
			fmt.Sprintf("✅ Na-add ang `%s` (%s).", strings.ToLower(inv.args[1]), modAction),
		)
	case "remove":
		if len(inv.args) < 2 {
			b.discord.reply(ctx, inv.msg, usage)
			return nil
		}
		word := strings.ToLower(inv.args[1])
		if _, ok := b.settings.WordAction(word); !ok {
			b.discord.reply(ctx, inv.msg, fmt.Sprintf("❌ Wala ang `%s` sa listahan.", word))
			return nil
		}
		if err := b.settings.RemoveWord(ctx, word); err != nil {
			return err
		}
		b.discord.reply(ctx, inv.msg, fmt.Sprintf("✅ Tinanggal ang `%s`.", word))
	default:
		b.discord.reply(ctx, inv.msg, usage)
	}
	return nil
}

func (b *Bot) cmdRoles(ctx context.Context, inv *invocation) error {
	usage := b.usage(inv, "[view] | set <role> <emoji> | remove <role>")
	action := "view"
	if len(inv.args) > 0 {
		action = strings.ToLower(inv.args[0])
	}

	switch action {
	case "view", "list":
		return b.discord.sendEmbed(ctx, inv.msg.ChannelID, roleSuffixesEmbed(b.settings.RoleSuffixes()))
	case "set":
		if len(inv.args) < 3 {
			b.discord.reply(ctx, inv.msg, usage)
			return nil
		}
		roleID, ok := parseSnowflake(inv.args[1])
		if !ok {
			b.discord.reply(ctx, inv.msg, usage)
			return nil
		}
		if err := b.settings.SetRoleSuffix(ctx, roleID, inv.args[2]); err != nil {
			if errors.Is(err, ErrRoleSuffixTooLong) {
				b.discord.reply(ctx, inv.msg, "❌ "+err.Error())
				return nil
			}
			return err
		}
		b.discord.reply(ctx, inv.msg, fmt.Sprintf("✅ <@&%s> → %s", roleID, inv.args[2]))
		b.reapplyNicknames(ctx, inv.msg.GuildID)
	case "remove":
		if len(inv.args) < 2 {
			b.discord.reply(ctx, inv.msg, usage)
			return nil
		}
		roleID, ok := parseSnowflake(inv.args[1])
		if !ok {
			b.discord.reply(ctx, inv.msg, usage)
			return nil
		}
		if err := b.settings.RemoveRoleSuffix(ctx, roleID); err != nil {
			return err
		}
		b.discord.reply(ctx, inv.msg, fmt.Sprintf("✅ Tinanggal ang emoji ng <@&%s>.", roleID))
		b.reapplyNicknames(ctx, inv.msg.GuildID)
	default:
		b.discord.reply(ctx, inv.msg, usage)
	}
	return nil
}

// reapplyNicknames formats the guild's nicknames after a role suffix
// change
func (b *Bot) reapplyNicknames(ctx context.Context, guildID string) {
	changed, err := b.nicknames.ScanGuild(ctx, guildID)
	logger := contextLoggerOrDefault(ctx, b.logger)
	if err != nil {
		logger.WarnContext(ctx, "errors formatting nicknames", tint.Err(err))
	}
	logger.InfoContext(ctx, "reapplied nicknames", "guild_id", guildID, "changed", changed)
}

func (b *Bot) cmdSetupNicknames(ctx context.Context, inv *invocation) error {
	changed, err := b.nicknames.ScanGuild(ctx, inv.msg.GuildID)
	if err != nil {
		contextLoggerOrDefault(ctx, b.logger).WarnContext(ctx, "errors formatting nicknames", tint.Err(err))
	}
	b.discord.reply(ctx, inv.msg, fmt.Sprintf("✅ **NA-FORMAT ANG %d NICKNAMES!**", changed))
	return nil
}
