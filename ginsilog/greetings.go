package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

const greetingDateLayout = "2006-01-02"

var ErrNoOnlineMembers = errors.New("no online members to greet")

// GreetingKind is either the morning or the night greeting
type GreetingKind string

const (
	GreetingMorning GreetingKind = "morning"
	GreetingNight   GreetingKind = "night"
)

var morningGreetings = []string{
	"**MAGANDANG UMAGA MGA KA-GINSILOG!** %s GISING NA KAYO! DALI DALI TRABAHO NA!",
	"**RISE AND SHINE!** %s BANGON NA, PRODUCTIVITY TIME!",
	"**GOOD MORNING SA INYONG LAHAT!** %s ISA NA NAMANG ARAW PARA MAG-HUSTLE!",
	"**HOY GISING NA!** %s TANGHALI NA! KAPE MUNA TAPOS TRABAHO NA!",
	"**AYAN! UMAGA NA!** %s BILISAN NIYO NA, SIBAT NA SA TRABAHO!",
}

var nightGreetings = []string{
	"**TULOG NA MGA KA-GINSILOG!** PUYAT PA MORE? MAAGA PA PASOK BUKAS!",
	"**GOOD NIGHT SA LAHAT!** MATULOG NA KAYO, WALA KAYONG MAPAPALA SA PAGPUPUYAT!",
	"**HUWAG NA KAYO MAG-PUYAT!** MAAWA KAYO SA KATAWAN NIYO, TULOG NA!",
	"**10PM NA!** TULOG NA MGA WALANG DISIPLINA SA BUHAY! BILIS!",
	"**MAG TULOG NA KAYO!** WALA BA KAYONG TRABAHO BUKAS? BUKAS NA ULIT ANG DISCORD!",
}

// greetingState tracks maintenance mode and the dates greetings were
// last sent
type greetingState interface {
	Maintenance() bool
	RuntimeConfig() RuntimeConfig
	markGreetingSent(ctx context.Context, kind GreetingKind, date string) error
}

// Greeter sends the morning and night greetings to the greetings
// channel, at most once per day each.
type Greeter struct {
	discord   *Discord
	config    *GreetingsConfig
	channelID string
	state     greetingState
	location  *time.Location
	logger    *slog.Logger

	now  func() time.Time
	pick func(n int) int
}

func newGreeter(
	discord *Discord,
	config *GreetingsConfig,
	channelID string,
	state greetingState,
	logger *slog.Logger,
) (*Greeter, error) {
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("error loading greetings timezone: %w", err)
	}
	return &Greeter{
		discord:   discord,
		config:    config,
		channelID: channelID,
		state:     state,
		location:  loc,
		logger:    logger,
		now:       time.Now,
		pick:      rand.IntN,
	}, nil
}

// Run checks whether a greeting is due every CheckInterval until ctx
// is done
func (g *Greeter) Run(ctx context.Context) {
	ticker := time.NewTicker(g.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.check(ctx)
		}
	}
}

// check sends whichever greeting is due. The morning greeting is only
// counted as sent when there was someone online to mention.
func (g *Greeter) check(ctx context.Context) {
	defer func() {
		if rc := recover(); rc != nil {
			logRecover(ctx, g.logger, rc)
		}
	}()
	if g.state.Maintenance() || g.channelID == "" {
		return
	}

	now := g.now().In(g.location)
	today := now.Format(greetingDateLayout)
	state := g.state.RuntimeConfig()

	var kind GreetingKind
	switch {
	case now.Hour() == g.config.MorningHour && state.LastMorningGreeting != today:
		kind = GreetingMorning
	case now.Hour() == g.config.NightHour && state.LastNightGreeting != today:
		kind = GreetingNight
	default:
		return
	}

	err := g.Send(ctx, kind)
	switch {
	case errors.Is(err, ErrNoOnlineMembers):
		g.logger.DebugContext(ctx, "no one online for the morning greeting")
		return
	case err != nil:
		g.logger.ErrorContext(ctx, "error sending greeting", "kind", kind, tint.Err(err))
		return
	}
	if err = g.state.markGreetingSent(ctx, kind, today); err != nil {
		g.logger.ErrorContext(ctx, "error saving greeting date", "kind", kind, tint.Err(err))
	}
	g.logger.InfoContext(ctx, "sent greeting", "kind", kind, "date", today)
}

// Send posts the greeting to the greetings channel now. The morning
// greeting mentions every online member, and returns
// ErrNoOnlineMembers if there aren't any.
func (g *Greeter) Send(ctx context.Context, kind GreetingKind) error {
	var content string
	switch kind {
	case GreetingMorning:
		mentions, err := g.onlineMentions()
		if err != nil {
			return err
		}
		if len(mentions) == 0 {
			return ErrNoOnlineMembers
		}
		content = fmt.Sprintf(morningGreetings[g.pick(len(morningGreetings))], strings.Join(mentions, " "))
	case GreetingNight:
		content = nightGreetings[g.pick(len(nightGreetings))]
	default:
		return fmt.Errorf("unknown greeting: %q", kind)
	}

	for _, chunk := range splitMessage(content, discordMaxMessageLength) {
		if _, err := g.discord.session.ChannelMessageSend(g.channelID, chunk); err != nil {
			return fmt.Errorf("error sending greeting: %w", err)
		}
	}
	return nil
}

// onlineMentions returns mentions for non-bot members of the greetings
// channel's guild whose status is online
func (g *Greeter) onlineMentions() ([]string, error) {
	ch, err := g.discord.channel(g.channelID)
	if err != nil {
		return nil, fmt.Errorf("error loading greetings channel: %w", err)
	}
	guild, err := g.discord.guild(ch.GuildID)
	if err != nil {
		return nil, fmt.Errorf("error loading guild: %w", err)
	}

	var mentions []string
	for _, p := range guild.Presences {
		if p == nil || p.User == nil || p.Status != discordgo.StatusOnline {
			continue
		}
		isBot := p.User.Bot
		if m, e := g.discord.session.StateMember(guild.ID, p.User.ID); e == nil && m != nil && m.User != nil {
			isBot = isBot || m.User.Bot
		}
		if isBot {
			continue
		}
		mentions = append(mentions, "<@"+p.User.ID+">")
	}
	return mentions, nil
}

// markGreetingSent records the date a greeting was sent, so it isn't
// repeated that day
func (b *Bot) markGreetingSent(ctx context.Context, kind GreetingKind, date string) error {
	switch kind {
	case GreetingMorning:
		return b.updateRuntimeConfig(
			ctx,
			map[string]any{columnRuntimeConfigLastMorningGreeting: date},
			func(state *RuntimeConfig) {
				state.LastMorningGreeting = date
			},
		)
	case GreetingNight:
		return b.updateRuntimeConfig(
			ctx,
			map[string]any{columnRuntimeConfigLastNightGreeting: date},
			func(state *RuntimeConfig) {
				state.LastNightGreeting = date
			},
		)
	default:
		return fmt.Errorf("unknown greeting: %q", kind)
	}
}
