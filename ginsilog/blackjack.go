package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrGameInProgress = errors.New("a blackjack game is already in progress")
	ErrNoActiveGame   = errors.New("no active blackjack game")
)

const (
	blackjackTarget     = 21
	blackjackDealerStay = 17
	blackjackAce        = 11
)

// BlackjackOutcome is the result of a finished blackjack game
type BlackjackOutcome string

const (
	BlackjackOutcomeNone       BlackjackOutcome = ""
	BlackjackOutcomePlayerBust BlackjackOutcome = "player_bust"
	BlackjackOutcomeDealerBust BlackjackOutcome = "dealer_bust"
	BlackjackOutcomeWin        BlackjackOutcome = "win"
	BlackjackOutcomeLose       BlackjackOutcome = "lose"
	BlackjackOutcomePush       BlackjackOutcome = "push"
)

// Payout returns the amount credited back to the player for a bet
func (o BlackjackOutcome) Payout(bet int64) int64 {
	switch o {
	case BlackjackOutcomeWin, BlackjackOutcomeDealerBust:
		return bet * 2
	case BlackjackOutcomePush:
		return bet
	default:
		return 0
	}
}

// BlackjackGame is a user's game in progress. Cards are stored by
// value, with aces as 11 and face cards as 10.
//
//nolint:lll // struct tags can't be split
type BlackjackGame struct {
	UserID     string `json:"user_id" gorm:"primaryKey;type:string"`
	Bet        int64  `json:"bet" gorm:"not null"`
	PlayerHand []int  `json:"player_hand" gorm:"serializer:json"`
	DealerHand []int  `json:"dealer_hand" gorm:"serializer:json"`
	Deck       []int  `json:"deck" gorm:"serializer:json"`
	ModelUnixTime
}

func (g BlackjackGame) PlayerValue() int {
	return HandValue(g.PlayerHand)
}

func (g BlackjackGame) DealerValue() int {
	return HandValue(g.DealerHand)
}

func (g *BlackjackGame) draw() int {
	card := g.Deck[len(g.Deck)-1]
	g.Deck = g.Deck[:len(g.Deck)-1]
	return card
}

// BlackjackResult is returned from each blackjack action
type BlackjackResult struct {
	Game    BlackjackGame
	Outcome BlackjackOutcome
	Payout  int64
	Balance int64
}

// Finished reports whether the game ended with this action
func (r BlackjackResult) Finished() bool {
	return r.Outcome != BlackjackOutcomeNone
}

// newDeck returns a four-suit deck, unshuffled
func newDeck() []int {
	suit := []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 10, 10, 10, blackjackAce}
	deck := make([]int, 0, len(suit)*4)
	for i := 0; i < 4; i++ {
		deck = append(deck, suit...)
	}
	return deck
}

// HandValue sums the hand, counting aces as 1 instead of 11 while the
// hand would otherwise bust.
func HandValue(hand []int) int {
	value := 0
	aces := 0
	for _, card := range hand {
		value += card
		if card == blackjackAce {
			aces++
		}
	}
	for value > blackjackTarget && aces > 0 {
		value -= 10
		aces--
	}
	return value
}

func formatHand(hand []int) string {
	cards := make([]string, len(hand))
	for i, c := range hand {
		cards[i] = strconv.Itoa(c)
	}
	return strings.Join(cards, ", ")
}

// Blackjack runs one game per user, persisting games in progress.
type Blackjack struct {
	economy *Economy
	writeDB DBI
	logger  *slog.Logger
	shuffle func(deck []int)

	mu    sync.Mutex
	games map[string]*BlackjackGame
}

func newBlackjack(economy *Economy, writeDB DBI, logger *slog.Logger) *Blackjack {
	return &Blackjack{
		economy: economy,
		writeDB: writeDB,
		logger:  logger,
		shuffle: func(deck []int) {
			rand.Shuffle(
				len(deck), func(i, j int) {
					deck[i], deck[j] = deck[j], deck[i]
				},
			)
		},
		games: map[string]*BlackjackGame{},
	}
}

func (b *Blackjack) load(ctx context.Context, userID string) (*BlackjackGame, error) {
	if b.writeDB == nil {
		if g, ok := b.games[userID]; ok {
			return g, nil
		}
		return nil, ErrNoActiveGame
	}
	var game BlackjackGame
	err := b.writeDB.DB().WithContext(ctx).Where("user_id = ?", userID).Take(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveGame
	}
	if err != nil {
		return nil, err
	}
	return &game, nil
}

func (b *Blackjack) save(ctx context.Context, game *BlackjackGame) error {
	if b.writeDB == nil {
		b.games[game.UserID] = game
		return nil
	}
	_, err := b.writeDB.Save(ctx, game)
	return err
}

func (b *Blackjack) discard(ctx context.Context, userID string) error {
	if b.writeDB == nil {
		delete(b.games, userID)
		return nil
	}
	_, err := b.writeDB.Delete(ctx, &BlackjackGame{}, "user_id = ?", userID)
	return err
}

// Start takes the bet and deals a new game. Only one game per user may
// be in progress.
func (b *Blackjack) Start(ctx context.Context, userID string, bet int64) (BlackjackResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.load(ctx, userID); err == nil {
		return BlackjackResult{}, ErrGameInProgress
	} else if !errors.Is(err, ErrNoActiveGame) {
		return BlackjackResult{}, fmt.Errorf("error loading game: %w", err)
	}

	balance, err := b.economy.Deduct(ctx, userID, bet)
	if err != nil {
		return BlackjackResult{Balance: balance}, err
	}

	game := &BlackjackGame{UserID: userID, Bet: bet, Deck: newDeck()}
	b.shuffle(game.Deck)
	game.PlayerHand = []int{game.draw(), game.draw()}
	game.DealerHand = []int{game.draw(), game.draw()}

	if err = b.save(ctx, game); err != nil {
		if _, refundErr := b.economy.Add(ctx, userID, bet); refundErr != nil {
			err = errors.Join(err, fmt.Errorf("error refunding bet: %w", refundErr))
		}
		return BlackjackResult{}, fmt.Errorf("error saving game: %w", err)
	}
	b.logger.InfoContext(
		ctx,
		"started blackjack game",
		"user_id", userID,
		"bet", bet,
		"player_value", game.PlayerValue(),
	)
	return BlackjackResult{Game: *game, Balance: balance}, nil
}

// Hit draws a card for the player. Going over 21 ends the game.
func (b *Blackjack) Hit(ctx context.Context, userID string) (BlackjackResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	game, err := b.load(ctx, userID)
	if err != nil {
		return BlackjackResult{}, err
	}
	game.PlayerHand = append(game.PlayerHand, game.draw())

	if game.PlayerValue() > blackjackTarget {
		return b.finish(ctx, game, BlackjackOutcomePlayerBust)
	}
	if err = b.save(ctx, game); err != nil {
		return BlackjackResult{}, fmt.Errorf("error saving game: %w", err)
	}
	return BlackjackResult{Game: *game}, nil
}

// Stand ends the player's turn. The dealer draws until reaching 17,
// then the hands are compared.
func (b *Blackjack) Stand(ctx context.Context, userID string) (BlackjackResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	game, err := b.load(ctx, userID)
	if err != nil {
		return BlackjackResult{}, err
	}
	for game.DealerValue() < blackjackDealerStay && len(game.Deck) > 0 {
		game.DealerHand = append(game.DealerHand, game.draw())
	}
	return b.finish(ctx, game, settleBlackjack(game.PlayerValue(), game.DealerValue()))
}

func settleBlackjack(player, dealer int) BlackjackOutcome {
	switch {
	case player > blackjackTarget:
		return BlackjackOutcomePlayerBust
	case dealer > blackjackTarget:
		return BlackjackOutcomeDealerBust
	case player > dealer:
		return BlackjackOutcomeWin
	case player == dealer:
		return BlackjackOutcomePush
	default:
		return BlackjackOutcomeLose
	}
}

func (b *Blackjack) finish(
	ctx context.Context,
	game *BlackjackGame,
	outcome BlackjackOutcome,
) (BlackjackResult, error) {
	result := BlackjackResult{Game: *game, Outcome: outcome, Payout: outcome.Payout(game.Bet)}
	if err := b.discard(ctx, game.UserID); err != nil {
		return result, fmt.Errorf("error removing game: %w", err)
	}

	var err error
	if result.Payout > 0 {
		result.Balance, err = b.economy.Add(ctx, game.UserID, result.Payout)
	} else {
		result.Balance, err = b.economy.Balance(ctx, game.UserID)
	}
	b.logger.InfoContext(
		ctx,
		"finished blackjack game",
		"user_id", game.UserID,
		"outcome", outcome,
		"bet", game.Bet,
		"payout", result.Payout,
		"player_value", game.PlayerValue(),
		"dealer_value", game.DealerValue(),
	)
	return result, err
}
