package ginsilog

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
)

// stackDeck returns a shuffle func that deals cards in the given order
func stackDeck(cards ...int) func([]int) {
	return func(deck []int) {
		for i, c := range cards {
			deck[len(deck)-1-i] = c
		}
	}
}

func newTestBlackjack(t testing.TB, writeDB DBI, cards ...int) *Blackjack {
	t.Helper()
	e, _ := newTestEconomy(t, writeDB)
	b := newBlackjack(e, writeDB, slog.Default())
	b.shuffle = stackDeck(cards...)
	return b
}

func TestHandValue(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		hand     []int
		expected int
	}{
		{hand: []int{10, 7}, expected: 17},
		{hand: []int{11, 10}, expected: 21},
		{hand: []int{11, 11}, expected: 12},
		{hand: []int{11, 5, 10}, expected: 16},
		{hand: []int{11, 11, 11, 10}, expected: 13},
		{hand: []int{10, 10, 5}, expected: 25},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, HandValue(tc.hand), formatHand(tc.hand))
	}
}

func TestBlackjack_StandWin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBlackjack(t, newTestWriteDB(t), 10, 10, 10, 7)

	result, err := b.Start(ctx, testUserID, 1000)
	require.NoError(t, err)
	assert.False(t, result.Finished())
	assert.Equal(t, int64(49_000), result.Balance)
	assert.Equal(t, []int{10, 10}, result.Game.PlayerHand)
	assert.Equal(t, []int{10, 7}, result.Game.DealerHand)

	result, err = b.Stand(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, BlackjackOutcomeWin, result.Outcome)
	assert.Equal(t, int64(2000), result.Payout)
	assert.Equal(t, int64(51_000), result.Balance)

	_, err = b.Hit(ctx, testUserID)
	assert.ErrorIs(t, err, ErrNoActiveGame)
}

func TestBlackjack_HitBust(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBlackjack(t, newTestWriteDB(t), 10, 6, 10, 7, 10)

	_, err := b.Start(ctx, testUserID, 1000)
	require.NoError(t, err)

	result, err := b.Hit(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, BlackjackOutcomePlayerBust, result.Outcome)
	assert.Zero(t, result.Payout)
	assert.Equal(t, int64(49_000), result.Balance)
	assert.Equal(t, 26, result.Game.PlayerValue())
}

func TestBlackjack_HitContinues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBlackjack(t, newTestWriteDB(t), 5, 3, 10, 7, 2)

	_, err := b.Start(ctx, testUserID, 100)
	require.NoError(t, err)

	result, err := b.Hit(ctx, testUserID)
	require.NoError(t, err)
	assert.False(t, result.Finished())
	assert.Equal(t, []int{5, 3, 2}, result.Game.PlayerHand)

	// the persisted game carries the new card
	game, err := b.load(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3, 2}, game.PlayerHand)
}

func TestBlackjack_DealerDraws(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBlackjack(t, newTestWriteDB(t), 10, 8, 10, 4, 5)

	_, err := b.Start(ctx, testUserID, 1000)
	require.NoError(t, err)

	result, err := b.Stand(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 4, 5}, result.Game.DealerHand)
	assert.Equal(t, BlackjackOutcomeLose, result.Outcome)
	assert.Equal(t, int64(49_000), result.Balance)
}

func TestBlackjack_Push(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBlackjack(t, newTestWriteDB(t), 10, 7, 10, 7)

	_, err := b.Start(ctx, testUserID, 1000)
	require.NoError(t, err)

	result, err := b.Stand(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, BlackjackOutcomePush, result.Outcome)
	assert.Equal(t, int64(50_000), result.Balance)
}

func TestBlackjack_GameInProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBlackjack(t, newTestWriteDB(t))

	_, err := b.Start(ctx, testUserID, 1000)
	require.NoError(t, err)

	_, err = b.Start(ctx, testUserID, 1000)
	assert.ErrorIs(t, err, ErrGameInProgress)

	balance, err := b.economy.Balance(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(49_000), balance)
}

func TestBlackjack_InsufficientBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBlackjack(t, newTestWriteDB(t))

	result, err := b.Start(ctx, testUserID, 50_001)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(50_000), result.Balance)

	_, err = b.Stand(ctx, testUserID)
	assert.ErrorIs(t, err, ErrNoActiveGame)
}

func TestBlackjack_InMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newTestBlackjack(t, nil, 10, 10, 10, 7)

	_, err := b.Start(ctx, testUserID, 1000)
	require.NoError(t, err)
	result, err := b.Stand(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(51_000), result.Balance)
	assert.Empty(t, b.games)
}

func TestBlackjackOutcome_Payout(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(200), BlackjackOutcomeWin.Payout(100))
	assert.Equal(t, int64(200), BlackjackOutcomeDealerBust.Payout(100))
	assert.Equal(t, int64(100), BlackjackOutcomePush.Payout(100))
	assert.Zero(t, BlackjackOutcomeLose.Payout(100))
	assert.Zero(t, BlackjackOutcomePlayerBust.Payout(100))
}
