package ginsilog

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestEconomy(t testing.TB, writeDB DBI) (*Economy, *time.Time) {
	t.Helper()
	cfg := DefaultConfig().Economy
	e := newEconomy(writeDB, cfg, slog.Default())
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, &now
}

func TestEconomy_DailyCooldown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, now := newTestEconomy(t, newTestWriteDB(t))

	balance, err := e.ClaimDaily(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(60_000), balance)

	*now = now.Add(time.Hour)
	balance, err = e.ClaimDaily(ctx, testUserID)
	require.ErrorIs(t, err, ErrCooldown)
	assert.Equal(t, int64(60_000), balance)

	var cooldownErr *CooldownError
	require.True(t, errors.As(err, &cooldownErr))
	assert.Equal(t, 23*time.Hour, cooldownErr.Remaining)

	*now = now.Add(23*time.Hour + time.Second)
	balance, err = e.ClaimDaily(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(70_000), balance)
}

func TestEconomy_TossForcedHeads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEconomy(t, newTestWriteDB(t))
	e.coin = func() CoinSide { return CoinHeads }

	result, err := e.Toss(ctx, testUserID, CoinHeads, 1000)
	require.NoError(t, err)
	assert.True(t, result.Won)
	assert.Equal(t, CoinHeads, result.Result)
	assert.Equal(t, int64(51_000), result.Balance)

	balance, err := e.Balance(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(51_000), balance)
}

func TestEconomy_TossLost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEconomy(t, newTestWriteDB(t))
	e.coin = func() CoinSide { return CoinTails }

	result, err := e.Toss(ctx, testUserID, CoinHeads, 1000)
	require.NoError(t, err)
	assert.False(t, result.Won)
	assert.Equal(t, int64(49_000), result.Balance)
}

func TestEconomy_TossZeroBet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEconomy(t, newTestWriteDB(t))
	e.coin = func() CoinSide { return CoinHeads }

	result, err := e.Toss(ctx, testUserID, CoinHeads, 0)
	require.NoError(t, err)
	assert.True(t, result.Won)
	assert.Equal(t, int64(50_000), result.Balance)
}

func TestEconomy_TossInsufficient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEconomy(t, newTestWriteDB(t))

	result, err := e.Toss(ctx, testUserID, CoinTails, 50_001)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(50_000), result.Balance)
}

func TestEconomy_Give(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEconomy(t, newTestWriteDB(t))

	balance, err := e.Give(ctx, testUserID, testOtherUserID, 2_500)
	require.NoError(t, err)
	assert.Equal(t, int64(47_500), balance)

	other, err := e.Balance(ctx, testOtherUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(52_500), other)

	_, err = e.Give(ctx, testUserID, testUserID, 10)
	assert.ErrorIs(t, err, ErrSelfTransfer)

	_, err = e.Give(ctx, testUserID, testOtherUserID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	balance, err = e.Give(ctx, testUserID, testOtherUserID, 1_000_000)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(47_500), balance)

	balance, err = e.Balance(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(47_500), balance)
}

func TestEconomy_ConcurrentDeduct(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEconomy(t, newTestWriteDB(t))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Deduct(ctx, testUserID, 10_000); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	balance, err := e.Balance(ctx, testUserID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestEconomy_Leaderboard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _ := newTestEconomy(t, newTestWriteDB(t))

	_, err := e.Add(ctx, testOtherUserID, 5)
	require.NoError(t, err)
	_, err = e.Deduct(ctx, testUserID, 5)
	require.NoError(t, err)

	users, err := e.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, testOtherUserID, users[0].ID)
	assert.Equal(t, int64(50_005), users[0].Balance)
	assert.Equal(t, testUserID, users[1].ID)
}

func TestEconomy_Fallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, now := newTestEconomy(t, nil)

	balance, err := e.ClaimDaily(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(60_000), balance)

	*now = now.Add(time.Minute)
	_, err = e.ClaimDaily(ctx, testUserID)
	assert.ErrorIs(t, err, ErrCooldown)

	balance, err = e.Give(ctx, testUserID, testOtherUserID, 60_000)
	require.NoError(t, err)
	assert.Zero(t, balance)

	users, err := e.Leaderboard(ctx, 1)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, testOtherUserID, users[0].ID)
	assert.Equal(t, int64(110_000), users[0].Balance)
}

func TestFormatRemaining(t *testing.T) {
	t.Parallel()
	assert.NotEmpty(t, formatRemaining(23*time.Hour))
	assert.Equal(t, (&CooldownError{Remaining: time.Hour}).Error(), "daily reward available in "+formatRemaining(time.Hour))
}
