package ginsilog

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrSelfTransfer        = errors.New("can't give coins to yourself")
	ErrCooldown            = errors.New("cooldown has not elapsed")
)

// CooldownError is returned when the daily reward is claimed again
// before the cooldown has elapsed.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("daily reward available in %s", formatRemaining(e.Remaining))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

type CoinSide string

const (
	CoinHeads CoinSide = "h"
	CoinTails CoinSide = "t"
)

func ParseCoinSide(s string) (CoinSide, bool) {
	switch s {
	case "h", "heads", "head":
		return CoinHeads, true
	case "t", "tails", "tail":
		return CoinTails, true
	default:
		return "", false
	}
}

func (c CoinSide) String() string {
	if c == CoinHeads {
		return "heads"
	}
	return "tails"
}

// TossResult is the outcome of a coin toss
type TossResult struct {
	Guess   CoinSide
	Result  CoinSide
	Bet     int64
	Won     bool
	Balance int64
}

type fallbackAccount struct {
	balance   int64
	lastDaily time.Time
}

// Economy manages coin balances. Balance changes are conditional
// updates, so a balance can't go negative even with concurrent
// commands. When the database can't be reached, an in-memory ledger is
// used instead, and isn't synced back.
type Economy struct {
	writeDB DBI
	config  *EconomyConfig
	logger  *slog.Logger

	now  func() time.Time
	coin func() CoinSide

	mu       sync.Mutex
	fallback map[string]*fallbackAccount
}

func newEconomy(writeDB DBI, config *EconomyConfig, logger *slog.Logger) *Economy {
	return &Economy{
		writeDB:  writeDB,
		config:   config,
		logger:   logger,
		now:      time.Now,
		coin:     randomCoin,
		fallback: map[string]*fallbackAccount{},
	}
}

func randomCoin() CoinSide {
	if rand.IntN(2) == 0 {
		return CoinHeads
	}
	return CoinTails
}

func balanceTx(tx *gorm.DB, userID string) (int64, error) {
	var u User
	if err := tx.Select("id", columnUserBalance).Where("id = ?", userID).Take(&u).Error; err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// isBusinessError reports whether err is an expected outcome rather
// than a database failure
func isBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrCooldown) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrSelfTransfer)
}

// useFallback logs a database error and reports whether the in-memory
// ledger should handle the operation
func (e *Economy) useFallback(ctx context.Context, op string, err error) bool {
	if e.writeDB == nil {
		return true
	}
	if err == nil || isBusinessError(err) {
		return false
	}
	e.logger.ErrorContext(
		ctx,
		"database unavailable, using in-memory balances",
		"operation", op,
		tint.Err(err),
	)
	return true
}

func (e *Economy) account(userID string) *fallbackAccount {
	acct, ok := e.fallback[userID]
	if !ok {
		acct = &fallbackAccount{balance: e.config.StartingBalance}
		e.fallback[userID] = acct
	}
	return acct
}

// Balance returns the user's balance, creating their account if needed
func (e *Economy) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	var err error
	if e.writeDB != nil {
		err = e.writeDB.Transaction(
			ctx, func(tx *gorm.DB) error {
				if err := ensureUserTx(tx, userID, e.config.StartingBalance); err != nil {
					return err
				}
				var txErr error
				balance, txErr = balanceTx(tx, userID)
				return txErr
			},
		)
	}
	if !e.useFallback(ctx, "balance", err) {
		return balance, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account(userID).balance, nil
}

// Add credits the user and returns the new balance
func (e *Economy) Add(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	var err error
	if e.writeDB != nil {
		err = e.writeDB.Transaction(
			ctx, func(tx *gorm.DB) error {
				if txErr := addTx(tx, userID, amount, e.config.StartingBalance); txErr != nil {
					return txErr
				}
				var txErr error
				balance, txErr = balanceTx(tx, userID)
				return txErr
			},
		)
	}
	if !e.useFallback(ctx, "add", err) {
		return balance, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.account(userID)
	acct.balance += amount
	return acct.balance, nil
}

// Deduct debits the user and returns the new balance. If the balance is
// less than amount, ErrInsufficientBalance is returned and nothing
// changes.
func (e *Economy) Deduct(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var balance int64
	var err error
	if e.writeDB != nil {
		err = e.writeDB.Transaction(
			ctx, func(tx *gorm.DB) error {
				if txErr := deductTx(tx, userID, amount, e.config.StartingBalance); txErr != nil {
					return txErr
				}
				var txErr error
				balance, txErr = balanceTx(tx, userID)
				return txErr
			},
		)
	}
	if errors.Is(err, ErrInsufficientBalance) {
		return e.insufficient(ctx, userID)
	}
	if !e.useFallback(ctx, "deduct", err) {
		return balance, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.account(userID)
	if acct.balance < amount {
		return acct.balance, ErrInsufficientBalance
	}
	acct.balance -= amount
	return acct.balance, nil
}

// insufficient returns the user's current balance with
// ErrInsufficientBalance. The rejected transaction was rolled back, so
// the balance is read again.
func (e *Economy) insufficient(ctx context.Context, userID string) (int64, error) {
	balance, err := e.Balance(ctx, userID)
	if err != nil {
		e.logger.WarnContext(ctx, "error reading balance", "user_id", userID, tint.Err(err))
	}
	return balance, ErrInsufficientBalance
}

func addTx(tx *gorm.DB, userID string, amount int64, startingBalance int64) error {
	if err := ensureUserTx(tx, userID, startingBalance); err != nil {
		return err
	}
	return tx.Model(&User{}).Where("id = ?", userID).Update(
		columnUserBalance,
		gorm.Expr("balance + ?", amount),
	).Error
}

func deductTx(tx *gorm.DB, userID string, amount int64, startingBalance int64) error {
	if err := ensureUserTx(tx, userID, startingBalance); err != nil {
		return err
	}
	rv := tx.Model(&User{}).Where(
		"id = ? AND balance >= ?",
		userID,
		amount,
	).Update(columnUserBalance, gorm.Expr("balance - ?", amount))
	if rv.Error != nil {
		return rv.Error
	}
	if rv.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// Give moves amount from one user to another, returning the sender's
// new balance.
func (e *Economy) Give(ctx context.Context, fromUserID, toUserID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if fromUserID == toUserID {
		return 0, ErrSelfTransfer
	}

	var balance int64
	var err error
	if e.writeDB != nil {
		err = e.writeDB.Transaction(
			ctx, func(tx *gorm.DB) error {
				if txErr := deductTx(tx, fromUserID, amount, e.config.StartingBalance); txErr != nil {
					return txErr
				}
				if txErr := addTx(tx, toUserID, amount, e.config.StartingBalance); txErr != nil {
					return txErr
				}
				var txErr error
				balance, txErr = balanceTx(tx, fromUserID)
				return txErr
			},
		)
	}
	if errors.Is(err, ErrInsufficientBalance) {
		return e.insufficient(ctx, fromUserID)
	}
	if !e.useFallback(ctx, "give", err) {
		return balance, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	from := e.account(fromUserID)
	if from.balance < amount {
		return from.balance, ErrInsufficientBalance
	}
	from.balance -= amount
	e.account(toUserID).balance += amount
	return from.balance, nil
}

// ClaimDaily credits the daily reward, returning the new balance. If
// the cooldown hasn't elapsed, a *CooldownError is returned.
func (e *Economy) ClaimDaily(ctx context.Context, userID string) (int64, error) {
	now := e.now()
	cutoff := now.Add(-e.config.DailyCooldown).UnixMilli()

	var balance int64
	var err error
	if e.writeDB != nil {
		err = e.writeDB.Transaction(
			ctx, func(tx *gorm.DB) error {
				if txErr := ensureUserTx(tx, userID, e.config.StartingBalance); txErr != nil {
					return txErr
				}
				rv := tx.Model(&User{}).Where(
					"id = ? AND last_daily <= ?",
					userID,
					cutoff,
				).Updates(
					map[string]any{
						columnUserBalance:   gorm.Expr("balance + ?", e.config.DailyReward),
						columnUserLastDaily: now.UnixMilli(),
					},
				)
				if rv.Error != nil {
					return rv.Error
				}

				var u User
				if txErr := tx.Where("id = ?", userID).Take(&u).Error; txErr != nil {
					return txErr
				}
				balance = u.Balance
				if rv.RowsAffected == 0 {
					next := time.UnixMilli(u.LastDaily).Add(e.config.DailyCooldown)
					return &CooldownError{Remaining: next.Sub(now)}
				}
				return nil
			},
		)
	}
	if !e.useFallback(ctx, "daily", err) {
		return balance, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.account(userID)
	if !acct.lastDaily.IsZero() {
		if next := acct.lastDaily.Add(e.config.DailyCooldown); now.Before(next) {
			return acct.balance, &CooldownError{Remaining: next.Sub(now)}
		}
	}
	acct.lastDaily = now
	acct.balance += e.config.DailyReward
	return acct.balance, nil
}

// Toss takes the bet, flips a coin, and pays out twice the bet when
// the guess is right. A zero bet flips without touching the balance.
func (e *Economy) Toss(ctx context.Context, userID string, guess CoinSide, bet int64) (TossResult, error) {
	result := TossResult{Guess: guess, Bet: bet}
	var balance int64
	var err error
	if bet == 0 {
		balance, err = e.Balance(ctx, userID)
	} else {
		balance, err = e.Deduct(ctx, userID, bet)
	}
	if err != nil {
		result.Balance = balance
		return result, err
	}

	result.Result = e.coin()
	result.Won = result.Result == guess
	result.Balance = balance
	if result.Won && bet > 0 {
		if result.Balance, err = e.Add(ctx, userID, bet*2); err != nil {
			return result, fmt.Errorf("error paying out toss: %w", err)
		}
	}
	e.logger.InfoContext(
		ctx,
		"coin toss",
		"user_id", userID,
		"guess", guess,
		"result", result.Result,
		"bet", bet,
		"won", result.Won,
	)
	return result, nil
}

// Leaderboard returns the users with the highest balances
func (e *Economy) Leaderboard(ctx context.Context, limit int) ([]User, error) {
	var users []User
	var err error
	if e.writeDB != nil {
		err = e.writeDB.DB().WithContext(ctx).Where(
			"bot = ?",
			false,
		).Order("balance desc").Limit(limit).Find(&users).Error
	}
	if !e.useFallback(ctx, "leaderboard", err) {
		return users, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	users = make([]User, 0, len(e.fallback))
	for id, acct := range e.fallback {
		users = append(users, User{ID: id, Balance: acct.balance})
	}
	sort.Slice(
		users, func(i, j int) bool {
			if users[i].Balance == users[j].Balance {
				return users[i].ID < users[j].ID
			}
			return users[i].Balance > users[j].Balance
		},
	)
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}
