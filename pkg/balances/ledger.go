// Package balances maintains a nonnegative spendable balance per account
// identifier, stored in Redis as an exact decimal string. Credit and spend
// each execute as one atomic server-side script, so racing settlements
// against the same account serialize in the store and overflow/underflow
// checks happen against a consistent snapshot.
package balances

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	store "github.com/openmonetize/receipt-verifier/pkg/redis"
	"go.uber.org/zap"
)

var (
	// ErrInvalidAmount rejects amounts the store cannot represent (above 2^63-1).
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrBalanceOverflow rejects credits that would push a balance above 2^63-1.
	ErrBalanceOverflow = errors.New("balance overflow")
	// ErrBalanceNotFound rejects spends against accounts that were never credited.
	ErrBalanceNotFound = errors.New("balance not found")
	// ErrInsufficientBalance rejects spends that would drive a balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// creditScript adds ARGV[1] to the balance, creating it at zero when
// absent. The headroom check runs on decimal strings before any write, so
// an overflowing credit leaves the stored value untouched. The new balance
// is returned as a string because an integer reply would lose precision
// above 2^53.
var creditScript = store.Script(`
local max = '9223372036854775807'
local cur = redis.call('GET', KEYS[1])
if not cur then
  cur = '0'
end
if dlt(dsub(max, cur), ARGV[1]) then
  return redis.error_reply('balance overflow')
end
redis.call('INCRBY', KEYS[1], ARGV[1])
return redis.call('GET', KEYS[1])
`)

// spendScript subtracts ARGV[1] from an existing balance. Existence and
// sufficiency are checked before the write; a failed spend performs no
// mutation at all.
var spendScript = store.Script(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return redis.error_reply('balance not found')
end
if dlt(cur, ARGV[1]) then
  return redis.error_reply('insufficient balance')
end
redis.call('DECRBY', KEYS[1], ARGV[1])
return redis.call('GET', KEYS[1])
`)

// Ledger exposes atomic credit and spend over the store.
type Ledger struct {
	store  *store.Client
	logger *zap.Logger
}

// NewLedger returns a Ledger backed by the given store client.
func NewLedger(client *store.Client, logger *zap.Logger) *Ledger {
	return &Ledger{store: client, logger: logger}
}

func balanceKey(id string) string {
	return "balance:" + id
}

// Credit atomically adds amount to the balance for id, creating the record
// when absent, and returns the new balance. Fails with ErrInvalidAmount
// when amount exceeds 2^63-1 and with ErrBalanceOverflow when the result
// would; on either failure the stored balance is unchanged.
func (l *Ledger) Credit(ctx context.Context, id string, amount uint64) (uint64, error) {
	if amount > store.MaxAmount {
		return 0, fmt.Errorf("%w: %d exceeds max representable amount", ErrInvalidAmount, amount)
	}

	res, err := l.store.RunScript(ctx, creditScript,
		[]string{balanceKey(id)}, strconv.FormatUint(amount, 10))
	if err != nil {
		if strings.Contains(err.Error(), "balance overflow") {
			return 0, ErrBalanceOverflow
		}
		return 0, err
	}

	return parseBalance(res)
}

// Spend atomically subtracts amount from the balance for id and returns the
// new balance. Spend never creates a balance: a missing record fails with
// ErrBalanceNotFound, and a debit that would go negative fails with
// ErrInsufficientBalance leaving the balance at its pre-call value.
func (l *Ledger) Spend(ctx context.Context, id string, amount uint64) (uint64, error) {
	if amount > store.MaxAmount {
		return 0, fmt.Errorf("%w: %d exceeds max representable amount", ErrInvalidAmount, amount)
	}

	res, err := l.store.RunScript(ctx, spendScript,
		[]string{balanceKey(id)}, strconv.FormatUint(amount, 10))
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "balance not found"):
			return 0, ErrBalanceNotFound
		case strings.Contains(err.Error(), "insufficient balance"):
			return 0, ErrInsufficientBalance
		}
		return 0, err
	}

	return parseBalance(res)
}

func parseBalance(res interface{}) (uint64, error) {
	s, ok := res.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected balance reply type %T", res)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed stored balance %q: %w", s, err)
	}
	return v, nil
}
