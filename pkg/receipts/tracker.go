// Package receipts tracks, per receipt and sub-stream, the highest
// cumulative amount ever credited (the watermark) and converts each new
// cumulative total into the incremental amount it is worth. The watermark
// record lives in a Redis hash under the receipt's validity-window expiry,
// so an expired or never-registered receipt is worth exactly zero.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	store "github.com/openmonetize/receipt-verifier/pkg/redis"
	"go.uber.org/zap"
)

// ErrAmountOverflow rejects cumulative totals above 2^63-1, which the
// store's arithmetic cannot represent.
var ErrAmountOverflow = errors.New("amount overflow")

// placeholderField keeps the receipt key in existence independently of any
// sub-stream watermark, so EXPIRE has something to hang off right after
// registration.
const placeholderField = "_"

// registerScript ensures the record exists and (re)sets its expiry.
// Idempotent: re-registering only refreshes the ttl.
var registerScript = store.Script(`
redis.call('HSETNX', KEYS[1], ARGV[2], '')
redis.call('EXPIRE', KEYS[1], ARGV[1])
return redis.status_reply('OK')
`)

// creditableScript performs the compare-and-advance in one atomic unit.
// Comparison and subtraction run on decimal strings (see LuaDecimalLib);
// an absent record means the receipt is unknown or expired and yields '0'
// with no mutation, as does a total at or below the stored watermark.
var creditableScript = store.Script(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return '0'
end
local wm = redis.call('HGET', KEYS[1], ARGV[1])
if not wm then
  wm = '0'
end
if not dlt(wm, ARGV[2]) then
  return '0'
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return dsub(ARGV[2], wm)
`)

// Tracker converts cumulative receipt totals into incremental credits.
type Tracker struct {
	store  *store.Client
	logger *zap.Logger
}

// NewTracker returns a Tracker backed by the given store client.
func NewTracker(client *store.Client, logger *zap.Logger) *Tracker {
	return &Tracker{store: client, logger: logger}
}

func receiptKey(receiptID string) string {
	return "receipt:" + receiptID
}

// RegisterValidityWindow idempotently ensures a watermark record exists for
// receiptID and (re)sets its store-level expiry to ttl from now. A record
// must be registered before any credit is possible: CreditableAmount
// returns zero for unknown receipts. A non-positive ttl deletes the record,
// since the window has already elapsed; a fractional ttl rounds up to the
// next whole second, never down to an early expiry.
func (t *Tracker) RegisterValidityWindow(ctx context.Context, receiptID string, ttl time.Duration) error {
	key := receiptKey(receiptID)

	seconds := int64(ttl / time.Second)
	if ttl%time.Second > 0 {
		seconds++
	}
	if ttl <= 0 {
		err := store.WrapTransportErr(t.store.GetClient().Del(ctx, key).Err())
		if err != nil {
			return err
		}
		t.logger.Debug("Receipt validity window already elapsed, record removed",
			zap.String("receiptId", receiptID))
		return nil
	}

	_, err := t.store.RunScript(ctx, registerScript,
		[]string{key}, seconds, placeholderField)
	return err
}

// CreditableAmount atomically advances the watermark for
// (receiptID, streamID) to total and returns the increment above the
// previously stored watermark. Replays and out-of-order deliveries (total
// at or below the watermark) return zero and leave the record untouched,
// as does any receipt that was never registered or whose validity window
// has elapsed. The sum of all deltas ever returned for a stream equals its
// final watermark, regardless of call ordering or concurrency.
func (t *Tracker) CreditableAmount(ctx context.Context, receiptID, streamID string, total uint64) (uint64, error) {
	if total > store.MaxAmount {
		return 0, fmt.Errorf("%w: %d exceeds max representable amount", ErrAmountOverflow, total)
	}

	res, err := t.store.RunScript(ctx, creditableScript,
		[]string{receiptKey(receiptID)}, streamID, strconv.FormatUint(total, 10))
	if err != nil {
		return 0, err
	}

	s, ok := res.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected watermark reply type %T", res)
	}
	delta, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed watermark delta %q: %w", s, err)
	}
	return delta, nil
}
