package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable classifies transport-level failures (connection refused,
// timeouts) so callers can separate them from domain errors raised by the
// scripts themselves. It is never returned for an error_reply.
var ErrUnavailable = errors.New("store unavailable")

// MaxAmount is the largest value the store can represent exactly: Redis
// string integers are signed 64-bit, so amounts are capped at 2^63-1 even
// though they travel as uint64 in Go.
const MaxAmount = uint64(1<<63 - 1)

// LuaDecimalLib is prepended to every script that compares or subtracts
// stored amounts. Lua numbers are IEEE doubles and silently lose precision
// above 2^53, so all arithmetic on stored values is done on their decimal
// string form instead. Values are unsigned decimal strings in
// [0, 9223372036854775807].
const LuaDecimalLib = `
local function dtrim(s)
  s = string.gsub(s, '^0+', '')
  if s == '' then return '0' end
  return s
end

-- dlt returns true when a < b.
local function dlt(a, b)
  a = dtrim(a)
  b = dtrim(b)
  if string.len(a) ~= string.len(b) then
    return string.len(a) < string.len(b)
  end
  return a < b
end

-- dsub returns a - b; requires a >= b.
local function dsub(a, b)
  local digits = {}
  local la = string.len(a)
  local lb = string.len(b)
  local borrow = 0
  for i = 0, la - 1 do
    local da = string.byte(a, la - i) - 48 - borrow
    local db = 0
    if i < lb then
      db = string.byte(b, lb - i) - 48
    end
    borrow = 0
    if da < db then
      da = da + 10
      borrow = 1
    end
    digits[i + 1] = da - db
  end
  local out = ''
  for i = string.len(a), 1, -1 do
    out = out .. tostring(digits[i])
  end
  return dtrim(out)
end
`

// Script builds a *redis.Script with the decimal helpers prepended.
func Script(body string) *redis.Script {
	return redis.NewScript(LuaDecimalLib + body)
}

// RunScript executes a script as a single indivisible unit against the
// store (EVALSHA, falling back to EVAL when the script is not cached).
// Domain errors raised by the script via error_reply are returned verbatim;
// anything else is classified under ErrUnavailable.
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := script.Run(ctx, c.client, keys, args...).Result()
	if err != nil {
		if err == redis.Nil || isReplyError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res, nil
}

// WrapTransportErr classifies non-script command failures the same way
// RunScript does. redis.Nil passes through untouched so callers can map it
// to their own not-found errors.
func WrapTransportErr(err error) error {
	if err == nil || err == redis.Nil || isReplyError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// isReplyError reports whether err is an error reply from the server, as
// opposed to a transport failure. go-redis marks reply errors with the
// RedisError method.
func isReplyError(err error) bool {
	var re interface{ RedisError() }
	return errors.As(err, &re)
}
