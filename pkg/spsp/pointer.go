package spsp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ErrInvalidPointer rejects payment pointers that cannot be canonicalized
// to an http(s) URL.
var ErrInvalidPointer = errors.New("invalid payment pointer")

// wellKnownPath is the default SPSP endpoint path when a $-shorthand
// pointer names only a host.
const wellKnownPath = "/.well-known/pay"

// CanonicalURL expands a payment pointer to its canonical endpoint URL.
// A $-prefixed shorthand becomes an https:// URL, with the path defaulting
// to /.well-known/pay when empty; any other string must already parse as
// an absolute http(s) URL.
func CanonicalURL(pointer string) (string, error) {
	raw := pointer
	if strings.HasPrefix(pointer, "$") {
		raw = "https://" + pointer[1:]
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPointer, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidPointer, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidPointer)
	}
	if strings.HasPrefix(pointer, "$") && (u.Path == "" || u.Path == "/") {
		u.Path = wellKnownPath
	}

	return u.String(), nil
}

// PointerHash returns the public-facing opaque identifier for a pointer:
// the hex BLAKE2b-256 digest of the original (pre-canonicalization)
// pointer string. Deterministic, so Create is idempotent.
func PointerHash(pointer string) string {
	sum := blake2b.Sum256([]byte(pointer))
	return hex.EncodeToString(sum[:])
}
