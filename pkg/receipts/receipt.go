package receipts

import "time"

// Receipt is a verified claim of cumulative payment received on a
// sub-stream. Decoding and HMAC verification happen upstream; by the time
// a Receipt reaches this package it is trusted, and only its replay and
// validity-window semantics remain to be enforced.
type Receipt struct {
	// ID is derived from the receipt's unique nonce.
	ID string `json:"id"`
	// StreamID identifies the sub-stream the cumulative total belongs to.
	StreamID string `json:"streamId"`
	// TotalReceived is the cumulative amount received on the sub-stream.
	TotalReceived uint64 `json:"totalReceived"`
	// StreamStartTime anchors the validity window.
	StreamStartTime time.Time `json:"streamStartTime"`
}

// RemainingTTL returns how much of the configured validity window is left,
// measured from the stream start. Zero means the window has elapsed and the
// receipt can never be credited again.
func (r *Receipt) RemainingTTL(window time.Duration) time.Duration {
	remaining := time.Until(r.StreamStartTime.Add(window))
	if remaining < 0 {
		return 0
	}
	return remaining
}
