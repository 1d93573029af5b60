package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/openmonetize/receipt-verifier/pkg/receipts"
	store "github.com/openmonetize/receipt-verifier/pkg/redis"
	"github.com/openmonetize/receipt-verifier/pkg/utils"
)

type registerReceiptResponse struct {
	ReceiptID  string `json:"receiptId"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

// HandleRegisterReceipt registers (or refreshes) the validity window for a
// verified receipt. Crediting is only possible for registered receipts, so
// callers must register before submitting receipts for settlement. A
// receipt whose window has already elapsed gets ttlSeconds 0 and its record
// removed.
func (c *Controller) HandleRegisterReceipt(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = utils.DrainAndClose(r.Body) }()

	var receipt receipts.Receipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		writeError(w, http.StatusBadRequest, "malformed receipt")
		return
	}
	if receipt.ID == "" {
		writeError(w, http.StatusBadRequest, "receipt id is required")
		return
	}

	ttl := receipt.RemainingTTL(c.App.Window)

	if err := c.App.Tracker.RegisterValidityWindow(r.Context(), receipt.ID, ttl); err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			writeError(w, http.StatusBadGateway, "store unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	writeJSON(w, http.StatusOK, registerReceiptResponse{
		ReceiptID:  receipt.ID,
		TTLSeconds: int64(ttl.Seconds()),
	})
}

// publishEvent marshals and publishes a settlement event. Best-effort: a
// failure is already logged by the store client and never affects the
// response.
func (c *Controller) publishEvent(ctx context.Context, channel string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.App.Store.Publish(ctx, channel, payload)
}
