package controller

import (
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/openmonetize/receipt-verifier/pkg/balances"
	"github.com/openmonetize/receipt-verifier/pkg/receipts"
	store "github.com/openmonetize/receipt-verifier/pkg/redis"
	"github.com/openmonetize/receipt-verifier/pkg/utils"
)

type creditReceiptResponse struct {
	ReceiptID string  `json:"receiptId"`
	Amount    uint64  `json:"amount"`
	Balance   *uint64 `json:"balance,omitempty"`
}

type spendRequest struct {
	Amount uint64 `json:"amount"`
}

type balanceResponse struct {
	Balance uint64 `json:"balance"`
}

type settlementEvent struct {
	AccountID string `json:"accountId"`
	Amount    uint64 `json:"amount"`
	Balance   uint64 `json:"balance"`
}

// HandleCreditReceipt settles a verified receipt against the named balance:
// the watermark tracker converts the receipt's cumulative total into an
// incremental delta, and a positive delta is credited to the account.
// The receipt must have been registered via POST /receipts while its
// validity window was open; otherwise the delta is always zero.
func (c *Controller) HandleCreditReceipt(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	defer func() { _ = utils.DrainAndClose(r.Body) }()

	var receipt receipts.Receipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		writeError(w, http.StatusBadRequest, "malformed receipt")
		return
	}
	if receipt.ID == "" || receipt.StreamID == "" {
		writeError(w, http.StatusBadRequest, "receipt id and streamId are required")
		return
	}

	ctx := r.Context()

	delta, err := c.App.Tracker.CreditableAmount(ctx, receipt.ID, receipt.StreamID, receipt.TotalReceived)
	if err != nil {
		switch {
		case errors.Is(err, receipts.ErrAmountOverflow):
			writeError(w, http.StatusBadRequest, "receipt total exceeds representable range")
		case errors.Is(err, store.ErrUnavailable):
			writeError(w, http.StatusBadGateway, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "settlement failed")
		}
		return
	}

	resp := creditReceiptResponse{ReceiptID: receipt.ID, Amount: delta}

	if delta > 0 {
		balance, err := c.App.Ledger.Credit(ctx, accountID, delta)
		if err != nil {
			switch {
			case errors.Is(err, balances.ErrBalanceOverflow):
				writeError(w, http.StatusConflict, "balance overflow")
			case errors.Is(err, store.ErrUnavailable):
				writeError(w, http.StatusBadGateway, "store unavailable")
			default:
				writeError(w, http.StatusInternalServerError, "credit failed")
			}
			return
		}
		resp.Balance = &balance

		c.publishEvent(ctx, "balances:credited", settlementEvent{
			AccountID: accountID,
			Amount:    delta,
			Balance:   balance,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleSpend debits the named balance.
func (c *Controller) HandleSpend(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	defer func() { _ = utils.DrainAndClose(r.Body) }()

	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed spend request")
		return
	}

	ctx := r.Context()

	balance, err := c.App.Ledger.Spend(ctx, accountID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, balances.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "invalid amount")
		case errors.Is(err, balances.ErrBalanceNotFound):
			writeError(w, http.StatusNotFound, "balance not found")
		case errors.Is(err, balances.ErrInsufficientBalance):
			writeError(w, http.StatusPaymentRequired, "insufficient balance")
		case errors.Is(err, store.ErrUnavailable):
			writeError(w, http.StatusBadGateway, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "spend failed")
		}
		return
	}

	c.publishEvent(ctx, "balances:spent", settlementEvent{
		AccountID: accountID,
		Amount:    req.Amount,
		Balance:   balance,
	})

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}
