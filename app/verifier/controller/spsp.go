package controller

import (
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	store "github.com/openmonetize/receipt-verifier/pkg/redis"
	"github.com/openmonetize/receipt-verifier/pkg/spsp"
	"github.com/openmonetize/receipt-verifier/pkg/utils"
)

type createProxyRequest struct {
	PaymentPointer string `json:"paymentPointer"`
}

type createProxyResponse struct {
	ID string `json:"id"`
}

// HandleCreateProxy registers a payment pointer and returns its opaque
// proxy id (the content hash). Idempotent: re-registering the same pointer
// yields the same id.
func (c *Controller) HandleCreateProxy(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = utils.DrainAndClose(r.Body) }()

	var req createProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	hash, err := c.App.Registry.Create(r.Context(), req.PaymentPointer)
	if err != nil {
		switch {
		case errors.Is(err, spsp.ErrInvalidPointer):
			writeError(w, http.StatusBadRequest, "invalid payment pointer")
		case errors.Is(err, store.ErrUnavailable):
			writeError(w, http.StatusBadGateway, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, createProxyResponse{ID: hash})
}

// HandleQueryProxy reverse-proxies an SPSP query to the endpoint registered
// under the given id.
func (c *Controller) HandleQueryProxy(w http.ResponseWriter, r *http.Request) {
	c.App.Proxy.ServeQuery(w, r, mux.Vars(r)["id"])
}

// HandleDeleteProxy removes a proxy mapping. Deleting an unknown id is not
// an error.
func (c *Controller) HandleDeleteProxy(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["id"]

	if err := c.App.Registry.Delete(r.Context(), hash); err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			writeError(w, http.StatusBadGateway, "store unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	c.App.Proxy.Invalidate(hash)
	w.WriteHeader(http.StatusNoContent)
}
