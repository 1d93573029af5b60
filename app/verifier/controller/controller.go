package controller

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/openmonetize/receipt-verifier/app/verifier/types"
	"github.com/openmonetize/receipt-verifier/pkg/utils"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(WithRequestLog(c.App.Logger))

	r.Handle("/healthz", http.HandlerFunc(c.HandleHealth)).Methods("GET")

	r.HandleFunc("/receipts", c.HandleRegisterReceipt).Methods("POST")

	// Balances are the spendable surface; guard them when a secret is
	// configured. AUTH_JWT_SECRET unset means auth is disabled.
	b := r.PathPrefix("/balances").Subrouter()
	if secret := utils.Env("AUTH_JWT_SECRET", ""); secret != "" {
		b.Use(WithBearerAuth([]byte(secret)))
	}
	b.HandleFunc("/{id:[^:]+}:creditReceipt", c.HandleCreditReceipt).Methods("POST")
	b.HandleFunc("/{id:[^:]+}:spend", c.HandleSpend).Methods("POST")

	r.HandleFunc("/spsp", c.HandleCreateProxy).Methods("POST")
	r.HandleFunc("/spsp/{id}", c.HandleQueryProxy).Methods("GET")
	r.HandleFunc("/spsp/{id}", c.HandleDeleteProxy).Methods("DELETE")

	return r, nil
}
