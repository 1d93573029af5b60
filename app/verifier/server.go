package verifier

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/openmonetize/receipt-verifier/app/verifier/controller"
	"github.com/openmonetize/receipt-verifier/app/verifier/types"
	"github.com/openmonetize/receipt-verifier/pkg/utils"
)

// NewServer creates the HTTP server for the given App.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3000")

	app.Server = &http.Server{Addr: addr, Handler: router}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
