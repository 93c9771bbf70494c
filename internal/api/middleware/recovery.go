package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mcoot/mpserver/internal/api/apierr"
	"github.com/mcoot/mpserver/internal/middleware"
)

// Recovery answers a panicking API handler with a JSON 500
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return middleware.Recovery(logger, func(w http.ResponseWriter, _ *http.Request, _ any) {
		apierr.WriteError(w, apierr.NewInternalError())
	})
}
