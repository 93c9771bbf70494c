package response

import (
	"encoding/json"
	"net/http"
)

// JSON writes a JSON response. Everything served here is a live view of
// the reactor, so nothing may be cached.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if data != nil {
		enc := json.NewEncoder(w)
		// chat text and game names go out verbatim
		enc.SetEscapeHTML(false)
		_ = enc.Encode(data)
	}
}
