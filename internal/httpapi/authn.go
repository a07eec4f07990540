package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"kioskvote.org/internal/kiosk"
	"kioskvote.org/internal/obs"
)

// Kiosks authenticate with the pre-shared secret in the token query
// parameter, which is what deployed kiosk software sends.
const tokenParam = "token"

func (a *API) withKiosk(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := strings.TrimSpace(r.URL.Query().Get(tokenParam))
		if secret == "" {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED")
			return
		}

		k, err := a.kiosks.Authenticate(r.Context(), secret)
		if err != nil {
			switch {
			case errors.Is(err, kiosk.ErrNotFound):
				writeError(w, r, http.StatusUnauthorized, "INVALID_TOKEN")
			default:
				obs.Error("kiosk authentication failed", map[string]any{
					"request_id": RequestIDFromContext(r.Context()),
					"error":      err.Error(),
				})
				writeError(w, r, http.StatusInternalServerError, "INTERNAL")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(kiosk.ContextWithKiosk(r.Context(), k)))
	}
}
