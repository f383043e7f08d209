package middleware

import (
	"net/http"

	"github.com/p2deal/dealbot/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
