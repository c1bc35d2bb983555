package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/dreamimg/backend/internal/generation"
)

const maxBodyBytes = 8 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes e as {code, message} with the status its code maps to.
func writeError(w http.ResponseWriter, e *generation.Error) {
	writeJSON(w, e.Code.HTTPStatus(), e)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// queryLimit parses ?limit=, clamped to [1, max].
func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
