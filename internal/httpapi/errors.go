package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ocx/evcentral/internal/apperr"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to its taxonomy status code via apperr.HTTPStatus,
// falling back to 500 for anything outside the taxonomy.
func writeError(w http.ResponseWriter, err error) {
	status, ok := apperr.HTTPStatus(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"detail": detail})
}
