package server

import (
	"encoding/json"
	"net/http"

	"github.com/portdaddy/daemon/internal/apierr"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads and decodes a JSON request body into v. A missing body is
// treated as an empty object so handlers with all-optional fields don't need
// a client to send "{}" explicitly.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierr.New(apierr.ValidationError, "invalid JSON body: "+err.Error(), nil)
	}
	return nil
}
