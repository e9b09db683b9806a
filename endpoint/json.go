package endpoint

import (
	"encoding/json"
	"net/http"
)

// JSONRenderer encodes Value as JSON. HTML escaping is disabled, and the
// encoder appends a trailing newline.
//
// An encoding error is returned after the status line has been written, so
// it only reaches the logs.
type JSONRenderer struct {
	Status int
	Value  any
	// NoStore adds Cache-Control: no-store, for payloads that carry
	// per-user data.
	NoStore bool
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	if jr.NoStore {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(statusOr(jr.Status, http.StatusOK))

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}
