package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/wire"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  jobhub.Kind `json:"kind"`
	Field string      `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Kind: jobhub.Classify(err)}
	var ve *jobhub.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	writeJSON(w, wire.StatusCode(err), resp)
}
