package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flemzord/memstore/internal/memory"
)

type errorResponse struct {
	Error      string `json:"error"`
	Field      string `json:"field,omitempty"`
	ExistingID string `json:"existing_id,omitempty"`
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the memory error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}

	var (
		verr *memory.ValidationError
		cerr *memory.ConflictError
		mbe  *http.MaxBytesError
	)
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		code = http.StatusBadRequest
		resp.Field = verr.Field
	case errors.As(err, &mbe):
		code = http.StatusRequestEntityTooLarge
	case errors.As(err, &cerr):
		code = http.StatusConflict
		resp.ExistingID = cerr.ExistingID
	case errors.Is(err, memory.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, memory.ErrTransientStorage):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// decodeBody strictly decodes the request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var verr *memory.ValidationError
		var mbe *http.MaxBytesError
		if errors.As(err, &verr) || errors.As(err, &mbe) {
			return err
		}
		return &memory.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}
