package sync

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// maxRequestBodySize bounds the invocation payload (state and secrets only).
const maxRequestBodySize = 1 << 20

// ErrorResponse is returned to the orchestrator when an invocation fails.
// State is the state the invocation was called with.
type ErrorResponse struct {
	Error string `json:"error"`
	State State  `json:"state"`
}

// NewHTTPHandler serves fn Cloud-Function style: POST a Request as JSON and
// receive an Envelope. logger is attached to every request context.
func NewHTTPHandler(fn Function, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithContext(r.Context())
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
		if err != nil {
			http.Error(w, "failed to read request", http.StatusBadRequest)
			return
		}
		if !gjson.ValidBytes(body) {
			http.Error(w, "request is not valid JSON", http.StatusBadRequest)
			return
		}
		if !gjson.GetBytes(body, "state").Exists() {
			http.Error(w, "No state is defined!", http.StatusBadRequest)
			return
		}
		if !gjson.GetBytes(body, "secrets").Exists() {
			http.Error(w, "No secrets is defined!", http.StatusBadRequest)
			return
		}
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "request does not match {state, secrets}", http.StatusBadRequest)
			return
		}

		envelope, err := fn.Invoke(ctx, req)
		if err != nil {
			status := http.StatusBadGateway
			var formatErr *UpstreamFormatError
			switch {
			case IsConfigurationError(err):
				status = http.StatusBadRequest
			case errors.As(err, &formatErr):
				status = http.StatusUnprocessableEntity
			}
			zerolog.Ctx(ctx).Error().Err(err).Interface("state", req.State).Msg("invocation failed")
			writeJSON(w, status, ErrorResponse{Error: err.Error(), State: req.State})
			return
		}
		writeJSON(w, http.StatusOK, envelope)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
