package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mesura-ai/mesura/internal/log"
)

// envelope is the JSON response shape for non-streaming paths. On errors
// Data is explicitly null.
type envelope struct {
	Data  any        `json:"data"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response, encoding into a buffer first so headers
// are only sent after a successful encode.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("write response body", "error", err)
	}
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, data any, logger log.Logger) {
	writeJSON(w, status, envelope{Data: data}, logger)
}

// writeError writes an error envelope with data null.
func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, envelope{Error: &errorBody{Code: code, Message: message}}, logger)
}
