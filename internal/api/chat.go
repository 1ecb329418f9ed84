package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mesura-ai/mesura/internal/chat"
	"github.com/mesura-ai/mesura/internal/i18n"
	"github.com/mesura-ai/mesura/internal/log"
)

// maxChatBodyBytes bounds the chat request body. The message itself is
// capped at 10,000 characters by validation; this only guards the decoder.
const maxChatBodyBytes = 1 << 20

// ChatOrchestrator is the turn engine surface the handler drives.
type ChatOrchestrator interface {
	Prepare(ctx context.Context, req chat.SendRequest) (*chat.Prepared, error)
	Stream(ctx context.Context, p *chat.Prepared, sink chat.EventSink)
}

type chatHandler struct {
	orchestrator ChatOrchestrator
	logger       log.Logger
}

// send handles POST /api/v1/chat. Content negotiation follows the outcome:
// validation and moderation failures return a JSON envelope with the status
// picked from the error code; a rejected message returns a 200 JSON
// envelope with filtered=true; the allowed path switches to SSE and stays
// 200 from there on, with failures traveling as error events.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(chat.CodeValidation), i18n.T("error.validation"), h.logger)
		return
	}

	p, err := h.orchestrator.Prepare(r.Context(), req)
	if err != nil {
		var classified *chat.Error
		if !errors.As(err, &classified) {
			classified = chat.NewError(chat.CodeInternal, err)
		}
		writeError(w, classified.HTTPStatus(), string(classified.Code), classified.Message, h.logger)
		return
	}

	if p.Rejected {
		writeData(w, http.StatusOK, map[string]any{
			"filtered": true,
			"message":  p.Rejection,
		}, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	h.orchestrator.Stream(r.Context(), p, chat.NewEncoder(w))
}
