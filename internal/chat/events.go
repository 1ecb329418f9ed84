// Package chat implements the streaming chat orchestration core: it turns
// one inbound user message into a durable sequence of stored conversation
// state and a live server-push event stream, coordinating moderation,
// streaming generation, a mid-stream analysis tool invocation and
// partial-failure recovery.
package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// EventType tags one orchestration event.
type EventType string

const (
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// Tool call statuses.
const (
	ToolStatusProcessing = "processing"
	ToolStatusComplete   = "complete"
	ToolStatusError      = "error"
)

// Event is one unit of the server-push sequence. A stream is zero or more
// text events and tool_call/tool_result groups followed by exactly one
// terminal event, done or error.
type Event struct {
	Type    EventType
	Content string          // text, error
	Name    string          // tool_call
	Status  string          // tool_call
	Data    json.RawMessage // tool_result, nil on tool failure
	Err     string          // tool_result failure detail
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// MarshalJSON emits the wire shape for the event's type. tool_result always
// carries an explicit data field, null when the tool failed.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventText, EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventToolCall:
		return json.Marshal(struct {
			Type   EventType `json:"type"`
			Name   string    `json:"name"`
			Status string    `json:"status"`
		}{e.Type, e.Name, e.Status})
	case EventToolResult:
		return json.Marshal(struct {
			Type  EventType       `json:"type"`
			Data  json.RawMessage `json:"data"`
			Error string          `json:"error,omitempty"`
		}{e.Type, e.Data, e.Err})
	case EventDone:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// TextEvent wraps a chunk of generated text.
func TextEvent(content string) Event {
	return Event{Type: EventText, Content: content}
}

// ToolCallEvent reports tool lifecycle progress.
func ToolCallEvent(name, status string) Event {
	return Event{Type: EventToolCall, Name: name, Status: status}
}

// ToolResultEvent carries a successful tool payload.
func ToolResultEvent(data json.RawMessage) Event {
	return Event{Type: EventToolResult, Data: data}
}

// ToolErrorEvent carries a failed tool outcome. Data stays null.
func ToolErrorEvent(errMsg string) Event {
	return Event{Type: EventToolResult, Err: errMsg}
}

// ErrorEvent is the terminal failure event.
func ErrorEvent(content string) Event {
	return Event{Type: EventError, Content: content}
}

// DoneEvent is the terminal success event.
func DoneEvent() Event {
	return Event{Type: EventDone}
}

// EventSink consumes orchestration events. The HTTP layer provides an
// SSE-backed sink; tests provide a recorder.
type EventSink interface {
	Send(Event) error
}

// Encoder writes events to an http.ResponseWriter in SSE framing:
// one "data: <json>" line per event followed by a blank line. The union tag
// travels inside the JSON, so no SSE event field is used.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder creates an Encoder over w. Flushing after each event is
// enabled when w implements http.Flusher.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Send encodes and writes one event. A write failure means the client is
// gone; the caller must treat it as terminal for the turn.
func (e *Encoder) Send(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
