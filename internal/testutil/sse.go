// Package testutil provides shared test helpers: an SSE stream parser and
// a deterministic mock Genkit model.
package testutil

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"
)

// StreamEvent is one decoded wire event. The union tag travels inside the
// JSON payload, so parsing is a matter of splitting "data:" frames and
// unmarshalling each one.
type StreamEvent struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Name    string          `json:"name"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// ParseStream decodes an SSE response body into its events. Fails the test
// on any malformed frame.
func ParseStream(t *testing.T, body string) []StreamEvent {
	t.Helper()

	var events []StreamEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			var ev StreamEvent
			payload := strings.TrimPrefix(line, "data: ")
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				t.Fatalf("line %d: bad event payload %q: %v", lineNum, payload, err)
			}
			if ev.Type == "" {
				t.Fatalf("line %d: event %q has no type tag", lineNum, payload)
			}
			events = append(events, ev)
		case line == "", strings.HasPrefix(line, ":"):
			// Frame separator or comment.
		default:
			t.Fatalf("line %d: unexpected SSE line %q", lineNum, line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan stream: %v", err)
	}
	return events
}

// TerminalEvent returns the last event and fails if the stream is empty or
// does not end with done or error.
func TerminalEvent(t *testing.T, events []StreamEvent) StreamEvent {
	t.Helper()

	if len(events) == 0 {
		t.Fatal("stream has no events")
	}
	last := events[len(events)-1]
	if last.Type != "done" && last.Type != "error" {
		t.Fatalf("stream ends with %q, want done or error", last.Type)
	}
	return last
}
