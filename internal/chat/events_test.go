package chat

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEventMarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"text", TextEvent("hola"), `{"type":"text","content":"hola"}`},
		{"tool call", ToolCallEvent("analyze", ToolStatusProcessing), `{"type":"tool_call","name":"analyze","status":"processing"}`},
		{"tool result", ToolResultEvent(json.RawMessage(`{"grr":12}`)), `{"type":"tool_result","data":{"grr":12}}`},
		{"tool error keeps null data", ToolErrorEvent("fila 3 inválida"), `{"type":"tool_result","data":null,"error":"fila 3 inválida"}`},
		{"error", ErrorEvent("se perdió la conexión"), `{"type":"error","content":"se perdió la conexión"}`},
		{"done", DoneEvent(), `{"type":"done"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEventTerminal(t *testing.T) {
	t.Parallel()

	if TextEvent("x").Terminal() || ToolCallEvent("analyze", ToolStatusComplete).Terminal() {
		t.Error("non-terminal event reported terminal")
	}
	if !DoneEvent().Terminal() || !ErrorEvent("x").Terminal() {
		t.Error("terminal event not reported terminal")
	}
}

func TestEncoderFraming(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	enc := NewEncoder(&buf)

	if err := enc.Send(TextEvent("hola")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := enc.Send(DoneEvent()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got := buf.String()
	want := "data: {\"type\":\"text\",\"content\":\"hola\"}\n\ndata: {\"type\":\"done\"}\n\n"
	if got != want {
		t.Errorf("encoded stream = %q, want %q", got, want)
	}
}

func TestStripMarkers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no marker", "respuesta simple", "respuesta simple"},
		{"marker in middle", "antes" + toolMarker("gage_rr") + "después", "antes\n\ndespués"},
		{"marker only", toolMarker("capability"), ""},
		{"two markers", toolMarker("gage_rr") + "texto" + toolMarker("normality"), "texto"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := stripMarkers(tt.in); got != tt.want {
				t.Errorf("stripMarkers(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
