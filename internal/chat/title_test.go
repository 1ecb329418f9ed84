package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/genkit"

	"github.com/mesura-ai/mesura/internal/testutil"
)

func TestFallbackTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "short message unchanged",
			message: "hola",
			want:    "hola",
		},
		{
			name:    "surrounding whitespace trimmed",
			message: "  estudio de capacidad  ",
			want:    "estudio de capacidad",
		},
		{
			name:    "exactly at the limit",
			message: strings.Repeat("a", 50),
			want:    strings.Repeat("a", 50),
		},
		{
			name:    "no spaces hard cut",
			message: strings.Repeat("a", 60),
			want:    strings.Repeat("a", 50) + "...",
		},
		{
			name:    "truncates at word boundary",
			message: strings.Repeat("ab ", 20),
			want:    strings.Repeat("ab ", 15) + "ab...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := fallbackTitle(tt.message); got != tt.want {
				t.Errorf("fallbackTitle(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestTitleGenerator(t *testing.T) {
	mock := testutil.NewMockLLM("Consulta general")
	mock.AddResponse("repetibilidad", "  Estudio de repetibilidad  ")
	mock.AddResponse("larguísimo", strings.Repeat("x", 80))

	g := genkit.Init(context.Background())
	if g == nil {
		t.Fatal("genkit.Init returned nil")
	}
	mock.RegisterModel(g)

	tg := NewTitleGenerator(g, "mock/test-model")

	title, err := tg.Title(context.Background(), "quiero un estudio de repetibilidad")
	if err != nil {
		t.Fatalf("Title() error = %v", err)
	}
	if title != "Estudio de repetibilidad" {
		t.Errorf("Title() = %q, want the trimmed model response", title)
	}

	title, err = tg.Title(context.Background(), "un mensaje larguísimo")
	if err != nil {
		t.Fatalf("Title() error = %v", err)
	}
	if n := len([]rune(title)); n != titleMaxLength {
		t.Errorf("clamped title length = %d runes, want %d", n, titleMaxLength)
	}
	if !strings.HasSuffix(title, "...") {
		t.Errorf("clamped title = %q, want ellipsis suffix", title)
	}
}
