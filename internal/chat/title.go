package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// titleMaxLength is the maximum length for auto-generated conversation
// titles, in runes.
const titleMaxLength = 50

// titleInputMaxRunes limits the user message length sent to the model for
// title generation, reducing latency and cost.
const titleInputMaxRunes = 500

// titleTimeout bounds the title call so it cannot hold the turn open.
const titleTimeout = 5 * time.Second

const titlePrompt = `Genera un título conciso (máximo 50 caracteres) para una conversación a partir de este primer mensaje.
El título debe capturar el tema o la intención principal.
Devuelve SOLO el texto del título, sin comillas, sin explicaciones, sin punto final.

Mensaje: %s

Título:`

// TitleGenerator names a conversation with one call to a fast model.
type TitleGenerator struct {
	g     *genkit.Genkit
	model string
}

// NewTitleGenerator creates a TitleGenerator using model (a fully
// qualified model name such as "googleai/gemini-2.5-flash").
func NewTitleGenerator(g *genkit.Genkit, model string) *TitleGenerator {
	return &TitleGenerator{g: g, model: model}
}

// Title generates a conversation title from the first user message. The
// caller falls back to truncation on any error.
func (t *TitleGenerator) Title(ctx context.Context, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	if runes := []rune(message); len(runes) > titleInputMaxRunes {
		message = string(runes[:titleInputMaxRunes]) + "..."
	}

	resp, err := genkit.Generate(ctx, t.g,
		ai.WithModelName(t.model),
		ai.WithPrompt(titlePrompt, message),
	)
	if err != nil {
		return "", fmt.Errorf("title generation: %w", err)
	}

	title := strings.TrimSpace(resp.Text())
	if title == "" {
		return "", errors.New("empty title response")
	}

	if runes := []rune(title); len(runes) > titleMaxLength {
		title = string(runes[:titleMaxLength-3]) + "..."
	}
	return title, nil
}

// fallbackTitle truncates a message into a title at a word boundary.
func fallbackTitle(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= titleMaxLength {
		return message
	}

	truncated := string(runes[:titleMaxLength])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > titleMaxLength/2 {
		truncated = truncated[:lastSpace]
	}
	return strings.TrimSpace(truncated) + "..."
}
