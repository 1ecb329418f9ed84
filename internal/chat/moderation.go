package chat

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

const moderationPrompt = `Eres un filtro de alcance para un asistente de análisis de sistemas de medición (MSA).
Decide si el siguiente mensaje de usuario está dentro del alcance: estadística,
calidad, metrología, Gage R&R, capacidad de proceso, análisis de datos de
medición, o conversación general cortés relacionada con el uso del asistente.

Mensaje del usuario:
%s`

// scopeVerdict is the schema-constrained moderation result. The structured
// output keeps the answer strictly boolean, never free text.
type scopeVerdict struct {
	Allowed bool `json:"allowed" jsonschema_description:"true when the message is in scope for a measurement-system-analysis assistant"`
}

// Moderator classifies a message as in-scope or not with a single call to a
// fast model. Call failures are not retried here; the caller classifies
// them to pick an HTTP status.
type Moderator struct {
	g     *genkit.Genkit
	model string
}

// NewModerator creates a Moderator using model (a fully qualified model
// name such as "googleai/gemini-2.5-flash").
func NewModerator(g *genkit.Genkit, model string) *Moderator {
	return &Moderator{g: g, model: model}
}

// Moderate returns whether text is in scope. The error, when non-nil, is
// the underlying provider failure, distinguishable from an allowed=false
// verdict.
func (m *Moderator) Moderate(ctx context.Context, text string) (bool, error) {
	verdict, _, err := genkit.GenerateData[scopeVerdict](ctx, m.g,
		ai.WithModelName(m.model),
		ai.WithPrompt(moderationPrompt, text),
	)
	if err != nil {
		return false, fmt.Errorf("moderation call: %w", err)
	}
	return verdict.Allowed, nil
}
