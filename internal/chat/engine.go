package chat

import (
	"context"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/mesura-ai/mesura/internal/files"
	"github.com/mesura-ai/mesura/internal/store"
)

const systemPrompt = `Eres Mesura, un asistente experto en análisis de sistemas de medición (MSA).
Ayudas a ingenieros de calidad a interpretar estudios Gage R&R, capacidad de
proceso, normalidad y estadística descriptiva sobre sus datos de medición.

Responde siempre en el idioma del usuario (español por defecto). Presenta los
resultados numéricos con sus criterios de aceptación (por ejemplo %GRR < 10%
aceptable, 10-30% condicional, > 30% inaceptable) y explica qué significan en
términos prácticos.

Cuando el usuario pida un análisis y haya un archivo disponible, usa la
herramienta analyze. Si la herramienta falla, explica el problema al usuario
y sugiere cómo corregir sus datos. Nunca inventes resultados numéricos.`

// EngineConfig configures the generation engine.
type EngineConfig struct {
	Model       string  // fully qualified, e.g. "googleai/gemini-2.5-pro"
	MaxTurns    int     // bound on generate/tool round trips
	Temperature float32 // 0 leaves the provider default
}

// StreamInput is one turn's generation input: bounded prior history, the
// new user message and whatever file context is available.
type StreamInput struct {
	History     []*store.Message
	UserMessage string
	FileContext *files.Context
}

// Engine drives the streaming call to the primary model with the analyze
// tool attached. It translates provider chunks into text callbacks and
// persists nothing; mid-stream faults propagate to the orchestrator.
type Engine struct {
	g       *genkit.Genkit
	cfg     EngineConfig
	analyze ai.ToolRef
}

// NewEngine creates an Engine. The coordinator's tool is registered on g
// once, here.
func NewEngine(g *genkit.Genkit, cfg EngineConfig, coordinator *Coordinator) *Engine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 4
	}
	return &Engine{g: g, cfg: cfg, analyze: coordinator.DefineTool(g)}
}

// Stream generates the assistant response, invoking onText for each text
// chunk. Tool lifecycle events are emitted by the tool handler through the
// turn carried in ctx. Returns the provider's error on stream failure; a
// non-nil onText error cancels the generation.
func (e *Engine) Stream(ctx context.Context, in StreamInput, onText func(context.Context, string) error) error {
	messages := make([]*ai.Message, 0, len(in.History)+1)
	for _, m := range in.History {
		switch m.Role {
		case store.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		case store.RoleUser:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(in.UserMessage)))

	system := systemPrompt
	if block := in.FileContext.PromptBlock(); block != "" {
		system = strings.Join([]string{systemPrompt, block}, "\n\n")
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(e.cfg.Model),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
		ai.WithTools(e.analyze),
		ai.WithMaxTurns(e.cfg.MaxTurns),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			if text := chunk.Text(); text != "" {
				return onText(ctx, text)
			}
			return nil
		}),
	}
	if e.cfg.Temperature > 0 {
		opts = append(opts, ai.WithConfig(map[string]any{"temperature": e.cfg.Temperature}))
	}

	_, err := genkit.Generate(ctx, e.g, opts...)
	return err
}
