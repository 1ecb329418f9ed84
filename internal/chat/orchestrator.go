package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mesura-ai/mesura/internal/files"
	"github.com/mesura-ai/mesura/internal/i18n"
	"github.com/mesura-ai/mesura/internal/log"
	"github.com/mesura-ai/mesura/internal/store"
)

// ConversationStore is the persistence surface one turn needs.
type ConversationStore interface {
	CreateMessage(ctx context.Context, p store.CreateMessageParams) (*store.Message, error)
	Messages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*store.Message, error)
	UpdateMessageMetadata(ctx context.Context, id uuid.UUID, patch map[string]any) (*store.Message, error)
	UpdateMessageContent(ctx context.Context, id uuid.UUID, content string) (*store.Message, error)
	TouchConversation(ctx context.Context, id uuid.UUID) error
	SetConversationTitle(ctx context.Context, id uuid.UUID, title string) error
}

// TitleSource names a conversation from its first user message. A nil
// source falls back to truncating the message.
type TitleSource interface {
	Title(ctx context.Context, message string) (string, error)
}

// ScopeModerator decides topical relevance before generation.
type ScopeModerator interface {
	Moderate(ctx context.Context, text string) (bool, error)
}

// FileContextBuilder assembles file context for the system prompt.
type FileContextBuilder interface {
	Build(ctx context.Context, conversationID uuid.UUID) (*files.Context, error)
}

// GenerationEngine streams the assistant response.
type GenerationEngine interface {
	Stream(ctx context.Context, in StreamInput, onText func(context.Context, string) error) error
}

// Orchestrator composes the whole turn: validation, user message
// durability, moderation, generation, tool coordination and finalization.
type Orchestrator struct {
	store      ConversationStore
	moderator  ScopeModerator
	fileCtx    FileContextBuilder
	engine     GenerationEngine
	titles     TitleSource
	maxHistory int32
	logger     log.Logger
}

// NewOrchestrator creates an Orchestrator. maxHistory bounds how much prior
// conversation feeds each generation.
func NewOrchestrator(
	st ConversationStore,
	moderator ScopeModerator,
	fileCtx FileContextBuilder,
	engine GenerationEngine,
	titles TitleSource,
	maxHistory int32,
	logger log.Logger,
) *Orchestrator {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		store:      st,
		moderator:  moderator,
		fileCtx:    fileCtx,
		engine:     engine,
		titles:     titles,
		maxHistory: maxHistory,
		logger:     logger,
	}
}

// Prepared is the outcome of the pre-stream phase. Either Rejected is set
// with the rejection copy, or the turn is cleared for streaming.
type Prepared struct {
	Input       TurnInput
	UserMessage *store.Message
	Rejected    bool
	Rejection   string
}

// Prepare runs the non-streaming head of the state machine: validate,
// persist the user message, moderate. It returns a *Error whose code maps
// to the HTTP status, which is still free to choose because no stream has
// opened yet.
//
// The user message is made durable before moderation so it survives every
// downstream failure.
func (o *Orchestrator) Prepare(ctx context.Context, req SendRequest) (*Prepared, error) {
	input, err := ValidateSendRequest(req)
	if err != nil {
		return nil, err
	}

	userMsg, err := o.store.CreateMessage(ctx, store.CreateMessageParams{
		ConversationID: input.ConversationID,
		Role:           store.RoleUser,
		Content:        input.Content,
		FileID:         input.FileID,
	})
	if err != nil {
		return nil, NewError(CodeInternal, fmt.Errorf("persist user message: %w", err))
	}

	allowed, err := o.moderator.Moderate(ctx, input.Content)
	if err != nil {
		// The user message is already durable; only the response is lost.
		return nil, Classify(err)
	}

	if !allowed {
		rejection := i18n.T("chat.rejection")
		if _, err := o.store.CreateMessage(ctx, store.CreateMessageParams{
			ConversationID: input.ConversationID,
			Role:           store.RoleAssistant,
			Content:        rejection,
		}); err != nil {
			return nil, NewError(CodeInternal, fmt.Errorf("persist rejection: %w", err))
		}
		if err := o.store.TouchConversation(ctx, input.ConversationID); err != nil {
			o.logger.Warn("touch conversation after rejection", "error", err)
		}
		return &Prepared{Input: input, UserMessage: userMsg, Rejected: true, Rejection: rejection}, nil
	}

	return &Prepared{Input: input, UserMessage: userMsg}, nil
}

// Stream runs the streaming tail of the state machine and always leaves
// sink with exactly one terminal event. The HTTP status is already sent
// when this runs; every failure travels as an error event.
func (o *Orchestrator) Stream(ctx context.Context, p *Prepared, sink EventSink) {
	turn := newTurn(p.Input.ConversationID, p.UserMessage.ID, sink)
	ctx = ContextWithTurn(ctx, turn)

	history, err := o.history(ctx, p)
	if err != nil {
		o.fail(ctx, turn, err)
		return
	}

	// An empty history means this was the conversation's first message;
	// name the conversation once the stream has finished either way.
	if len(history) == 0 {
		defer o.setTitle(ctx, p)
	}

	fileCtx, err := o.fileCtx.Build(ctx, p.Input.ConversationID)
	if err != nil {
		// Degrade to a context-free generation rather than failing the turn.
		o.logger.Warn("file context unavailable",
			"conversation_id", p.Input.ConversationID, "error", err)
		fileCtx = &files.Context{}
	}

	err = o.engine.Stream(ctx, StreamInput{
		History:     history,
		UserMessage: p.Input.Content,
		FileContext: fileCtx,
	}, func(_ context.Context, text string) error {
		return turn.AppendText(text)
	})
	if err != nil {
		o.fail(ctx, turn, err)
		return
	}

	o.finalize(ctx, turn, sink)
}

// setTitle names the conversation from its first user message, preferring
// the model-generated title and falling back to truncation. Failures only
// log; the turn's outcome never depends on the title.
func (o *Orchestrator) setTitle(ctx context.Context, p *Prepared) {
	title := ""
	if o.titles != nil {
		generated, err := o.titles.Title(ctx, p.Input.Content)
		if err != nil {
			o.logger.Debug("title generation failed, using truncation", "error", err)
		} else {
			title = generated
		}
	}
	if title == "" {
		title = fallbackTitle(p.Input.Content)
	}
	if title == "" {
		return
	}

	if err := o.store.SetConversationTitle(ctx, p.Input.ConversationID, title); err != nil {
		o.logger.Warn("set conversation title",
			"conversation_id", p.Input.ConversationID, "error", err)
	}
}

// history returns prior messages excluding the just-persisted user message,
// which goes to the model separately as the new input.
func (o *Orchestrator) history(ctx context.Context, p *Prepared) ([]*store.Message, error) {
	msgs, err := o.store.Messages(ctx, p.Input.ConversationID, o.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID != p.UserMessage.ID {
			out = append(out, m)
		}
	}
	return out, nil
}

// finalize persists the completed assistant message, markers stripped, and
// emits the done event.
func (o *Orchestrator) finalize(ctx context.Context, turn *Turn, sink EventSink) {
	content := stripMarkers(turn.Text())
	if content == "" && turn.toolCompleted {
		// The model sometimes stops after the tool call without a
		// closing sentence; substitute one so the message is not blank.
		content = i18n.T("chat.fallback")
	}

	if turn.assistantID != nil {
		if _, err := o.store.UpdateMessageContent(ctx, *turn.assistantID, content); err != nil {
			o.fail(ctx, turn, fmt.Errorf("finalize assistant message: %w", err))
			return
		}
	} else {
		if _, err := o.store.CreateMessage(ctx, store.CreateMessageParams{
			ConversationID: turn.conversationID,
			Role:           store.RoleAssistant,
			Content:        content,
		}); err != nil {
			o.fail(ctx, turn, fmt.Errorf("finalize assistant message: %w", err))
			return
		}
	}

	if err := o.store.TouchConversation(ctx, turn.conversationID); err != nil {
		o.logger.Warn("touch conversation", "conversation_id", turn.conversationID, "error", err)
	}

	if err := sink.Send(DoneEvent()); err != nil {
		o.logger.Debug("client gone before done event", "error", err)
	}
}

// fail is the partial-failure path: whatever text accumulated is persisted
// with a cut-short notice, the conversation timestamp is refreshed, and a
// classified terminal error event is emitted. Generated content is never
// lost to a provider fault or disconnect.
func (o *Orchestrator) fail(ctx context.Context, turn *Turn, cause error) {
	classified := Classify(cause)
	o.logger.Error("turn failed",
		"conversation_id", turn.conversationID,
		"code", classified.Code,
		"error", cause)

	text := stripMarkers(turn.Text())
	if text == "" && turn.toolCompleted {
		// The tool finished before any text streamed; the turn still has
		// recorded content worth keeping.
		text = i18n.T("chat.fallback")
	}

	// An existing assistant row counts as recorded content even when the
	// buffer is empty: it must not be abandoned blank.
	if text != "" || turn.assistantID != nil {
		content := strings.TrimSpace(text + i18n.T("chat.cut_short"))
		if turn.assistantID != nil {
			if _, err := o.store.UpdateMessageContent(ctx, *turn.assistantID, content); err != nil {
				o.logger.Error("persist partial content", "error", err)
			}
		} else {
			if _, err := o.store.CreateMessage(ctx, store.CreateMessageParams{
				ConversationID: turn.conversationID,
				Role:           store.RoleAssistant,
				Content:        content,
			}); err != nil {
				o.logger.Error("persist partial content", "error", err)
			}
		}
		if err := o.store.TouchConversation(ctx, turn.conversationID); err != nil {
			o.logger.Warn("touch conversation", "conversation_id", turn.conversationID, "error", err)
		}
	}

	if err := turn.sink.Send(ErrorEvent(classified.Message)); err != nil {
		o.logger.Debug("client gone before error event", "error", err)
	}
}
