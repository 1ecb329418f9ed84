package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Turn holds the mutable state of one request/response cycle. The flow per
// turn is sequential (persistence, moderation, generation and the tool call
// never run concurrently with each other), so no locking is needed.
type Turn struct {
	conversationID uuid.UUID
	userMessageID  uuid.UUID
	sink           EventSink

	buf strings.Builder

	// assistantID is set once the assistant row exists, either lazily on
	// the first tool call or at finalization.
	assistantID *uuid.UUID

	// toolCompleted records that an analysis finished successfully, which
	// selects the fallback sentence when marker stripping empties the text.
	toolCompleted bool
}

func newTurn(conversationID, userMessageID uuid.UUID, sink EventSink) *Turn {
	return &Turn{
		conversationID: conversationID,
		userMessageID:  userMessageID,
		sink:           sink,
	}
}

// AppendText accumulates generated text and forwards it to the client.
// A sink failure means the client disconnected and ends the turn.
func (t *Turn) AppendText(text string) error {
	t.buf.WriteString(text)
	return t.sink.Send(TextEvent(text))
}

// AppendMarker adds text to the buffer without emitting it. Used for the
// machine-readable tool marker the continuation sees but the client and the
// stored message never do.
func (t *Turn) AppendMarker(marker string) {
	t.buf.WriteString(marker)
}

// Text returns the accumulated raw buffer, markers included.
func (t *Turn) Text() string { return t.buf.String() }

// turnKey carries the active Turn through the generate call into the tool
// handler.
type turnKey struct{}

// ContextWithTurn stores the turn in ctx for the tool handler.
func ContextWithTurn(ctx context.Context, t *Turn) context.Context {
	return context.WithValue(ctx, turnKey{}, t)
}

// TurnFromContext retrieves the active turn, or nil outside a stream.
func TurnFromContext(ctx context.Context) *Turn {
	t, _ := ctx.Value(turnKey{}).(*Turn)
	return t
}
