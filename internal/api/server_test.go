package api

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/mesura-ai/mesura/internal/chat"
	"github.com/mesura-ai/mesura/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeOrchestrator scripts Prepare/Stream outcomes for handler tests.
type fakeOrchestrator struct {
	prepareErr error
	prepared   *chat.Prepared
	events     []chat.Event
}

func (f *fakeOrchestrator) Prepare(_ context.Context, req chat.SendRequest) (*chat.Prepared, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	if f.prepared != nil {
		return f.prepared, nil
	}
	input, err := chat.ValidateSendRequest(req)
	if err != nil {
		return nil, err
	}
	return &chat.Prepared{
		Input:       input,
		UserMessage: &store.Message{ID: uuid.New(), ConversationID: input.ConversationID},
	}, nil
}

func (f *fakeOrchestrator) Stream(_ context.Context, _ *chat.Prepared, sink chat.EventSink) {
	for _, e := range f.events {
		if err := sink.Send(e); err != nil {
			return
		}
	}
}

// fakeUsers resolves a single token.
type fakeUsers struct {
	token string
	user  *store.User
}

func (f *fakeUsers) GetUserByToken(_ context.Context, token string) (*store.User, error) {
	if f.user != nil && token == f.token {
		return f.user, nil
	}
	return nil, store.ErrUserNotFound
}

// fakeReader is an in-memory ConversationReader.
type fakeReader struct {
	conversations []*store.Conversation
	messages      map[uuid.UUID][]*store.Message
}

func (f *fakeReader) GetConversation(_ context.Context, id uuid.UUID) (*store.Conversation, error) {
	for _, c := range f.conversations {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, store.ErrConversationNotFound
}

func (f *fakeReader) ListConversations(_ context.Context, ownerID uuid.UUID, limit, offset int32) ([]*store.Conversation, error) {
	var out []*store.Conversation
	for _, c := range f.conversations {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeReader) Messages(_ context.Context, conversationID uuid.UUID, limit int32) ([]*store.Message, error) {
	return f.messages[conversationID], nil
}

func newTestServer(t *testing.T, orch ChatOrchestrator, reader ConversationReader, users UserResolver) *Server {
	t.Helper()
	if reader == nil {
		reader = &fakeReader{}
	}
	srv, err := NewServer(ServerConfig{
		Orchestrator: orch,
		Store:        reader,
		Users:        users,
		RateBurst:    1000,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}
