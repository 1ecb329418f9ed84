package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mesura-ai/mesura/internal/analysis"
	"github.com/mesura-ai/mesura/internal/files"
	"github.com/mesura-ai/mesura/internal/store"
)

// fakeStore is an in-memory ConversationStore recording every call.
type fakeStore struct {
	mu        sync.Mutex
	messages  []*store.Message
	touched   map[uuid.UUID]int
	titles    map[uuid.UUID]string
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		touched: make(map[uuid.UUID]int),
		titles:  make(map[uuid.UUID]string),
	}
}

func (f *fakeStore) CreateMessage(_ context.Context, p store.CreateMessageParams) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	m := &store.Message{
		ID:             uuid.New(),
		ConversationID: p.ConversationID,
		Role:           p.Role,
		Content:        p.Content,
		Metadata:       map[string]any{},
		FileID:         p.FileID,
		CreatedAt:      time.Now(),
	}
	f.messages = append(f.messages, m)
	return m, nil
}

func (f *fakeStore) Messages(_ context.Context, conversationID uuid.UUID, limit int32) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if int32(len(out)) > limit {
		out = out[int32(len(out))-limit:]
	}
	return out, nil
}

func (f *fakeStore) UpdateMessageMetadata(_ context.Context, id uuid.UUID, patch map[string]any) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			for k, v := range patch {
				m.Metadata[k] = v
			}
			return m, nil
		}
	}
	return nil, store.ErrMessageNotFound
}

func (f *fakeStore) UpdateMessageContent(_ context.Context, id uuid.UUID, content string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			m.Content = content
			return m, nil
		}
	}
	return nil, store.ErrMessageNotFound
}

func (f *fakeStore) TouchConversation(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id]++
	return nil
}

func (f *fakeStore) SetConversationTitle(_ context.Context, id uuid.UUID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[id] = title
	return nil
}

func (f *fakeStore) title(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.titles[id]
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeStore) byRole(role string) []*store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Message
	for _, m := range f.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type fakeModerator struct {
	allowed bool
	err     error
	calls   int
	// seen records how many messages existed in the store when the gate ran.
	seen int
	st   *fakeStore
}

func (f *fakeModerator) Moderate(context.Context, string) (bool, error) {
	f.calls++
	if f.st != nil {
		f.seen = f.st.count()
	}
	return f.allowed, f.err
}

type fakeFileContext struct {
	ctx *files.Context
	err error
}

func (f *fakeFileContext) Build(context.Context, uuid.UUID) (*files.Context, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.ctx == nil {
		return &files.Context{}, nil
	}
	return f.ctx, nil
}

// fakeEngine replays a scripted generation: text chunks and an optional
// mid-stream tool call driven through the real coordinator.
type fakeEngine struct {
	chunks      []string
	toolAfter   int // run the tool call after this many chunks; -1 disables
	toolInput   AnalyzeInput
	coordinator *Coordinator
	failAfter   int // return failErr after this many chunks; -1 disables
	failErr     error
}

func (f *fakeEngine) Stream(ctx context.Context, _ StreamInput, onText func(context.Context, string) error) error {
	for i, chunk := range f.chunks {
		if err := onText(ctx, chunk); err != nil {
			return err
		}
		if f.toolAfter >= 0 && i == f.toolAfter && f.coordinator != nil {
			if _, err := f.coordinator.handle(ctx, f.toolInput); err != nil {
				return err
			}
		}
		if f.failAfter >= 0 && i == f.failAfter {
			return f.failErr
		}
	}
	// toolAfter past the last chunk runs the tool with nothing streamed.
	if f.toolAfter >= len(f.chunks) && f.coordinator != nil {
		if _, err := f.coordinator.handle(ctx, f.toolInput); err != nil {
			return err
		}
	}
	if f.failAfter >= len(f.chunks) && f.failErr != nil {
		return f.failErr
	}
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Send(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type fakeInvoker struct {
	result *analysis.Result
	err    error
	calls  int
}

func (f *fakeInvoker) Invoke(context.Context, string, uuid.UUID, uuid.UUID) (*analysis.Result, error) {
	f.calls++
	return f.result, f.err
}

func quickRetry() RetryOptions {
	return RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
}

func newTestOrchestrator(st *fakeStore, mod *fakeModerator, eng GenerationEngine) *Orchestrator {
	return NewOrchestrator(st, mod, &fakeFileContext{}, eng, nil, 50, nil)
}

func TestPrepareInvalidIDNoPersistence(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	o := newTestOrchestrator(st, &fakeModerator{allowed: true}, &fakeEngine{toolAfter: -1, failAfter: -1})

	_, err := o.Prepare(context.Background(), SendRequest{ConversationID: "garbage", Content: "hola"})
	var classified *Error
	if !errors.As(err, &classified) || classified.Code != CodeValidation {
		t.Fatalf("Prepare() error = %v, want %s", err, CodeValidation)
	}
	if st.count() != 0 {
		t.Errorf("store has %d messages after validation failure, want 0", st.count())
	}
}

func TestPrepareDurabilityBeforeModeration(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	mod := &fakeModerator{allowed: true, st: st}
	o := newTestOrchestrator(st, mod, &fakeEngine{toolAfter: -1, failAfter: -1})

	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: uuid.NewString(), Content: "hola"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if mod.calls != 1 {
		t.Fatalf("moderator called %d times, want 1", mod.calls)
	}
	if mod.seen != 1 {
		t.Errorf("store had %d messages when the gate ran, want exactly 1", mod.seen)
	}
	if p.UserMessage == nil || p.UserMessage.Role != store.RoleUser {
		t.Errorf("UserMessage = %+v", p.UserMessage)
	}
}

func TestPrepareRejection(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	convID := uuid.New()
	o := newTestOrchestrator(st, &fakeModerator{allowed: false}, &fakeEngine{toolAfter: -1, failAfter: -1})

	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: convID.String(), Content: "recetas de cocina"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !p.Rejected || p.Rejection == "" {
		t.Fatalf("Prepared = %+v, want rejection", p)
	}
	if st.count() != 2 {
		t.Errorf("store has %d messages after rejection, want 2 (user + rejection)", st.count())
	}
	if st.touched[convID] == 0 {
		t.Error("conversation not touched after rejection")
	}
}

func TestPrepareModerationFailureClassified(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	mod := &fakeModerator{err: &analysis.ServiceError{Status: 429, Message: "quota"}}
	o := newTestOrchestrator(st, mod, &fakeEngine{toolAfter: -1, failAfter: -1})

	_, err := o.Prepare(context.Background(), SendRequest{ConversationID: uuid.NewString(), Content: "hola"})
	var classified *Error
	if !errors.As(err, &classified) || classified.Code != CodeRateLimit {
		t.Fatalf("Prepare() error = %v, want %s", err, CodeRateLimit)
	}
	// The user message survives the moderation failure.
	if st.count() != 1 {
		t.Errorf("store has %d messages, want the durable user message", st.count())
	}
}

func TestStreamPlainCompletion(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	convID := uuid.New()
	eng := &fakeEngine{chunks: []string{"El estudio ", "se ve ", "bien."}, toolAfter: -1, failAfter: -1}
	o := newTestOrchestrator(st, &fakeModerator{allowed: true}, eng)

	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: convID.String(), Content: "hola"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	sink := &recordingSink{}
	o.Stream(context.Background(), p, sink)

	assistants := st.byRole(store.RoleAssistant)
	if len(assistants) != 1 {
		t.Fatalf("got %d assistant messages, want 1", len(assistants))
	}
	if got := assistants[0].Content; got != "El estudio se ve bien." {
		t.Errorf("assistant content = %q, want concatenated text chunks", got)
	}

	events := sink.all()
	if len(events) != 4 {
		t.Fatalf("got %d events %v, want 3 text + done", len(events), events)
	}
	for i := 0; i < 3; i++ {
		if events[i].Type != EventText {
			t.Errorf("event[%d].Type = %s, want text", i, events[i].Type)
		}
	}
	if events[3].Type != EventDone {
		t.Errorf("terminal event = %s, want done", events[3].Type)
	}
	if st.touched[convID] == 0 {
		t.Error("conversation not touched after completion")
	}
}

func TestStreamToolCallSuccess(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	convID := uuid.New()
	fileID := uuid.New()
	invoker := &fakeInvoker{result: &analysis.Result{
		AnalysisType: analysis.TypeGageRR,
		Results:      json.RawMessage(`{"grr":12.4}`),
		ChartData:    json.RawMessage(`{"series":[]}`),
		Instructions: "Presenta %GRR.",
	}}
	coord := NewCoordinator(invoker, st, quickRetry(), nil)
	eng := &fakeEngine{
		chunks:      []string{"Voy a ejecutar el estudio. ", "El %GRR es 12.4%, aceptable."},
		toolAfter:   0,
		toolInput:   AnalyzeInput{AnalysisType: analysis.TypeGageRR, FileID: fileID.String()},
		coordinator: coord,
		failAfter:   -1,
	}
	o := newTestOrchestrator(st, &fakeModerator{allowed: true}, eng)

	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: convID.String(), Content: "corre el gage r&r"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	sink := &recordingSink{}
	o.Stream(context.Background(), p, sink)

	assistants := st.byRole(store.RoleAssistant)
	if len(assistants) != 1 {
		t.Fatalf("got %d assistant messages, want 1", len(assistants))
	}
	meta := assistants[0].Metadata
	if meta["results"] == nil || meta["chartData"] == nil {
		t.Errorf("metadata = %v, want results and chartData", meta)
	}
	if strings.Contains(assistants[0].Content, "[[analysis:") {
		t.Errorf("persisted content %q still has a marker", assistants[0].Content)
	}

	var toolSeq []string
	for _, e := range sink.all() {
		switch e.Type {
		case EventToolCall:
			toolSeq = append(toolSeq, "tool_call:"+e.Status)
		case EventToolResult:
			toolSeq = append(toolSeq, "tool_result")
		}
	}
	want := []string{"tool_call:processing", "tool_result", "tool_call:complete"}
	if len(toolSeq) != len(want) {
		t.Fatalf("tool event sequence = %v, want %v", toolSeq, want)
	}
	for i := range want {
		if toolSeq[i] != want[i] {
			t.Fatalf("tool event sequence = %v, want %v", toolSeq, want)
		}
	}

	final := sink.all()[len(sink.all())-1]
	if final.Type != EventDone {
		t.Errorf("terminal event = %s, want done", final.Type)
	}
}

func TestStreamToolValidationErrorDoesNotAbort(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	invoker := &fakeInvoker{err: &analysis.ServiceError{
		Status:  422,
		Code:    "FILE_VALIDATION_ERROR",
		Message: "filas inválidas",
		ValidationErrors: []analysis.RowError{
			{Row: 3, Column: "Medicion", Message: "valor no numérico"},
		},
	}}
	coord := NewCoordinator(invoker, st, quickRetry(), nil)
	eng := &fakeEngine{
		chunks:      []string{"Intentaré el análisis. ", "El archivo tiene errores en la fila 3."},
		toolAfter:   0,
		toolInput:   AnalyzeInput{AnalysisType: analysis.TypeCapability, FileID: uuid.NewString()},
		coordinator: coord,
		failAfter:   -1,
	}
	o := newTestOrchestrator(st, &fakeModerator{allowed: true}, eng)

	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: uuid.NewString(), Content: "capacidad"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	sink := &recordingSink{}
	o.Stream(context.Background(), p, sink)

	var toolSeq []string
	for _, e := range sink.all() {
		switch e.Type {
		case EventToolCall:
			toolSeq = append(toolSeq, "tool_call:"+e.Status)
		case EventToolResult:
			if e.Err != "" {
				toolSeq = append(toolSeq, "tool_result:error")
			} else {
				toolSeq = append(toolSeq, "tool_result")
			}
		}
	}
	want := []string{"tool_call:processing", "tool_result:error", "tool_call:error"}
	if len(toolSeq) != len(want) {
		t.Fatalf("tool event sequence = %v, want %v", toolSeq, want)
	}
	for i := range want {
		if toolSeq[i] != want[i] {
			t.Fatalf("tool event sequence = %v, want %v", toolSeq, want)
		}
	}

	events := sink.all()
	if events[len(events)-1].Type != EventDone {
		t.Errorf("terminal event = %s, want done (turn not aborted)", events[len(events)-1].Type)
	}
}

func TestStreamPartialFailurePersistsText(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	convID := uuid.New()
	eng := &fakeEngine{
		chunks:    []string{"Partial "},
		toolAfter: -1,
		failAfter: 0,
		failErr:   errors.New("stream reset by provider"),
	}
	o := newTestOrchestrator(st, &fakeModerator{allowed: true}, eng)

	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: convID.String(), Content: "hola"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	sink := &recordingSink{}
	o.Stream(context.Background(), p, sink)

	assistants := st.byRole(store.RoleAssistant)
	if len(assistants) != 1 {
		t.Fatalf("got %d assistant messages, want 1", len(assistants))
	}
	if !strings.HasPrefix(assistants[0].Content, "Partial") {
		t.Errorf("content = %q, want the partial text preserved", assistants[0].Content)
	}
	if assistants[0].Content == "Partial " {
		t.Error("content has no cut-short notice appended")
	}

	events := sink.all()
	if events[len(events)-1].Type != EventError {
		t.Errorf("terminal event = %s, want error", events[len(events)-1].Type)
	}
	if st.touched[convID] == 0 {
		t.Error("conversation not touched after partial failure")
	}
}

func TestStreamFailureAfterToolNoDuplicateRow(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	invoker := &fakeInvoker{result: &analysis.Result{
		AnalysisType: analysis.TypeGageRR,
		Results:      json.RawMessage(`{}`),
		ChartData:    json.RawMessage(`{}`),
	}}
	coord := NewCoordinator(invoker, st, quickRetry(), nil)
	eng := &fakeEngine{
		chunks:      []string{"Partial "},
		toolAfter:   0,
		toolInput:   AnalyzeInput{AnalysisType: analysis.TypeGageRR, FileID: uuid.NewString()},
		coordinator: coord,
		failAfter:   0,
		failErr:     errors.New("provider dropped mid-continuation"),
	}
	o := newTestOrchestrator(st, &fakeModerator{allowed: true}, eng)

	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: uuid.NewString(), Content: "gage"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	sink := &recordingSink{}
	o.Stream(context.Background(), p, sink)

	assistants := st.byRole(store.RoleAssistant)
	if len(assistants) != 1 {
		t.Fatalf("got %d assistant messages, want 1 (no duplicate)", len(assistants))
	}
	if !strings.HasPrefix(assistants[0].Content, "Partial") {
		t.Errorf("content = %q, want partial text preserved in the tool-created row", assistants[0].Content)
	}
}

func TestStreamFallbackWhenToolOnlyResponse(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	invoker := &fakeInvoker{result: &analysis.Result{
		AnalysisType: analysis.TypeDescriptive,
		Results:      json.RawMessage(`{}`),
		ChartData:    json.RawMessage(`{}`),
	}}
	coord := NewCoordinator(invoker, st, quickRetry(), nil)
	// The model calls the tool and then stops without any text.
	eng := &fakeEngine{
		chunks:      []string{""},
		toolAfter:   0,
		toolInput:   AnalyzeInput{AnalysisType: analysis.TypeDescriptive, FileID: uuid.NewString()},
		coordinator: coord,
		failAfter:   -1,
	}
	o := newTestOrchestrator(st, &fakeModerator{allowed: true}, eng)

	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: uuid.NewString(), Content: "descriptiva"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	sink := &recordingSink{}
	o.Stream(context.Background(), p, sink)

	assistants := st.byRole(store.RoleAssistant)
	if len(assistants) != 1 {
		t.Fatalf("got %d assistant messages, want 1", len(assistants))
	}
	if assistants[0].Content == "" {
		t.Error("assistant content empty, want the fallback sentence")
	}
	if strings.Contains(assistants[0].Content, "[[analysis:") {
		t.Errorf("content %q still has a marker", assistants[0].Content)
	}
}

func TestStreamFailureAfterToolOnlyTurnKeepsRow(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	convID := uuid.New()
	invoker := &fakeInvoker{result: &analysis.Result{
		AnalysisType: analysis.TypeNormality,
		Results:      json.RawMessage(`{}`),
		ChartData:    json.RawMessage(`{}`),
	}}
	coord := NewCoordinator(invoker, st, quickRetry(), nil)
	// The tool finishes before any text streams, then the provider drops.
	eng := &fakeEngine{
		toolAfter:   0,
		toolInput:   AnalyzeInput{AnalysisType: analysis.TypeNormality, FileID: uuid.NewString()},
		coordinator: coord,
		failAfter:   0,
		failErr:     errors.New("provider dropped after tool"),
	}
	o := newTestOrchestrator(st, &fakeModerator{allowed: true}, eng)

	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: convID.String(), Content: "normalidad"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	sink := &recordingSink{}
	o.Stream(context.Background(), p, sink)

	assistants := st.byRole(store.RoleAssistant)
	if len(assistants) != 1 {
		t.Fatalf("got %d assistant messages, want 1", len(assistants))
	}
	if assistants[0].Content == "" {
		t.Error("assistant content empty, want the fallback sentence with the cut-short notice")
	}
	if st.touched[convID] == 0 {
		t.Error("conversation not touched after failure with recorded content")
	}

	final := sink.all()[len(sink.all())-1]
	if final.Type != EventError {
		t.Errorf("terminal event = %s, want error", final.Type)
	}
}

type fakeTitler struct {
	title string
	err   error
	calls int
}

func (f *fakeTitler) Title(context.Context, string) (string, error) {
	f.calls++
	return f.title, f.err
}

func TestStreamFirstTurnSetsTitle(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	convID := uuid.New()
	titler := &fakeTitler{title: "Estudio Gage R&R del eje"}
	eng := &fakeEngine{chunks: []string{"Claro, veamos tu estudio."}, toolAfter: -1, failAfter: -1}
	o := NewOrchestrator(st, &fakeModerator{allowed: true}, &fakeFileContext{}, eng, titler, 50, nil)

	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: convID.String(), Content: "ayúdame con mi gage r&r"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	o.Stream(context.Background(), p, &recordingSink{})

	if got := st.title(convID); got != "Estudio Gage R&R del eje" {
		t.Errorf("title = %q, want the generated title", got)
	}
	if titler.calls != 1 {
		t.Errorf("titler calls = %d, want 1", titler.calls)
	}

	// A later turn sees prior history and must not rename the conversation.
	titler.title = "otro título"
	p2, err := o.Prepare(context.Background(), SendRequest{ConversationID: convID.String(), Content: "y la capacidad?"})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	o.Stream(context.Background(), p2, &recordingSink{})

	if got := st.title(convID); got != "Estudio Gage R&R del eje" {
		t.Errorf("title = %q, want it unchanged after the second turn", got)
	}
	if titler.calls != 1 {
		t.Errorf("titler calls = %d, want still 1", titler.calls)
	}
}

func TestStreamTitleFallsBackToTruncation(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	convID := uuid.New()
	titler := &fakeTitler{err: errors.New("model unavailable")}
	eng := &fakeEngine{chunks: []string{"ok"}, toolAfter: -1, failAfter: -1}
	o := NewOrchestrator(st, &fakeModerator{allowed: true}, &fakeFileContext{}, eng, titler, 50, nil)

	content := "necesito revisar la repetibilidad y reproducibilidad de mi sistema de medición del diámetro"
	p, err := o.Prepare(context.Background(), SendRequest{ConversationID: convID.String(), Content: content})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	o.Stream(context.Background(), p, &recordingSink{})

	got := st.title(convID)
	if got == "" {
		t.Fatal("title empty, want the truncation fallback")
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("title = %q, want it truncated with ellipsis", got)
	}
	if n := len([]rune(got)); n > titleMaxLength+3 {
		t.Errorf("title length = %d runes, want at most %d", n, titleMaxLength+3)
	}
}
