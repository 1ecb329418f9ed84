package files

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mesura-ai/mesura/internal/store"
)

type fakeLister struct {
	files []*store.File
	err   error
}

func (f *fakeLister) ListConversationFiles(_ context.Context, _ uuid.UUID) ([]*store.File, error) {
	return f.files, f.err
}

type fakeObjects struct {
	data map[string][]byte
	err  error
}

func (f *fakeObjects) Read(_ context.Context, key string, _ int64) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[key], nil
}

func TestContextBuilderBuild(t *testing.T) {
	t.Parallel()

	fileID := uuid.New()
	lister := &fakeLister{files: []*store.File{
		{ID: fileID, Name: "mediciones.csv", ObjectKey: "obj/mediciones"},
	}}
	objects := &fakeObjects{data: map[string][]byte{
		"obj/mediciones": []byte("Parte,Operador,Medicion\n1,A,9.98\n"),
	}}

	b := NewContextBuilder(lister, objects, nil)
	fc, err := b.Build(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if fc.Empty() {
		t.Fatal("Build() returned empty context")
	}
	got := fc.Files[0].Columns
	want := []string{"Parte", "Operador", "Medicion"}
	if len(got) != len(want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	block := fc.PromptBlock()
	if !strings.Contains(block, "mediciones.csv") || !strings.Contains(block, fileID.String()) {
		t.Errorf("PromptBlock() = %q, missing file name or id", block)
	}
}

func TestContextBuilderNoFiles(t *testing.T) {
	t.Parallel()

	b := NewContextBuilder(&fakeLister{}, &fakeObjects{}, nil)
	fc, err := b.Build(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !fc.Empty() {
		t.Errorf("Build() = %+v, want empty", fc)
	}
	if fc.PromptBlock() != "" {
		t.Errorf("PromptBlock() = %q, want empty", fc.PromptBlock())
	}
}

func TestContextBuilderObjectReadFailure(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{files: []*store.File{
		{ID: uuid.New(), Name: "datos.csv", ObjectKey: "missing"},
	}}
	objects := &fakeObjects{err: errors.New("connection refused")}

	b := NewContextBuilder(lister, objects, nil)
	fc, err := b.Build(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Build() error = %v, want graceful degradation", err)
	}
	if fc.Empty() {
		t.Fatal("file should still be listed without columns")
	}
	if len(fc.Files[0].Columns) != 0 {
		t.Errorf("columns = %v, want none", fc.Files[0].Columns)
	}
}

func TestHeaderColumns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want int
	}{
		{"plain", "a,b,c\n1,2,3", 3},
		{"quoted crlf", "\"Parte\",\"Valor\"\r\n1,2", 2},
		{"empty", "", 0},
		{"blank line", "\n1,2", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := headerColumns([]byte(tt.data)); len(got) != tt.want {
				t.Errorf("headerColumns(%q) = %v, want %d columns", tt.data, got, tt.want)
			}
		})
	}
}
