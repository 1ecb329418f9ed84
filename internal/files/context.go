package files

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mesura-ai/mesura/internal/log"
	"github.com/mesura-ai/mesura/internal/store"
)

// previewBytes bounds how much of each object is read for the column
// preview. Spreadsheet headers fit comfortably in the first few KiB.
const previewBytes = 8 * 1024

// FileInfo summarizes one uploaded file for the model.
type FileInfo struct {
	ID      uuid.UUID
	Name    string
	Columns []string
}

// Context is the file context injected into the system prompt. Empty Files
// means the conversation has no usable uploads.
type Context struct {
	Files []FileInfo
}

// Empty reports whether no file context is available.
func (c *Context) Empty() bool {
	return c == nil || len(c.Files) == 0
}

// PromptBlock renders the context as a prompt fragment listing each file's
// ID, name and detected columns.
func (c *Context) PromptBlock() string {
	if c.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Archivos disponibles para análisis:\n")
	for _, f := range c.Files {
		fmt.Fprintf(&b, "- %s (id: %s)", f.Name, f.ID)
		if len(f.Columns) > 0 {
			fmt.Fprintf(&b, ", columnas: %s", strings.Join(f.Columns, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// fileLister is the store surface the builder needs.
type fileLister interface {
	ListConversationFiles(ctx context.Context, conversationID uuid.UUID) ([]*store.File, error)
}

// objectReader reads stored object bytes.
type objectReader interface {
	Read(ctx context.Context, key string, limit int64) ([]byte, error)
}

// ContextBuilder assembles file context for a conversation.
type ContextBuilder struct {
	store   fileLister
	objects objectReader
	logger  log.Logger
}

// NewContextBuilder creates a ContextBuilder.
func NewContextBuilder(st fileLister, objects objectReader, logger log.Logger) *ContextBuilder {
	if logger == nil {
		logger = log.NewNop()
	}
	return &ContextBuilder{store: st, objects: objects, logger: logger}
}

// Build returns the file context for conversationID. Failures reading a
// single object are logged and that file is listed without columns; the
// turn proceeds either way.
func (b *ContextBuilder) Build(ctx context.Context, conversationID uuid.UUID) (*Context, error) {
	rows, err := b.store.ListConversationFiles(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list conversation files: %w", err)
	}
	if len(rows) == 0 {
		return &Context{}, nil
	}

	fc := &Context{Files: make([]FileInfo, 0, len(rows))}
	for _, f := range rows {
		info := FileInfo{ID: f.ID, Name: f.Name}
		data, err := b.objects.Read(ctx, f.ObjectKey, previewBytes)
		if err != nil {
			b.logger.Warn("file preview unavailable",
				"file_id", f.ID, "object_key", f.ObjectKey, "error", err)
		} else {
			info.Columns = headerColumns(data)
		}
		fc.Files = append(fc.Files, info)
	}
	return fc, nil
}

// headerColumns extracts column names from the first line of a CSV payload.
func headerColumns(data []byte) []string {
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSuffix(strings.TrimSpace(line), "\r")
	if line == "" {
		return nil
	}
	parts := strings.Split(line, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		if p != "" {
			cols = append(cols, p)
		}
	}
	return cols
}
