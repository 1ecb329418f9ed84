package store

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// User represents an authenticated account. Account management itself lives
// outside this service; rows are provisioned externally.
type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	CreatedAt time.Time
}

// Conversation represents a chat thread owned by a user.
//
// UpdatedAt is the sort key for conversation lists and is refreshed on every
// message-producing interaction, including rejections and partial failures
// that recorded content.
type Conversation struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Title     string // empty when untitled
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single conversation message. Messages are immutable once
// created except for two controlled mutations: content replacement (to
// finalize a message created before its content was fully known) and
// non-destructive metadata merge.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	Metadata       map[string]any
	FileID         *uuid.UUID
	CreatedAt      time.Time
}

// File describes an uploaded spreadsheet stored in object storage.
// ObjectKey locates the bytes in the bucket.
type File struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	ConversationID uuid.UUID
	Name           string
	ObjectKey      string
	SizeBytes      int64
	CreatedAt      time.Time
}

// CreateMessageParams are the inputs for Store.CreateMessage.
type CreateMessageParams struct {
	ConversationID uuid.UUID
	Role           string
	Content        string
	FileID         *uuid.UUID
}
