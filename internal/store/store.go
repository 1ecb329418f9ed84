// Package store manages conversation persistence with a PostgreSQL backend.
//
// The store exposes the controlled mutations the chat core relies on:
// message creation, content replacement, non-destructive metadata merge and
// conversation timestamp refresh. Everything else about a message is
// immutable after creation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mesura-ai/mesura/internal/log"
)

// Querier is the subset of pgx operations the store needs. *pgxpool.Pool
// satisfies it; tests may supply a fake.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides conversation, message, file and user persistence.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	db     Querier
	logger log.Logger
}

// New creates a Store backed by db.
func New(db Querier, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

const messageColumns = "id, conversation_id, role, content, metadata, file_id, created_at"

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Metadata, &m.FileID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMessage inserts a new message and returns the stored row.
func (s *Store) CreateMessage(ctx context.Context, p CreateMessageParams) (*Message, error) {
	if !slices.Contains([]string{RoleUser, RoleAssistant, RoleSystem}, p.Role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, p.Role)
	}

	msg, err := scanMessage(s.db.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, role, content, file_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+messageColumns,
		p.ConversationID, p.Role, p.Content, p.FileID))
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	s.logger.Debug("created message",
		"message_id", msg.ID, "conversation_id", msg.ConversationID, "role", msg.Role)
	return msg, nil
}

// Messages returns the most recent messages of a conversation in
// chronological order, capped at limit.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM (
		     SELECT `+messageColumns+`
		     FROM messages
		     WHERE conversation_id = $1
		     ORDER BY created_at DESC, id DESC
		     LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Metadata, &m.FileID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	return messages, nil
}

// UpdateMessageMetadata merges patch into the message's metadata. The merge
// is non-destructive: keys in patch overwrite, all other keys are preserved.
func (s *Store) UpdateMessageMetadata(ctx context.Context, id uuid.UUID, patch map[string]any) (*Message, error) {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata patch: %w", err)
	}

	msg, err := scanMessage(s.db.QueryRow(ctx,
		`UPDATE messages
		 SET metadata = metadata || $2::jsonb
		 WHERE id = $1
		 RETURNING `+messageColumns,
		id, patchJSON))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update metadata %s: %w", id, ErrMessageNotFound)
		}
		return nil, fmt.Errorf("update metadata: %w", err)
	}

	return msg, nil
}

// UpdateMessageContent replaces the message's content. Used to finalize a
// message whose row was created before its content was fully known.
func (s *Store) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string) (*Message, error) {
	msg, err := scanMessage(s.db.QueryRow(ctx,
		`UPDATE messages SET content = $2 WHERE id = $1 RETURNING `+messageColumns,
		id, content))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update content %s: %w", id, ErrMessageNotFound)
		}
		return nil, fmt.Errorf("update content: %w", err)
	}

	return msg, nil
}

// TouchConversation refreshes the conversation's updated_at timestamp.
// Concurrent turns on the same conversation race here; last writer wins,
// which is acceptable for a chat list sort key.
func (s *Store) TouchConversation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("touch conversation %s: %w", id, ErrConversationNotFound)
	}
	return nil
}

// CreateConversation creates an empty conversation for ownerID.
func (s *Store) CreateConversation(ctx context.Context, ownerID uuid.UUID, title string) (*Conversation, error) {
	var c Conversation
	var dbTitle *string
	if title != "" {
		dbTitle = &title
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO conversations (owner_id, title)
		 VALUES ($1, $2)
		 RETURNING id, owner_id, title, created_at, updated_at`,
		ownerID, dbTitle).Scan(&c.ID, &c.OwnerID, &dbTitle, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if dbTitle != nil {
		c.Title = *dbTitle
	}

	s.logger.Debug("created conversation", "conversation_id", c.ID, "owner_id", ownerID)
	return &c, nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	var c Conversation
	var title *string
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM conversations WHERE id = $1`,
		id).Scan(&c.ID, &c.OwnerID, &title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get conversation %s: %w", id, ErrConversationNotFound)
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if title != nil {
		c.Title = *title
	}
	return &c, nil
}

// ListConversations lists a user's conversations ordered by updated_at
// descending, with pagination.
func (s *Store) ListConversations(ctx context.Context, ownerID uuid.UUID, limit, offset int32) ([]*Conversation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, title, created_at, updated_at
		 FROM conversations
		 WHERE owner_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var c Conversation
		var title *string
		if err := rows.Scan(&c.ID, &c.OwnerID, &title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if title != nil {
			c.Title = *title
		}
		conversations = append(conversations, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	return conversations, nil
}

// SetConversationTitle sets the conversation title.
func (s *Store) SetConversationTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE conversations SET title = $2 WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("set conversation title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set conversation title %s: %w", id, ErrConversationNotFound)
	}
	return nil
}

// GetFile retrieves a file record by ID.
func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (*File, error) {
	var f File
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, conversation_id, name, object_key, size_bytes, created_at
		 FROM files WHERE id = $1`,
		id).Scan(&f.ID, &f.OwnerID, &f.ConversationID, &f.Name, &f.ObjectKey, &f.SizeBytes, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get file %s: %w", id, ErrFileNotFound)
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &f, nil
}

// ListConversationFiles lists the files attached to a conversation in upload
// order.
func (s *Store) ListConversationFiles(ctx context.Context, conversationID uuid.UUID) ([]*File, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, conversation_id, name, object_key, size_bytes, created_at
		 FROM files
		 WHERE conversation_id = $1
		 ORDER BY created_at ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.ConversationID, &f.Name, &f.ObjectKey, &f.SizeBytes, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	return files, nil
}

// GetUserByToken resolves an API token to its user.
func (s *Store) GetUserByToken(ctx context.Context, token string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx,
		`SELECT id, email, name, created_at FROM users WHERE api_token = $1`,
		token).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by token: %w", err)
	}
	return &u, nil
}
