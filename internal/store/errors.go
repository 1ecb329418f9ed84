package store

import "errors"

// Sentinel errors for store operations. These are part of the Store's public
// API and should be checked with errors.Is().
//
// Example:
//
//	conv, err := store.GetConversation(ctx, id)
//	if errors.Is(err, store.ErrConversationNotFound) {
//	    // handle missing conversation
//	}
var (
	// ErrConversationNotFound indicates the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates the message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrFileNotFound indicates the file record does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrUserNotFound indicates no user matches the given credential.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidRole indicates a message role outside user/assistant/system.
	ErrInvalidRole = errors.New("invalid message role")
)
