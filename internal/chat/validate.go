package chat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mesura-ai/mesura/internal/i18n"
)

// MaxMessageLength caps the resolved content of one user message.
const MaxMessageLength = 10000

// SendRequest is the inbound chat payload.
type SendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content,omitempty"`
	FileID         string `json:"fileId,omitempty"`
}

// TurnInput is a validated, normalized request ready for the orchestrator.
type TurnInput struct {
	ConversationID uuid.UUID
	Content        string
	FileID         *uuid.UUID
}

// ValidateSendRequest normalizes req or returns a VALIDATION_ERROR. No side
// effects. File-only messages are allowed and receive a placeholder
// content string.
func ValidateSendRequest(req SendRequest) (TurnInput, error) {
	conversationID, err := uuid.Parse(strings.TrimSpace(req.ConversationID))
	if err != nil {
		return TurnInput{}, NewError(CodeValidation, fmt.Errorf("invalid conversation id %q", req.ConversationID))
	}

	content := strings.TrimSpace(req.Content)

	var fileID *uuid.UUID
	if raw := strings.TrimSpace(req.FileID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			// A malformed non-empty fileId is always an error, even
			// when content alone would make a valid message.
			return TurnInput{}, NewError(CodeValidation, fmt.Errorf("invalid file id %q", req.FileID))
		}
		fileID = &id
	}

	if content == "" && fileID == nil {
		return TurnInput{}, NewError(CodeValidation, fmt.Errorf("message needs content or a file"))
	}
	if content == "" {
		content = i18n.T("chat.file_placeholder")
	}

	if len([]rune(content)) > MaxMessageLength {
		return TurnInput{}, &Error{
			Code:    CodeValidation,
			Message: i18n.Sprintf("error.validation.long", MaxMessageLength),
			cause:   fmt.Errorf("content exceeds %d characters", MaxMessageLength),
		}
	}

	return TurnInput{ConversationID: conversationID, Content: content, FileID: fileID}, nil
}
