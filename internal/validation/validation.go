package validation

import (
	"strings"

	"chatsync/internal/errors"
	"chatsync/internal/models"
)

const maxContentLength = 65536

// ValidateDraft rejects a draft before a pending send is created.
func ValidateDraft(draft *models.Draft) error {
	if draft == nil {
		return errors.NewValidationError("draft", "draft is required")
	}
	if strings.TrimSpace(draft.ConversationID) == "" {
		return errors.NewValidationError("conversationId", "conversation id is required")
	}
	if strings.TrimSpace(draft.Content) == "" && draft.Attachment == nil {
		return errors.NewValidationError("content", "message content cannot be empty")
	}
	if len(draft.Content) > maxContentLength {
		return errors.NewValidationError("content", "message content exceeds maximum length")
	}
	if draft.Attachment != nil && draft.Attachment.URL == "" {
		return errors.NewValidationError("attachment", "attachment must carry a durable URL")
	}
	switch draft.Kind {
	case "", models.KindText, models.KindImage, models.KindVideo, models.KindAudio, models.KindFile:
	default:
		return errors.NewValidationError("kind", "unknown message kind")
	}
	return nil
}

// ValidateConversationID rejects empty or oversized conversation ids.
func ValidateConversationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.NewValidationError("conversationId", "conversation id is required")
	}
	if len(id) > 256 {
		return errors.NewValidationError("conversationId", "conversation id too long")
	}
	return nil
}
