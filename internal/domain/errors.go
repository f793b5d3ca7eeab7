package domain

import "fmt"

// Error types for consistent error handling across the engine.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrValidation indicates a validation error (bad input).
// Validation failures are rejected synchronously and never partially applied.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrDuplicate indicates a uniqueness violation on insert (e.g. two
// racing first-time upserts for the same session id). Callers resolve it
// by re-fetching the winner's row, never by surfacing the conflict.
type ErrDuplicate struct {
	Key string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate key: %s", e.Key)
}

// ErrConversationFull indicates the conversation reached its message cap.
// The caller should tell the visitor to start a new conversation.
type ErrConversationFull struct {
	ConversationID string
	MaxMessages    int
}

func (e *ErrConversationFull) Error() string {
	return fmt.Sprintf("conversation %s reached the %d message limit", e.ConversationID, e.MaxMessages)
}

// ErrRateLimited indicates the per-client request budget was exceeded.
type ErrRateLimited struct {
	RetryAfterSeconds int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}
