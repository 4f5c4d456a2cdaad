package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrNoConversationSelected = errors.New("no conversation selected")
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrMessageNotFound        = errors.New("message not found")
	ErrEmptyMessage           = errors.New("message content is required")
	ErrCancelled              = errors.New("send cancelled")

	ErrCreateConversation = errors.New("create conversation failed")
	ErrDeleteConversation = errors.New("delete conversation failed")
	ErrClearConversation  = errors.New("clear conversation failed")
	ErrRenameConversation = errors.New("rename conversation failed")
	ErrLoadConversations  = errors.New("load conversations failed")

	// ErrStream matches every *StreamError via errors.Is.
	ErrStream = errors.New("stream error")
)

// StreamError reports a reply that failed after the stream was opened,
// either by a server error frame, a malformed frame or a broken channel.
// Partial holds the content received before the failure.
type StreamError struct {
	Reason  string
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %s", len(e.Partial), e.Reason)
	}
	return fmt.Sprintf("stream error: %s", e.Reason)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func (e *StreamError) Is(target error) bool {
	return target == ErrStream
}
