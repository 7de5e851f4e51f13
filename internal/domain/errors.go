package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is returned before any network call when a file
	// exceeds the hard upload cap.
	ErrPayloadTooLarge = errors.New("file exceeds maximum upload size")

	// ErrChatBlocked rejects send actions while the chat is flagged blocked.
	ErrChatBlocked = errors.New("chat is blocked")

	// ErrCallConflict is returned when starting a call while another call
	// session is still live. The live session is left untouched.
	ErrCallConflict = errors.New("another call is already in progress")

	// ErrSessionClosed is returned by session operations after Close.
	ErrSessionClosed = errors.New("chat session is closed")

	// ErrChatNotFound is returned by the document store for unknown chats.
	ErrChatNotFound = errors.New("chat not found")
)

// TransportError wraps a network or remote-write failure. It is attached to
// the affected message or presence attempt, never to the whole session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProcessingError wraps a media processing failure. It aborts the pending
// send before any write occurs.
type ProcessingError struct {
	Kind MediaKind
	Err  error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s: %v", e.Kind, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
