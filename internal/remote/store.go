// Package remote defines the narrow contracts for the external services the
// engine consumes: the hosted document store, call signaling, and object
// storage. The engine never assumes more than these interfaces provide;
// durable storage, query subscriptions, and per-document atomic updates are
// the remote side's job.
package remote

import "context"

// MessageDoc is the wire form of a chat message in the document store.
// CorrelationID is the client-assigned id carried in the write so the sender
// can match the echoed document to its provisional local entry.
type MessageDoc struct {
	ID             string   `json:"id"`
	ChatID         string   `json:"chat_id"`
	SenderID       string   `json:"sender_id"`
	Body           string   `json:"body"`
	AttachmentRef  string   `json:"attachment_ref,omitempty"`
	AttachmentKind string   `json:"attachment_kind,omitempty"`
	CorrelationID  string   `json:"correlation_id"`
	Timestamp      int64    `json:"timestamp"` // unix millis, server-assigned
	Readers        []string `json:"readers,omitempty"`
}

// PresenceDoc is the wire form of a user's presence record.
type PresenceDoc struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

// ChatDoc describes a chat's metadata.
type ChatDoc struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
	Blocked      bool     `json:"blocked"`
	Group        bool     `json:"group"`
}

// Snapshot is one ordered view of a chat's message collection, delivered on
// every subscription tick.
type Snapshot struct {
	ChatID   string
	Messages []MessageDoc
}

// DocumentStore is the hosted, eventually-consistent document store. A write
// acknowledged by WriteMessage must be echoed on the chat's subscription
// stream on a later tick.
type DocumentStore interface {
	// Subscribe delivers ordered message snapshots for chatID until ctx is
	// cancelled. The first snapshot reflects current contents. The channel
	// is closed when the subscription ends; a close without ctx cancellation
	// means the stream broke and the caller must re-subscribe.
	Subscribe(ctx context.Context, chatID string) (<-chan Snapshot, error)

	// WriteMessage creates a single message document and returns the echo
	// with the server-assigned id and timestamp filled in.
	WriteMessage(ctx context.Context, chatID string, doc MessageDoc) (MessageDoc, error)

	// BatchUpdateReaders adds readerID to each listed message's reader set,
	// atomically per document.
	BatchUpdateReaders(ctx context.Context, chatID string, messageIDs []string, readerID string) error

	// DeleteMessage removes a message document.
	DeleteMessage(ctx context.Context, chatID, messageID string) error

	// WritePresence overwrites the user's presence record (last-write-wins).
	WritePresence(ctx context.Context, userID string, doc PresenceDoc) error

	// GetChat returns chat metadata, or domain.ErrChatNotFound.
	GetChat(ctx context.Context, chatID string) (ChatDoc, error)
}

// CallSignaler issues the remote side effects of call setup and teardown.
type CallSignaler interface {
	StartCall(ctx context.Context, chatID string, video bool) error
	EndCall(ctx context.Context, chatID string) error
}

// UploadMetadata carries the content type plus a small set of custom tags
// stored alongside an uploaded object.
type UploadMetadata struct {
	ContentType string
	Custom      map[string]string
}

// ObjectStorage stores uploaded attachment bytes and resolves durable
// references.
type ObjectStorage interface {
	// Upload writes data at path and returns the durable reference once the
	// write completes.
	Upload(ctx context.Context, path string, data []byte, meta UploadMetadata) (string, error)
}
