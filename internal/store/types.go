package store

// Chat represents a mirrored chat.
type Chat struct {
	ID                 string
	Name               string
	IsGroup            bool
	Blocked            bool
	LastMessageAt      int64
	LastMessagePreview string
}

// Message represents a mirrored message.
type Message struct {
	ID            int64
	ChatID        string
	MsgID         string
	SenderID      string
	Body          string
	Kind          string
	AttachmentRef string
	FromMe        bool
	Status        string
	Timestamp     int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
