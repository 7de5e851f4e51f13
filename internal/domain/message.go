package domain

// DeliveryStatus tracks a message through its send lifecycle.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Message is one entry in a chat's rendered message list. Until the remote
// store echoes the write back, ID holds the client-generated correlation id
// and Provisional is true; reconciliation swaps in the server-assigned
// identity without ever duplicating the entry.
type Message struct {
	ID            string
	ChatID        string
	SenderID      string
	Body          string
	Attachment    *Attachment
	CorrelationID string
	Timestamp     int64 // unix millis; client clock until acknowledged
	Status        DeliveryStatus
	Readers       []string
	Provisional   bool
	SendErr       string // set when Status is failed
}

// ReadBy reports whether userID is in the reader set.
func (m *Message) ReadBy(userID string) bool {
	for _, r := range m.Readers {
		if r == userID {
			return true
		}
	}
	return false
}
