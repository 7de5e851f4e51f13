package domain

// PresenceStatus is the advisory online/offline flag published for a user.
type PresenceStatus string

const (
	Online  PresenceStatus = "online"
	Offline PresenceStatus = "offline"
)

// PresenceRecord is the single authoritative presence document for a user.
// Writes are last-write-wins; the record is advisory, not transactional.
type PresenceRecord struct {
	UserID   string
	Status   PresenceStatus
	LastSeen int64 // unix millis
}
