package bus

import "time"

// Event is a domain event published on the bus.
//
// Kinds in use:
//
//	chat.snapshot        new rendered message list for an open session
//	chat.send_ack        provisional message reconciled with its echo
//	chat.send_failed     remote write failed, message marked failed
//	chat.session_error   subscription broke, session must be reopened
//	presence.updated     local presence record written
//	call.state_changed   call coordinator transition
//	media.uploaded       attachment upload resolved
//	mirror.ingested      snapshot persisted to the local mirror
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
