// Package presence maps client lifecycle signals onto a single advisory
// online/offline record for the local user.
package presence

import (
	"context"
	"time"

	"github.com/lmoretti/filo/internal/bus"
	"github.com/lmoretti/filo/internal/domain"
	"github.com/lmoretti/filo/internal/remote"
	"go.uber.org/zap"
)

// Signal is one of the lifecycle events the tracker reacts to.
type Signal string

const (
	// Visible fires when the client surface regains focus.
	Visible Signal = "visible"
	// Hidden fires when the client surface loses focus.
	Hidden Signal = "hidden"
	// NetworkUp fires when connectivity is restored.
	NetworkUp Signal = "network_up"
	// NetworkDown fires when connectivity is lost.
	NetworkDown Signal = "network_down"
	// Teardown is the last-resort offline signal before process exit.
	Teardown Signal = "teardown"
)

// statusFor maps each signal onto the status it implies.
func statusFor(sig Signal) domain.PresenceStatus {
	switch sig {
	case Visible, NetworkUp:
		return domain.Online
	default:
		return domain.Offline
	}
}

// stopTimeout bounds the best-effort offline write at teardown.
const stopTimeout = 2 * time.Second

// Tracker owns the local user's presence record. Every signal results in an
// idempotent overwrite of {status, lastSeen=now}; overlapping writes resolve
// last-write-wins on the remote store. Write failures are logged and
// dropped, never surfaced.
type Tracker struct {
	store  remote.DocumentStore
	bus    *bus.Bus
	logger *zap.Logger
	userID string
	now    func() time.Time
}

// NewTracker creates a tracker for userID.
func NewTracker(store remote.DocumentStore, b *bus.Bus, logger *zap.Logger, userID string) *Tracker {
	return &Tracker{
		store:  store,
		bus:    b,
		logger: logger.Named("presence"),
		userID: userID,
		now:    time.Now,
	}
}

// Start forces the record online once.
func (t *Tracker) Start(ctx context.Context) {
	t.write(ctx, domain.Online, "start")
}

// Signal applies one lifecycle signal.
func (t *Tracker) Signal(ctx context.Context, sig Signal) {
	t.write(ctx, statusFor(sig), string(sig))
}

// Stop forces the record offline once, best-effort. The write gets a short
// deadline of its own so teardown cannot hang on a stalled remote; if it
// misses, the stale online record is accepted.
func (t *Tracker) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	t.write(ctx, domain.Offline, "stop")
}

func (t *Tracker) write(ctx context.Context, status domain.PresenceStatus, cause string) {
	rec := domain.PresenceRecord{
		UserID:   t.userID,
		Status:   status,
		LastSeen: t.now().UnixMilli(),
	}
	err := t.store.WritePresence(ctx, t.userID, remote.PresenceDoc{
		Status:   string(rec.Status),
		LastSeen: rec.LastSeen,
	})
	if err != nil {
		t.logger.Warn("presence write dropped",
			zap.String("status", string(status)),
			zap.String("cause", cause),
			zap.Error(err),
		)
		return
	}
	t.bus.Publish(bus.Event{
		Kind:      "presence.updated",
		Timestamp: t.now(),
		Payload:   rec,
	})
}
