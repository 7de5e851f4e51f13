package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lmoretti/filo/internal/bus"
	"github.com/lmoretti/filo/internal/domain"
	"github.com/lmoretti/filo/internal/remote"
	"github.com/lmoretti/filo/internal/remote/memstore"
	"go.uber.org/zap"
)

type failingStore struct {
	*memstore.Store
	err error
}

func (f *failingStore) WritePresence(ctx context.Context, userID string, doc remote.PresenceDoc) error {
	if f.err != nil {
		return f.err
	}
	return f.Store.WritePresence(ctx, userID, doc)
}

func newTracker(t *testing.T, store remote.DocumentStore) (*Tracker, *bus.Bus) {
	t.Helper()
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	return NewTracker(store, b, logger, "u1"), b
}

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bus event")
		return bus.Event{}
	}
}

func TestStartForcesOnline(t *testing.T) {
	store := memstore.New()
	tr, b := newTracker(t, store)
	events, cancel := b.Subscribe("presence.", 4)
	defer cancel()

	tr.Start(context.Background())

	doc, ok := store.Presence("u1")
	if !ok {
		t.Fatal("no presence record written")
	}
	if doc.Status != string(domain.Online) {
		t.Errorf("status = %q, want online", doc.Status)
	}
	if doc.LastSeen == 0 {
		t.Error("LastSeen not set")
	}

	evt := waitEvent(t, events)
	rec, ok := evt.Payload.(domain.PresenceRecord)
	if !ok {
		t.Fatalf("payload type = %T", evt.Payload)
	}
	if rec.UserID != "u1" || rec.Status != domain.Online {
		t.Errorf("published record = %+v", rec)
	}
}

func TestSignalsMapToStatus(t *testing.T) {
	cases := []struct {
		sig  Signal
		want domain.PresenceStatus
	}{
		{Visible, domain.Online},
		{Hidden, domain.Offline},
		{NetworkUp, domain.Online},
		{NetworkDown, domain.Offline},
		{Teardown, domain.Offline},
	}
	for _, tc := range cases {
		t.Run(string(tc.sig), func(t *testing.T) {
			store := memstore.New()
			tr, _ := newTracker(t, store)

			tr.Signal(context.Background(), tc.sig)

			doc, ok := store.Presence("u1")
			if !ok {
				t.Fatal("no presence record written")
			}
			if doc.Status != string(tc.want) {
				t.Errorf("status = %q, want %q", doc.Status, tc.want)
			}
		})
	}
}

func TestRepeatedSignalsOverwrite(t *testing.T) {
	store := memstore.New()
	tr, _ := newTracker(t, store)
	ts := int64(1000)
	tr.now = func() time.Time { ts += 500; return time.UnixMilli(ts) }

	tr.Signal(context.Background(), Visible)
	first, _ := store.Presence("u1")
	tr.Signal(context.Background(), Visible)
	second, _ := store.Presence("u1")

	if second.Status != string(domain.Online) {
		t.Errorf("status = %q, want online", second.Status)
	}
	if second.LastSeen <= first.LastSeen {
		t.Errorf("LastSeen not refreshed: %d then %d", first.LastSeen, second.LastSeen)
	}
}

func TestStopForcesOffline(t *testing.T) {
	store := memstore.New()
	tr, _ := newTracker(t, store)

	tr.Start(context.Background())
	tr.Stop()

	doc, _ := store.Presence("u1")
	if doc.Status != string(domain.Offline) {
		t.Errorf("status after Stop = %q, want offline", doc.Status)
	}
}

func TestWriteFailureIsDropped(t *testing.T) {
	store := &failingStore{Store: memstore.New(), err: errors.New("remote down")}
	tr, b := newTracker(t, store)
	events, cancel := b.Subscribe("presence.", 4)
	defer cancel()

	tr.Signal(context.Background(), Visible)
	tr.Stop()

	select {
	case evt := <-events:
		t.Errorf("unexpected event %q after failed writes", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}
