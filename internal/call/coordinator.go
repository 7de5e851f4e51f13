// Package call coordinates call-session state, allowing at most one live
// call per process.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lmoretti/filo/internal/bus"
	"github.com/lmoretti/filo/internal/domain"
	"github.com/lmoretti/filo/internal/remote"
	"go.uber.org/zap"
)

// State represents a call session state.
type State string

const (
	Idle    State = "IDLE"
	Ringing State = "RINGING"
	Active  State = "ACTIVE"
	Ending  State = "ENDING"
)

// Session describes the live call, if any.
type Session struct {
	ChatID string
	Video  bool
	State  State
}

// StateChange is the payload for call.state_changed events.
type StateChange struct {
	ChatID string
	From   State
	To     State
}

// Coordinator tracks the single live call session. Start moves the session
// to ringing, issues the remote call setup, and declares it active only
// after the signaler acknowledges; a setup failure rolls back to idle. End
// always attempts the remote teardown, even when local state looks off.
type Coordinator struct {
	mu       sync.Mutex
	current  State
	chatID   string
	video    bool
	signaler remote.CallSignaler
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator starting in Idle.
func NewCoordinator(signaler remote.CallSignaler, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		current:  Idle,
		signaler: signaler,
		bus:      b,
		logger:   logger.Named("call"),
	}
}

// Current returns the live session, or {State: Idle} when there is none.
func (c *Coordinator) Current() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{ChatID: c.chatID, Video: c.video, State: c.current}
}

// Start begins a call in the given chat. It fails with ErrCallConflict when
// another call is live, leaving that session untouched.
func (c *Coordinator) Start(ctx context.Context, chatID string, video bool) error {
	c.mu.Lock()
	if c.current != Idle {
		live := c.chatID
		c.mu.Unlock()
		return fmt.Errorf("%w: call in chat %s is %s", domain.ErrCallConflict, live, c.current)
	}
	c.chatID = chatID
	c.video = video
	c.transitionLocked(Ringing)
	c.mu.Unlock()

	if err := c.signaler.StartCall(ctx, chatID, video); err != nil {
		c.mu.Lock()
		if c.chatID == chatID && c.current == Ringing {
			c.transitionLocked(Idle)
			c.chatID = ""
		}
		c.mu.Unlock()
		return &domain.TransportError{Op: "start call " + chatID, Err: err}
	}

	c.mu.Lock()
	// End may have raced the signaling round trip; a session no longer
	// ringing for this chat stays as End left it.
	if c.chatID == chatID && c.current == Ringing {
		c.transitionLocked(Active)
	}
	c.mu.Unlock()
	return nil
}

// End tears the live call down. The remote teardown is attempted even when
// it fails or when local state is already idle with a chat recorded;
// teardown errors are logged and the session still returns to Idle.
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	if c.current == Idle && c.chatID == "" {
		c.mu.Unlock()
		return nil
	}
	chatID := c.chatID
	c.transitionLocked(Ending)
	c.mu.Unlock()

	err := c.signaler.EndCall(ctx, chatID)
	if err != nil {
		c.logger.Warn("call teardown failed", zap.String("chat_id", chatID), zap.Error(err))
	}

	c.mu.Lock()
	c.transitionLocked(Idle)
	c.chatID = ""
	c.video = false
	c.mu.Unlock()

	if err != nil {
		return &domain.TransportError{Op: "end call " + chatID, Err: err}
	}
	return nil
}

func (c *Coordinator) transitionLocked(to State) {
	from := c.current
	c.current = to
	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind:      "call.state_changed",
			Timestamp: time.Now(),
			Payload: StateChange{
				ChatID: c.chatID,
				From:   from,
				To:     to,
			},
		})
	}
}
