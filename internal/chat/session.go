package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lmoretti/filo/internal/bus"
	"github.com/lmoretti/filo/internal/domain"
	"github.com/lmoretti/filo/internal/remote"
	"go.uber.org/zap"
)

const (
	sendQueueSize = 256
	renderBuf     = 8
)

// SnapshotEvent is the payload of chat.snapshot bus events.
type SnapshotEvent struct {
	ChatID   string
	Group    bool
	Name     string
	Blocked  bool
	Messages []domain.Message
}

// SendResult is the payload of chat.send_ack and chat.send_failed events.
type SendResult struct {
	ChatID        string
	CorrelationID string
	ServerID      string
	Err           string
}

// Session owns the live message list for one open chat: it consumes the
// remote subscription, merges optimistic local sends by correlation id,
// tracks per-message delivery status, and batches read receipts.
//
// Remote writes for local sends drain through a FIFO queue with one write in
// flight at a time, so server timestamps follow submission order.
type Session struct {
	store  remote.DocumentStore
	bus    *bus.Bus
	logger *zap.Logger
	chatID string
	userID string

	mu        sync.Mutex
	chatDoc   remote.ChatDoc
	canonical []remote.MessageDoc
	pending   []*localSend
	acked     map[string]remote.MessageDoc // corr id -> echo not yet seen in a snapshot
	seqByCorr map[string]int64
	marked    map[string]struct{} // message ids already submitted in a read batch
	nextSeq   int64
	closed    bool

	sendQ  chan *localSend
	out    chan []domain.Message
	cancel context.CancelFunc
}

type localSend struct {
	msg domain.Message
	seq int64
}

// NewSession creates a session for one chat. Call Open to start it.
func NewSession(store remote.DocumentStore, b *bus.Bus, logger *zap.Logger, chatID, userID string) *Session {
	return &Session{
		store:     store,
		bus:       b,
		logger:    logger,
		chatID:    chatID,
		userID:    userID,
		acked:     make(map[string]remote.MessageDoc),
		seqByCorr: make(map[string]int64),
		marked:    make(map[string]struct{}),
		sendQ:     make(chan *localSend, sendQueueSize),
		out:       make(chan []domain.Message, renderBuf),
	}
}

// Open fetches chat metadata, establishes the live subscription, and returns
// the rendered-list stream. The stream never terminates on its own while ctx
// is live; a close without cancellation means the subscription broke and the
// caller must re-open a fresh session.
func (s *Session) Open(ctx context.Context) (<-chan []domain.Message, error) {
	doc, err := s.store.GetChat(ctx, s.chatID)
	if err != nil {
		return nil, fmt.Errorf("open chat %s: %w", s.chatID, err)
	}

	ctx, s.cancel = context.WithCancel(ctx)

	snaps, err := s.store.Subscribe(ctx, s.chatID)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("subscribe chat %s: %w", s.chatID, err)
	}

	s.mu.Lock()
	s.chatDoc = doc
	s.mu.Unlock()

	go s.consume(ctx, snaps)
	go s.drain(ctx)

	return s.out, nil
}

// Close tears down the subscription. In-flight sends already issued complete
// or fail on their own; their results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Chat returns the chat metadata fetched at Open.
func (s *Session) Chat() remote.ChatDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatDoc
}

// Blocked reports whether the chat is flagged blocked.
func (s *Session) Blocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatDoc.Blocked
}

// Send appends a provisional message to the local list and queues the remote
// write. The returned message carries the fresh correlation id; its entry is
// reconciled in place once the store echoes the write, or marked failed with
// the error attached.
func (s *Session) Send(text string, attachment *domain.Attachment) (domain.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Message{}, domain.ErrSessionClosed
	}
	s.nextSeq++
	msg := domain.Message{
		ID:            uuid.New().String(),
		ChatID:        s.chatID,
		SenderID:      s.userID,
		Body:          text,
		Attachment:    attachment,
		CorrelationID: uuid.New().String(),
		Timestamp:     time.Now().UnixMilli(),
		Status:        domain.StatusSending,
		Provisional:   true,
	}
	ls := &localSend{msg: msg, seq: s.nextSeq}
	s.pending = append(s.pending, ls)
	s.seqByCorr[msg.CorrelationID] = ls.seq
	s.mu.Unlock()

	s.emit()

	select {
	case s.sendQ <- ls:
	default:
		s.failSend(ls, fmt.Errorf("send queue full"))
	}
	return msg, nil
}

// Discard removes a failed provisional message from the local list. It is a
// no-op for unknown or already-reconciled correlation ids.
func (s *Session) Discard(correlationID string) {
	s.mu.Lock()
	for i, ls := range s.pending {
		if ls.msg.CorrelationID == correlationID && ls.msg.Status == domain.StatusFailed {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			delete(s.seqByCorr, correlationID)
			break
		}
	}
	s.mu.Unlock()
	s.emit()
}

// MarkRead adds the current user to the reader set of every visible message
// they have not read and did not send, in a single batched update. Calling
// it with nothing unread issues no write.
func (s *Session) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	var ids []string
	for _, doc := range s.canonical {
		if doc.SenderID == s.userID {
			continue
		}
		if containsReader(doc.Readers, s.userID) {
			continue
		}
		if _, inFlight := s.marked[doc.ID]; inFlight {
			continue
		}
		ids = append(ids, doc.ID)
	}
	for _, id := range ids {
		s.marked[id] = struct{}{}
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	if err := s.store.BatchUpdateReaders(ctx, s.chatID, ids, s.userID); err != nil {
		// Allow a later retry to pick these up again.
		s.mu.Lock()
		for _, id := range ids {
			delete(s.marked, id)
		}
		s.mu.Unlock()
		return &domain.TransportError{Op: "mark read", Err: err}
	}
	return nil
}

// Delete removes a message from the remote store. The local list updates
// only once the subscription reflects the removal, so a delete cannot race
// the same message's in-flight send reconciliation.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	if err := s.store.DeleteMessage(ctx, s.chatID, messageID); err != nil {
		return &domain.TransportError{Op: "delete message", Err: err}
	}
	return nil
}

// Messages returns the current rendered list.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderLocked()
}

// consume applies remote snapshots until the stream ends. A stream that ends
// while ctx is still live is a session-fatal subscription error.
func (s *Session) consume(ctx context.Context, snaps <-chan remote.Snapshot) {
	for snap := range snaps {
		s.apply(snap)
	}

	// Close under the lock so emit never sends on a closed channel.
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	close(s.out)
	s.mu.Unlock()

	if ctx.Err() == nil && !alreadyClosed {
		s.logger.Error("chat subscription broke", zap.String("chat_id", s.chatID))
		s.bus.Publish(bus.Event{
			Kind:      "chat.session_error",
			Timestamp: time.Now(),
			Payload:   s.chatID,
		})
	}
}

func (s *Session) apply(snap remote.Snapshot) {
	s.mu.Lock()
	s.canonical = snap.Messages

	inSnapshot := make(map[string]struct{}, len(snap.Messages))
	byCorr := make(map[string]struct{}, len(snap.Messages))
	for _, doc := range snap.Messages {
		inSnapshot[doc.ID] = struct{}{}
		if doc.CorrelationID != "" {
			byCorr[doc.CorrelationID] = struct{}{}
		}
	}

	// The snapshot now carries any echo we were holding on the side.
	for corr := range s.acked {
		if _, ok := byCorr[corr]; ok {
			delete(s.acked, corr)
		}
	}
	// A provisional entry whose echo shows up here was reconciled remotely
	// before the write call returned; drop the provisional copy.
	kept := s.pending[:0]
	for _, ls := range s.pending {
		if _, ok := byCorr[ls.msg.CorrelationID]; ok {
			continue
		}
		kept = append(kept, ls)
	}
	s.pending = kept

	// Read receipts in flight for messages that no longer exist are moot.
	for id := range s.marked {
		if _, ok := inSnapshot[id]; !ok {
			delete(s.marked, id)
		}
	}
	s.mu.Unlock()

	s.emit()
}

// drain issues queued remote writes one at a time, preserving submission
// order.
func (s *Session) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ls := <-s.sendQ:
			s.sendOne(ctx, ls)
		}
	}
}

func (s *Session) sendOne(ctx context.Context, ls *localSend) {
	doc := remote.MessageDoc{
		SenderID:      ls.msg.SenderID,
		Body:          ls.msg.Body,
		CorrelationID: ls.msg.CorrelationID,
	}
	if ls.msg.Attachment != nil {
		doc.AttachmentRef = ls.msg.Attachment.Ref
		doc.AttachmentKind = string(ls.msg.Attachment.Kind)
	}

	echo, err := s.store.WriteMessage(ctx, s.chatID, doc)
	if err != nil {
		s.failSend(ls, err)
		return
	}

	s.mu.Lock()
	found := false
	for i, p := range s.pending {
		if p == ls {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			found = true
			break
		}
	}
	if found {
		// Hold the echo until the subscription tick carries it.
		s.acked[ls.msg.CorrelationID] = echo
	}
	s.mu.Unlock()

	s.bus.Publish(bus.Event{
		Kind:      "chat.send_ack",
		Timestamp: time.Now(),
		Payload: SendResult{
			ChatID:        s.chatID,
			CorrelationID: ls.msg.CorrelationID,
			ServerID:      echo.ID,
		},
	})
	s.emit()
}

func (s *Session) failSend(ls *localSend, err error) {
	terr := &domain.TransportError{Op: "write message", Err: err}
	s.logger.Warn("message send failed",
		zap.String("chat_id", s.chatID),
		zap.String("correlation_id", ls.msg.CorrelationID),
		zap.Error(err),
	)

	s.mu.Lock()
	for _, p := range s.pending {
		if p == ls {
			p.msg.Status = domain.StatusFailed
			p.msg.SendErr = terr.Error()
			break
		}
	}
	s.mu.Unlock()

	s.bus.Publish(bus.Event{
		Kind:      "chat.send_failed",
		Timestamp: time.Now(),
		Payload: SendResult{
			ChatID:        s.chatID,
			CorrelationID: ls.msg.CorrelationID,
			Err:           terr.Error(),
		},
	})
	s.emit()
}

// emit pushes a fresh rendered list to the stream and the bus. Delivery to
// the stream is latest-wins: a slow consumer misses intermediate renders.
func (s *Session) emit() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	rendered := s.renderLocked()
	doc := s.chatDoc
	select {
	case s.out <- rendered:
	default:
	}
	s.mu.Unlock()

	s.bus.Publish(bus.Event{
		Kind:      "chat.snapshot",
		Timestamp: time.Now(),
		Payload: SnapshotEvent{
			ChatID:   s.chatID,
			Group:    doc.Group,
			Name:     doc.Name,
			Blocked:  doc.Blocked,
			Messages: rendered,
		},
	})
}

// renderLocked merges the canonical snapshot, side-held echoes, and pending
// provisional sends into one ordered list with exactly one entry per
// correlation id. Caller holds s.mu.
func (s *Session) renderLocked() []domain.Message {
	entries := make([]entry, 0, len(s.canonical)+len(s.acked)+len(s.pending))

	seen := make(map[string]struct{}, len(s.canonical))
	for _, doc := range s.canonical {
		if doc.CorrelationID != "" {
			seen[doc.CorrelationID] = struct{}{}
		}
		entries = append(entries, s.entryForDoc(doc))
	}
	for corr, doc := range s.acked {
		if _, ok := seen[corr]; ok {
			continue
		}
		entries = append(entries, s.entryForDoc(doc))
	}
	for _, ls := range s.pending {
		entries = append(entries, entry{
			msg:    ls.msg,
			seq:    ls.seq,
			sortTs: ls.msg.Timestamp,
		})
	}

	return orderEntries(entries)
}

func (s *Session) entryForDoc(doc remote.MessageDoc) entry {
	msg := domain.Message{
		ID:            doc.ID,
		ChatID:        doc.ChatID,
		SenderID:      doc.SenderID,
		Body:          doc.Body,
		CorrelationID: doc.CorrelationID,
		Timestamp:     doc.Timestamp,
		Readers:       doc.Readers,
		Status:        statusForDoc(doc, s.userID),
	}
	if doc.AttachmentRef != "" {
		msg.Attachment = &domain.Attachment{
			Kind:  domain.MediaKind(doc.AttachmentKind),
			State: domain.MediaUploaded,
			Ref:   doc.AttachmentRef,
		}
	}
	return entry{
		msg:    msg,
		seq:    s.seqByCorr[doc.CorrelationID],
		sortTs: doc.Timestamp,
	}
}

// statusForDoc derives delivery status for an acknowledged message. The
// store carries no separate delivered receipt, so an own message goes
// straight from sent to read once a recipient's receipt lands.
func statusForDoc(doc remote.MessageDoc, userID string) domain.DeliveryStatus {
	if doc.SenderID == userID {
		for _, r := range doc.Readers {
			if r != doc.SenderID {
				return domain.StatusRead
			}
		}
		return domain.StatusSent
	}
	if containsReader(doc.Readers, userID) {
		return domain.StatusRead
	}
	return domain.StatusDelivered
}

func containsReader(readers []string, userID string) bool {
	for _, r := range readers {
		if r == userID {
			return true
		}
	}
	return false
}
