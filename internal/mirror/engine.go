// Package mirror keeps the profile's SQLite mirror in step with the live
// chat sessions, so the chat list survives restarts and remote outages.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/lmoretti/filo/internal/bus"
	"github.com/lmoretti/filo/internal/chat"
	"github.com/lmoretti/filo/internal/store"
	"go.uber.org/zap"
)

// Engine handles idempotent ingestion of rendered snapshots into the store.
// It subscribes to "chat." events on the bus and processes them.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	userID string
	cancel context.CancelFunc
}

// NewEngine creates a new mirror engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger, userID string) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger.Named("mirror"),
		userID: userID,
	}
}

// Start subscribes to chat events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("chat.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	if evt.Kind != "chat.snapshot" {
		return
	}
	snap, ok := evt.Payload.(chat.SnapshotEvent)
	if !ok {
		return
	}
	if err := e.IngestSnapshot(snap); err != nil {
		e.logger.Error("failed to ingest snapshot", zap.Error(err), zap.String("chat_id", snap.ChatID))
	}
}

// IngestSnapshot mirrors one rendered snapshot (idempotent). Provisional
// entries are skipped: the mirror only holds messages the remote store has
// acknowledged, so a failed send never leaks into the persistent chat list.
func (e *Engine) IngestSnapshot(snap chat.SnapshotEvent) error {
	var (
		lastTs      int64
		lastPreview string
		keep        []string
	)

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range snap.Messages {
		m := &snap.Messages[i]
		if m.Provisional {
			continue
		}
		keep = append(keep, m.ID)
		if m.Timestamp >= lastTs {
			lastTs = m.Timestamp
			lastPreview = truncate(m.Body, 100)
		}

		kind := "text"
		ref := ""
		if m.Attachment != nil {
			kind = string(m.Attachment.Kind)
			ref = m.Attachment.Ref
		}
		if err := store.UpsertMessageIn(tx, &store.Message{
			ChatID:        snap.ChatID,
			MsgID:         m.ID,
			SenderID:      m.SenderID,
			Body:          m.Body,
			Kind:          kind,
			AttachmentRef: ref,
			FromMe:        m.SenderID == e.userID,
			Status:        string(m.Status),
			Timestamp:     m.Timestamp,
		}); err != nil {
			return fmt.Errorf("upsert message: %w", err)
		}
	}

	if err := store.UpsertChatIn(tx, &store.Chat{
		ID:                 snap.ChatID,
		Name:               snap.Name,
		IsGroup:            snap.Group,
		Blocked:            snap.Blocked,
		LastMessageAt:      lastTs,
		LastMessagePreview: lastPreview,
	}); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	// Remote deletes show up as messages missing from the snapshot.
	if err := e.db.PruneMessages(snap.ChatID, keep); err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}

	e.bus.Publish(bus.Event{
		Kind:      "mirror.ingested",
		Timestamp: time.Now(),
		Payload: IngestResult{
			ChatID:   snap.ChatID,
			Messages: len(keep),
		},
	})
	return nil
}

// IngestResult is the payload of mirror.ingested events.
type IngestResult struct {
	ChatID   string
	Messages int
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
