// Package redisstore implements the remote contracts on Redis: message
// documents in a per-chat hash, ordering in a sorted set scored by the
// server-assigned timestamp, and subscription ticks over pub/sub.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lmoretti/filo/internal/domain"
	"github.com/lmoretti/filo/internal/remote"
	"github.com/redis/go-redis/v9"
)

const snapshotBuf = 32

// Store implements remote.DocumentStore and remote.CallSignaler on a Redis
// instance.
type Store struct {
	cli *redis.Client
}

// New connects to Redis at url and verifies the connection.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{cli: cli}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.cli.Close()
}

func chatKey(chatID string) string  { return "chat:" + chatID }
func msgsKey(chatID string) string  { return "chat:" + chatID + ":msgs" }
func orderKey(chatID string) string { return "chat:" + chatID + ":order" }
func tickChan(chatID string) string { return "chat:" + chatID + ":tick" }
func callKey(chatID string) string  { return "call:" + chatID }

const presenceKey = "presence"

// PutChat seeds chat metadata.
func (s *Store) PutChat(ctx context.Context, doc remote.ChatDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.cli.Set(ctx, chatKey(doc.ID), raw, 0).Err()
}

func (s *Store) GetChat(ctx context.Context, chatID string) (remote.ChatDoc, error) {
	raw, err := s.cli.Get(ctx, chatKey(chatID)).Bytes()
	if err == redis.Nil {
		return remote.ChatDoc{}, domain.ErrChatNotFound
	}
	if err != nil {
		return remote.ChatDoc{}, fmt.Errorf("get chat: %w", err)
	}
	var doc remote.ChatDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return remote.ChatDoc{}, fmt.Errorf("decode chat: %w", err)
	}
	return doc, nil
}

// Subscribe delivers the current snapshot immediately, then a fresh snapshot
// on every tick published for the chat. The channel closes when ctx is
// cancelled or the pub/sub stream breaks.
func (s *Store) Subscribe(ctx context.Context, chatID string) (<-chan remote.Snapshot, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}

	pubsub := s.cli.Subscribe(ctx, tickChan(chatID))
	// Force the subscription to be established before the initial read so
	// no tick between them is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan remote.Snapshot, snapshotBuf)

	initial, err := s.snapshot(ctx, chatID)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	out <- initial

	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		ticks := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ticks:
				if !ok {
					return
				}
				snap, err := s.snapshot(ctx, chatID)
				if err != nil {
					return
				}
				select {
				case out <- snap:
				default:
				}
			}
		}
	}()

	return out, nil
}

func (s *Store) WriteMessage(ctx context.Context, chatID string, doc remote.MessageDoc) (remote.MessageDoc, error) {
	doc.ID = uuid.New().String()
	doc.ChatID = chatID

	// Assign a timestamp strictly after the current head of the order set.
	ts := time.Now().UnixMilli()
	head, err := s.cli.ZRevRangeWithScores(ctx, orderKey(chatID), 0, 0).Result()
	if err != nil && err != redis.Nil {
		return remote.MessageDoc{}, &domain.TransportError{Op: "write message", Err: err}
	}
	if len(head) > 0 && int64(head[0].Score) >= ts {
		ts = int64(head[0].Score) + 1
	}
	doc.Timestamp = ts

	raw, err := json.Marshal(doc)
	if err != nil {
		return remote.MessageDoc{}, err
	}

	pipe := s.cli.TxPipeline()
	pipe.HSet(ctx, msgsKey(chatID), doc.ID, raw)
	pipe.ZAdd(ctx, orderKey(chatID), redis.Z{Score: float64(ts), Member: doc.ID})
	pipe.Publish(ctx, tickChan(chatID), doc.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return remote.MessageDoc{}, &domain.TransportError{Op: "write message", Err: err}
	}
	return doc, nil
}

func (s *Store) BatchUpdateReaders(ctx context.Context, chatID string, messageIDs []string, readerID string) error {
	err := s.cli.Watch(ctx, func(tx *redis.Tx) error {
		updated := make(map[string][]byte, len(messageIDs))
		for _, id := range messageIDs {
			raw, err := tx.HGet(ctx, msgsKey(chatID), id).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return err
			}
			var doc remote.MessageDoc
			if err := json.Unmarshal(raw, &doc); err != nil {
				return err
			}
			already := false
			for _, r := range doc.Readers {
				if r == readerID {
					already = true
					break
				}
			}
			if already {
				continue
			}
			doc.Readers = append(doc.Readers, readerID)
			out, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			updated[id] = out
		}
		if len(updated) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for id, raw := range updated {
				pipe.HSet(ctx, msgsKey(chatID), id, raw)
			}
			pipe.Publish(ctx, tickChan(chatID), "readers")
			return nil
		})
		return err
	}, msgsKey(chatID))
	if err != nil {
		return &domain.TransportError{Op: "batch update readers", Err: err}
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	pipe := s.cli.TxPipeline()
	pipe.HDel(ctx, msgsKey(chatID), messageID)
	pipe.ZRem(ctx, orderKey(chatID), messageID)
	pipe.Publish(ctx, tickChan(chatID), messageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return &domain.TransportError{Op: "delete message", Err: err}
	}
	return nil
}

func (s *Store) WritePresence(ctx context.Context, userID string, doc remote.PresenceDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.cli.HSet(ctx, presenceKey, userID, raw).Err(); err != nil {
		return &domain.TransportError{Op: "write presence", Err: err}
	}
	return nil
}

// StartCall registers the call document for the chat.
func (s *Store) StartCall(ctx context.Context, chatID string, video bool) error {
	raw, err := json.Marshal(map[string]any{
		"id":         uuid.New().String(),
		"video":      video,
		"started_at": time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := s.cli.Set(ctx, callKey(chatID), raw, 0).Err(); err != nil {
		return &domain.TransportError{Op: "start call", Err: err}
	}
	return nil
}

// EndCall removes the call document for the chat.
func (s *Store) EndCall(ctx context.Context, chatID string) error {
	if err := s.cli.Del(ctx, callKey(chatID)).Err(); err != nil {
		return &domain.TransportError{Op: "end call", Err: err}
	}
	return nil
}

// snapshot reads the full ordered message list for a chat.
func (s *Store) snapshot(ctx context.Context, chatID string) (remote.Snapshot, error) {
	ids, err := s.cli.ZRange(ctx, orderKey(chatID), 0, -1).Result()
	if err != nil {
		return remote.Snapshot{}, fmt.Errorf("read order: %w", err)
	}
	snap := remote.Snapshot{ChatID: chatID}
	if len(ids) == 0 {
		return snap, nil
	}
	raws, err := s.cli.HMGet(ctx, msgsKey(chatID), ids...).Result()
	if err != nil {
		return remote.Snapshot{}, fmt.Errorf("read messages: %w", err)
	}
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue // deleted between ZRange and HMGet
		}
		var doc remote.MessageDoc
		if err := json.Unmarshal([]byte(str), &doc); err != nil {
			continue
		}
		snap.Messages = append(snap.Messages, doc)
	}
	return snap, nil
}
