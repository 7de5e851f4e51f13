// Package memstore is an in-memory implementation of the remote contracts,
// used by tests and the "memory" dev backend. It mimics the hosted store's
// observable behavior: every acknowledged write shows up on the chat's
// subscription stream as a fresh ordered snapshot.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lmoretti/filo/internal/domain"
	"github.com/lmoretti/filo/internal/remote"
)

const snapshotBuf = 32

// Store implements remote.DocumentStore, remote.CallSignaler and
// remote.ObjectStorage entirely in memory.
type Store struct {
	mu       sync.Mutex
	chats    map[string]remote.ChatDoc
	messages map[string]map[string]remote.MessageDoc // chatID -> msgID -> doc
	lastTS   map[string]int64                        // chatID -> last assigned server ts
	presence map[string]remote.PresenceDoc
	subs     map[string]map[int]chan remote.Snapshot // chatID -> subID -> ch
	nextSub  int
	calls    map[string]activeCall
	objects  map[string]storedObject
}

type activeCall struct {
	ID        string
	Video     bool
	StartedAt time.Time
}

type storedObject struct {
	Data []byte
	Meta remote.UploadMetadata
}

// New creates an empty store.
func New() *Store {
	return &Store{
		chats:    make(map[string]remote.ChatDoc),
		messages: make(map[string]map[string]remote.MessageDoc),
		lastTS:   make(map[string]int64),
		presence: make(map[string]remote.PresenceDoc),
		subs:     make(map[string]map[int]chan remote.Snapshot),
		calls:    make(map[string]activeCall),
		objects:  make(map[string]storedObject),
	}
}

// PutChat seeds chat metadata. Used by dev setup and tests.
func (s *Store) PutChat(doc remote.ChatDoc) {
	s.mu.Lock()
	s.chats[doc.ID] = doc
	if _, ok := s.messages[doc.ID]; !ok {
		s.messages[doc.ID] = make(map[string]remote.MessageDoc)
	}
	s.mu.Unlock()
	s.tick(doc.ID)
}

func (s *Store) GetChat(_ context.Context, chatID string) (remote.ChatDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.chats[chatID]
	if !ok {
		return remote.ChatDoc{}, domain.ErrChatNotFound
	}
	return doc, nil
}

func (s *Store) Subscribe(ctx context.Context, chatID string) (<-chan remote.Snapshot, error) {
	s.mu.Lock()
	if _, ok := s.chats[chatID]; !ok {
		s.mu.Unlock()
		return nil, domain.ErrChatNotFound
	}
	ch := make(chan remote.Snapshot, snapshotBuf)
	if s.subs[chatID] == nil {
		s.subs[chatID] = make(map[int]chan remote.Snapshot)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[chatID][id] = ch
	initial := s.snapshotLocked(chatID)
	s.mu.Unlock()

	ch <- initial

	go func() {
		<-ctx.Done()
		// Close under the lock so tick never sends on a closed channel.
		s.mu.Lock()
		delete(s.subs[chatID], id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

func (s *Store) WriteMessage(_ context.Context, chatID string, doc remote.MessageDoc) (remote.MessageDoc, error) {
	s.mu.Lock()
	if _, ok := s.chats[chatID]; !ok {
		s.mu.Unlock()
		return remote.MessageDoc{}, domain.ErrChatNotFound
	}
	doc.ID = uuid.New().String()
	doc.ChatID = chatID
	// Server timestamps are strictly monotonic per chat.
	ts := time.Now().UnixMilli()
	if ts <= s.lastTS[chatID] {
		ts = s.lastTS[chatID] + 1
	}
	s.lastTS[chatID] = ts
	doc.Timestamp = ts
	s.messages[chatID][doc.ID] = doc
	s.mu.Unlock()

	s.tick(chatID)
	return doc, nil
}

func (s *Store) BatchUpdateReaders(_ context.Context, chatID string, messageIDs []string, readerID string) error {
	s.mu.Lock()
	msgs, ok := s.messages[chatID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrChatNotFound
	}
	for _, id := range messageIDs {
		doc, ok := msgs[id]
		if !ok {
			continue
		}
		if !contains(doc.Readers, readerID) {
			doc.Readers = append(doc.Readers, readerID)
			msgs[id] = doc
		}
	}
	s.mu.Unlock()

	s.tick(chatID)
	return nil
}

func (s *Store) DeleteMessage(_ context.Context, chatID, messageID string) error {
	s.mu.Lock()
	msgs, ok := s.messages[chatID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrChatNotFound
	}
	delete(msgs, messageID)
	s.mu.Unlock()

	s.tick(chatID)
	return nil
}

// Messages returns the stored messages for a chat in timestamp order.
func (s *Store) Messages(chatID string) []remote.MessageDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(chatID).Messages
}

func (s *Store) WritePresence(_ context.Context, userID string, doc remote.PresenceDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[userID] = doc
	return nil
}

// Presence returns the stored presence record for a user.
func (s *Store) Presence(userID string) (remote.PresenceDoc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.presence[userID]
	return doc, ok
}

// StartCall registers an active call for the chat.
func (s *Store) StartCall(_ context.Context, chatID string, video bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[chatID] = activeCall{ID: uuid.New().String(), Video: video, StartedAt: time.Now()}
	return nil
}

// EndCall removes the active call for the chat, if any.
func (s *Store) EndCall(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, chatID)
	return nil
}

// HasCall reports whether the chat has a registered call.
func (s *Store) HasCall(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.calls[chatID]
	return ok
}

// Upload stores the object bytes and returns mem://<path> as the reference.
func (s *Store) Upload(_ context.Context, path string, data []byte, meta remote.UploadMetadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[path] = storedObject{Data: buf, Meta: meta}
	return "mem://" + path, nil
}

// Object returns a stored object by path.
func (s *Store) Object(path string) ([]byte, remote.UploadMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	return obj.Data, obj.Meta, ok
}

// tick delivers a fresh snapshot to every subscriber of the chat. Delivery
// is non-blocking; a slow subscriber misses intermediate snapshots and
// catches up on the next one.
func (s *Store) tick(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked(chatID)
	for _, ch := range s.subs[chatID] {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Store) snapshotLocked(chatID string) remote.Snapshot {
	docs := make([]remote.MessageDoc, 0, len(s.messages[chatID]))
	for _, doc := range s.messages[chatID] {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Timestamp != docs[j].Timestamp {
			return docs[i].Timestamp < docs[j].Timestamp
		}
		return docs[i].ID < docs[j].ID
	})
	return remote.Snapshot{ChatID: chatID, Messages: docs}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
