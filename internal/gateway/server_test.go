package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lmoretti/filo/internal/bus"
	"github.com/lmoretti/filo/internal/call"
	"github.com/lmoretti/filo/internal/chat"
	"github.com/lmoretti/filo/internal/config"
	"github.com/lmoretti/filo/internal/controller"
	"github.com/lmoretti/filo/internal/media"
	"github.com/lmoretti/filo/internal/mirror"
	"github.com/lmoretti/filo/internal/presence"
	"github.com/lmoretti/filo/internal/remote"
	"github.com/lmoretti/filo/internal/remote/memstore"
	"github.com/lmoretti/filo/internal/store"
	"go.uber.org/zap"
)

type fixture struct {
	remote *memstore.Store
	bus    *bus.Bus
	srv    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rs := memstore.New()
	rs.PutChat(remote.ChatDoc{ID: "c1", Name: "Alice", Participants: []string{"u1", "u2"}})
	rs.PutChat(remote.ChatDoc{ID: "blocked", Name: "Mallory", Participants: []string{"u1", "u3"}, Blocked: true})

	b := bus.New()
	logger, _ := zap.NewDevelopment()

	db, err := store.Open(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng := mirror.NewEngine(db, b, logger, "u1")
	eng.Start(ctx)
	t.Cleanup(eng.Stop)

	calls := call.NewCoordinator(rs, b, logger)
	mediaCfg := config.Default().Media
	mediaCfg.MaxUploadBytes = 1 << 20
	pipeline := media.NewPipeline(rs, mediaCfg, logger)
	manager := controller.NewManager(func(chatID string) *controller.Controller {
		session := chat.NewSession(rs, b, logger, chatID, "u1")
		return controller.New(session, pipeline, calls, b, logger, chatID, "u1")
	})
	t.Cleanup(manager.CloseAll)

	tracker := presence.NewTracker(rs, b, logger, "u1")
	gw := New(manager, db, b, calls, tracker, logger, "main")
	srv := httptest.NewServer(gw.Router())
	t.Cleanup(srv.Close)

	return &fixture{remote: rs, bus: b, srv: srv}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (f *fixture) del(t *testing.T, path string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func waitFor(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", desc)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	var status struct {
		Profile   string `json:"profile"`
		OpenChats int    `json:"open_chats"`
		CallState string `json:"call_state"`
	}
	if code := f.get(t, "/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.Profile != "main" || status.OpenChats != 0 || status.CallState != string(call.Idle) {
		t.Errorf("status = %+v", status)
	}
}

func TestOpenSendAndMirror(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/chats/c1/open", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = f.post(t, "/v1/chats/c1/messages", map[string]string{"body": "hello"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status = %d", resp.StatusCode)
	}
	var msg struct {
		Status      string `json:"status"`
		Provisional bool   `json:"provisional"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if msg.Status != "sending" || !msg.Provisional {
		t.Errorf("provisional response = %+v", msg)
	}

	// The reconciled send reaches the mirror and shows in the chat list.
	waitFor(t, func() bool {
		var chats []store.Chat
		if f.get(t, "/v1/chats", &chats) != http.StatusOK {
			return false
		}
		for _, c := range chats {
			if c.ID == "c1" && c.LastMessagePreview == "hello" {
				return true
			}
		}
		return false
	}, "message to reach the mirror chat list")

	waitFor(t, func() bool {
		var msgs []store.Message
		if f.get(t, "/v1/chats/c1/messages", &msgs) != http.StatusOK {
			return false
		}
		return len(msgs) == 1 && msgs[0].Body == "hello" && msgs[0].FromMe
	}, "message to reach the mirror read path")
}

func TestSendToUnopenedChatIs404(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/chats/c1/messages", map[string]string{"body": "hi"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBlockedChatIs403(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/chats/blocked/open", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d", resp.StatusCode)
	}

	resp = f.post(t, "/v1/chats/blocked/messages", map[string]string{"body": "hi"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestCallConflictIs409(t *testing.T) {
	f := newFixture(t)

	for _, id := range []string{"c1", "blocked"} {
		resp := f.post(t, "/v1/chats/"+id+"/open", nil)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("open %s status = %d", id, resp.StatusCode)
		}
	}

	resp := f.post(t, "/v1/chats/c1/call", map[string]bool{"video": true})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start call status = %d", resp.StatusCode)
	}

	resp = f.post(t, "/v1/chats/blocked/call", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second call status = %d, want 409", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/v1/chats/c1/call", nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Errorf("end call status = %d, want 204", del.StatusCode)
	}
	if f.remote.HasCall("c1") {
		t.Error("call still registered after DELETE")
	}
}

func TestAttachmentEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/chats/c1/open", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d", resp.StatusCode)
	}

	resp = f.post(t, "/v1/chats/c1/attachments", map[string]any{
		"name":         "notes.txt",
		"content_type": "text/plain",
		"data":         []byte("meeting notes"),
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("attach status = %d", resp.StatusCode)
	}
	var msg struct {
		Kind          string `json:"kind"`
		AttachmentRef string `json:"attachment_ref"`
		Provisional   bool   `json:"provisional"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if msg.Kind != "file" || !msg.Provisional {
		t.Errorf("attachment message = %+v", msg)
	}
	if !strings.HasPrefix(msg.AttachmentRef, "mem://chats/c1/files/") || !strings.HasSuffix(msg.AttachmentRef, "_notes.txt") {
		t.Errorf("ref = %q", msg.AttachmentRef)
	}
	data, meta, ok := f.remote.Object(strings.TrimPrefix(msg.AttachmentRef, "mem://"))
	if !ok || string(data) != "meeting notes" || meta.ContentType != "text/plain" {
		t.Errorf("stored object = %q %+v (%v)", data, meta, ok)
	}
}

func TestAttachmentAudioFlagForcesAudioKind(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/chats/c1/open", nil)
	_ = resp.Body.Close()

	resp = f.post(t, "/v1/chats/c1/attachments", map[string]any{
		"name":         "voice.ogg",
		"content_type": "application/octet-stream",
		"data":         []byte("oggdata"),
		"audio":        true,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("attach status = %d", resp.StatusCode)
	}
	var msg struct {
		Kind          string `json:"kind"`
		AttachmentRef string `json:"attachment_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if msg.Kind != "audio" || !strings.Contains(msg.AttachmentRef, "/audios/") {
		t.Errorf("attachment message = %+v", msg)
	}
}

func TestAttachmentErrorStatuses(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/chats/c1/attachments", map[string]any{"data": []byte("x")})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unopened chat status = %d, want 404", resp.StatusCode)
	}

	for _, id := range []string{"c1", "blocked"} {
		resp = f.post(t, "/v1/chats/"+id+"/open", nil)
		_ = resp.Body.Close()
	}

	resp = f.post(t, "/v1/chats/c1/attachments", map[string]any{"name": "empty.txt"})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty data status = %d, want 400", resp.StatusCode)
	}

	resp = f.post(t, "/v1/chats/blocked/attachments", map[string]any{"data": []byte("x")})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("blocked chat status = %d, want 403", resp.StatusCode)
	}

	resp = f.post(t, "/v1/chats/c1/attachments", map[string]any{
		"name":         "huge.bin",
		"content_type": "application/octet-stream",
		"data":         make([]byte, 1<<20+1),
	})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize status = %d, want 413", resp.StatusCode)
	}
}

func TestDeleteMessageEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/chats/c1/open", nil)
	_ = resp.Body.Close()
	resp = f.post(t, "/v1/chats/c1/messages", map[string]string{"body": "going away"})
	_ = resp.Body.Close()

	waitFor(t, func() bool {
		return len(f.remote.Messages("c1")) == 1
	}, "send to reach the remote store")
	msgID := f.remote.Messages("c1")[0].ID

	if code := f.del(t, "/v1/chats/c1/messages/"+msgID); code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", code)
	}
	if got := f.remote.Messages("c1"); len(got) != 0 {
		t.Errorf("remote messages after delete = %d, want 0", len(got))
	}

	// The next snapshot prunes the mirror too.
	waitFor(t, func() bool {
		var msgs []store.Message
		if f.get(t, "/v1/chats/c1/messages", &msgs) != http.StatusOK {
			return false
		}
		return len(msgs) == 0
	}, "mirror to prune the deleted message")
}

func TestDiscardEndpoint(t *testing.T) {
	f := newFixture(t)

	if code := f.del(t, "/v1/chats/c1/outbox/bogus"); code != http.StatusNotFound {
		t.Errorf("unopened chat status = %d, want 404", code)
	}

	resp := f.post(t, "/v1/chats/c1/open", nil)
	_ = resp.Body.Close()

	if code := f.del(t, "/v1/chats/c1/outbox/bogus"); code != http.StatusNoContent {
		t.Errorf("discard status = %d, want 204", code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/chats/c1/open", nil)
	_ = resp.Body.Close()
	resp = f.post(t, "/v1/chats/c1/messages", map[string]string{"body": "needle in a haystack"})
	_ = resp.Body.Close()

	waitFor(t, func() bool {
		var results []store.SearchResult
		if f.get(t, "/v1/search?q=needle", &results) != http.StatusOK {
			return false
		}
		return len(results) == 1 && strings.Contains(results[0].Snippet, "needle")
	}, "search to find the mirrored message")

	if code := f.get(t, "/v1/search", nil); code != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", code)
	}
}

func TestPresenceSignalEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/presence/hidden", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	doc, ok := f.remote.Presence("u1")
	if !ok || doc.Status != "offline" {
		t.Errorf("presence after hidden = %+v (%v)", doc, ok)
	}

	resp = f.post(t, "/v1/presence/bogus", nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus signal status = %d, want 400", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/events?prefix=call."
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	// Give the server loop a beat to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	f.bus.Publish(bus.Event{
		Kind:      "call.state_changed",
		Timestamp: time.Now(),
		Payload:   call.StateChange{ChatID: "c1", From: call.Idle, To: call.Ringing},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Kind != "call.state_changed" {
		t.Errorf("frame kind = %q", frame.Kind)
	}
	if !bytes.Contains(frame.Payload, []byte("RINGING")) {
		t.Errorf("payload = %s, want RINGING transition", frame.Payload)
	}
}
