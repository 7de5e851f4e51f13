package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lmoretti/filo/internal/domain"
	"github.com/lmoretti/filo/internal/media"
	"github.com/lmoretti/filo/internal/presence"
	"go.uber.org/zap"
)

type statusResponse struct {
	Profile     string `json:"profile"`
	UptimeMs    int64  `json:"uptime_ms"`
	OpenChats   int    `json:"open_chats"`
	CallChatID  string `json:"call_chat_id,omitempty"`
	CallState   string `json:"call_state"`
	CallIsVideo bool   `json:"call_is_video,omitempty"`
}

type messageResponse struct {
	ID            string   `json:"id"`
	SenderID      string   `json:"sender_id"`
	Body          string   `json:"body"`
	Kind          string   `json:"kind"`
	AttachmentRef string   `json:"attachment_ref,omitempty"`
	Status        string   `json:"status"`
	Readers       []string `json:"readers,omitempty"`
	Provisional   bool     `json:"provisional,omitempty"`
	Error         string   `json:"error,omitempty"`
	Timestamp     int64    `json:"timestamp"`
}

func toMessageResponse(m domain.Message) messageResponse {
	resp := messageResponse{
		ID:          m.ID,
		SenderID:    m.SenderID,
		Body:        m.Body,
		Kind:        "text",
		Status:      string(m.Status),
		Readers:     m.Readers,
		Provisional: m.Provisional,
		Error:       m.SendErr,
		Timestamp:   m.Timestamp,
	}
	if m.Attachment != nil {
		resp.Kind = string(m.Attachment.Kind)
		resp.AttachmentRef = m.Attachment.Ref
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cur := s.calls.Current()
	resp := statusResponse{
		Profile:   s.profile,
		UptimeMs:  time.Since(s.started).Milliseconds(),
		OpenChats: s.manager.Count(),
		CallState: string(cur.State),
	}
	if cur.ChatID != "" {
		resp.CallChatID = cur.ChatID
		resp.CallIsVideo = cur.Video
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.db.ListChats(queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	msgs, err := s.db.ListMessages(chatID, queryInt64(r, "before_ts", 0), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	results, err := s.db.SearchMessages(q, r.URL.Query().Get("chat_id"), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	// The session outlives the request; it is torn down by an explicit
	// close or at daemon shutdown.
	ctrl, err := s.manager.Open(context.Background(), chatID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("chat opened", zap.String("chat_id", chatID))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"chat_id": chatID,
		"blocked": ctrl.Blocked(),
	})
}

func (s *Server) handleCloseChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	s.manager.Close(chatID)
	s.logger.Info("chat closed", zap.String("chat_id", chatID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	ctrl, err := s.manager.Get(chatID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Body == "" {
		s.writeError(w, http.StatusBadRequest, "empty message body")
		return
	}

	msg, err := ctrl.SubmitText(req.Body)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, toMessageResponse(msg))
}

// handleAttachment runs a posted payload through the media pipeline and sends
// the resulting attachment message. The body is JSON with base64 data; local
// UIs post small payloads over loopback.
func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	ctrl, err := s.manager.Get(chatID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	var req struct {
		Name        string `json:"name"`
		ContentType string `json:"content_type"`
		Data        []byte `json:"data"`
		Audio       bool   `json:"audio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Data) == 0 {
		s.writeError(w, http.StatusBadRequest, "empty attachment data")
		return
	}

	f := media.NewFile(req.Name, req.ContentType, req.Data)
	var msg domain.Message
	if req.Audio {
		msg, err = ctrl.AttachAudio(r.Context(), f)
	} else {
		msg, err = ctrl.AttachFile(r.Context(), f)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("attachment sent",
		zap.String("chat_id", chatID),
		zap.String("name", req.Name),
		zap.Int("bytes", len(req.Data)))
	s.writeJSON(w, http.StatusAccepted, toMessageResponse(msg))
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.manager.Get(chi.URLParam(r, "chatID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := ctrl.Delete(r.Context(), chi.URLParam(r, "messageID")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDiscard drops a failed provisional send from the rendered list.
// Discarding an unknown correlation id is a no-op.
func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.manager.Get(chi.URLParam(r, "chatID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	ctrl.Discard(chi.URLParam(r, "correlationID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	ctrl, err := s.manager.Get(chatID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	var req struct {
		Video bool `json:"video"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := ctrl.StartCall(r.Context(), req.Video); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.calls.Current())
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	ctrl, err := s.manager.Get(chatID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := ctrl.EndCall(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePresenceSignal lets a UI report client lifecycle transitions. The
// write behind it is best-effort; the endpoint never fails on a dropped
// presence write.
func (s *Server) handlePresenceSignal(w http.ResponseWriter, r *http.Request) {
	sig := presence.Signal(chi.URLParam(r, "signal"))
	switch sig {
	case presence.Visible, presence.Hidden, presence.NetworkUp, presence.NetworkDown, presence.Teardown:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown presence signal")
		return
	}
	s.tracker.Signal(r.Context(), sig)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrChatNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrChatBlocked):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrCallConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPayloadTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrSessionClosed):
		s.writeError(w, http.StatusGone, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
