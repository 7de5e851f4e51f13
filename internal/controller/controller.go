// Package controller is the composition root for one open chat view: it
// routes user intent into the message session, media pipeline, and call
// coordinator, and keeps read receipts current as the rendered list changes.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/lmoretti/filo/internal/bus"
	"github.com/lmoretti/filo/internal/call"
	"github.com/lmoretti/filo/internal/chat"
	"github.com/lmoretti/filo/internal/domain"
	"github.com/lmoretti/filo/internal/media"
	"go.uber.org/zap"
)

// Controller wires one open chat view together. All send paths are disabled
// while the chat is flagged blocked.
type Controller struct {
	session *chat.Session
	media   *media.Pipeline
	calls   *call.Coordinator
	bus     *bus.Bus
	logger  *zap.Logger
	chatID  string
	userID  string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a controller for one chat. Call Open to start it.
func New(session *chat.Session, pipeline *media.Pipeline, calls *call.Coordinator, b *bus.Bus, logger *zap.Logger, chatID, userID string) *Controller {
	return &Controller{
		session: session,
		media:   pipeline,
		calls:   calls,
		bus:     b,
		logger:  logger.Named("controller").With(zap.String("chat_id", chatID)),
		chatID:  chatID,
		userID:  userID,
	}
}

// Open starts the message session and the read-receipt watcher.
func (c *Controller) Open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	stream, err := c.session.Open(ctx)
	if err != nil {
		cancel()
		return err
	}

	c.wg.Add(1)
	go c.watch(ctx, stream)
	return nil
}

// Close tears the view down. In-flight sends and uploads already issued
// complete on their own; their results are discarded.
func (c *Controller) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.session.Close()
	c.wg.Wait()
}

// Messages returns the current rendered list.
func (c *Controller) Messages() []domain.Message {
	return c.session.Messages()
}

// Blocked reports whether sends are disabled for this chat.
func (c *Controller) Blocked() bool {
	return c.session.Blocked()
}

// SubmitText sends typed text.
func (c *Controller) SubmitText(text string) (domain.Message, error) {
	if text == "" {
		return domain.Message{}, nil
	}
	if c.session.Blocked() {
		return domain.Message{}, domain.ErrChatBlocked
	}
	return c.session.Send(text, nil)
}

// AttachFile processes and uploads a selected file, then sends a message
// carrying the resolved reference. The attachment kind follows the file's
// content type. No message is created when processing or upload fails.
func (c *Controller) AttachFile(ctx context.Context, f media.File) (domain.Message, error) {
	return c.attach(ctx, f, domain.KindForContentType(f.ContentType))
}

// AttachAudio sends recorder output as an audio attachment.
func (c *Controller) AttachAudio(ctx context.Context, f media.File) (domain.Message, error) {
	return c.attach(ctx, f, domain.KindAudio)
}

func (c *Controller) attach(ctx context.Context, f media.File, kind domain.MediaKind) (domain.Message, error) {
	if c.session.Blocked() {
		return domain.Message{}, domain.ErrChatBlocked
	}

	chatDoc := c.session.Chat()
	ref, err := c.media.ProcessAndUpload(ctx, f, media.UploadOptions{
		ChatID: c.chatID,
		UserID: c.userID,
		Group:  chatDoc.Group,
		Kind:   kind,
	})
	if err != nil {
		return domain.Message{}, err
	}

	c.bus.Publish(bus.Event{
		Kind:      "media.uploaded",
		Timestamp: time.Now(),
		Payload: domain.Attachment{
			Kind:  kind,
			State: domain.MediaUploaded,
			Ref:   ref,
		},
	})

	return c.session.Send("", &domain.Attachment{
		Kind:  kind,
		State: domain.MediaUploaded,
		Ref:   ref,
	})
}

// Discard drops a failed provisional send.
func (c *Controller) Discard(correlationID string) {
	c.session.Discard(correlationID)
}

// Delete removes a message from the remote store.
func (c *Controller) Delete(ctx context.Context, messageID string) error {
	return c.session.Delete(ctx, messageID)
}

// StartCall begins a call in this chat.
func (c *Controller) StartCall(ctx context.Context, video bool) error {
	return c.calls.Start(ctx, c.chatID, video)
}

// EndCall tears the live call down.
func (c *Controller) EndCall(ctx context.Context) error {
	return c.calls.End(ctx)
}

// watch re-issues markRead whenever the rendered list changes and contains
// unread peer messages.
func (c *Controller) watch(ctx context.Context, stream <-chan []domain.Message) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msgs, ok := <-stream:
			if !ok {
				return
			}
			if !c.hasUnreadPeer(msgs) {
				continue
			}
			if err := c.session.MarkRead(ctx); err != nil {
				c.logger.Warn("mark read failed", zap.Error(err))
			}
		}
	}
}

func (c *Controller) hasUnreadPeer(msgs []domain.Message) bool {
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID != c.userID && !m.Provisional && !m.ReadBy(c.userID) {
			return true
		}
	}
	return false
}
