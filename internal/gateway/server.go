// Package gateway exposes the daemon's engine to local UIs over HTTP and
// WebSocket: mirror reads, session control, and a live bus event stream.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/lmoretti/filo/internal/bus"
	"github.com/lmoretti/filo/internal/call"
	"github.com/lmoretti/filo/internal/controller"
	"github.com/lmoretti/filo/internal/presence"
	"github.com/lmoretti/filo/internal/store"
	"go.uber.org/zap"
)

// Server is the local control surface. It binds to a loopback address; it
// carries no authentication of its own.
type Server struct {
	manager *controller.Manager
	db      *store.DB
	bus     *bus.Bus
	calls   *call.Coordinator
	tracker *presence.Tracker
	logger  *zap.Logger
	profile string
	started time.Time

	httpSrv *http.Server
}

// New creates a gateway server.
func New(manager *controller.Manager, db *store.DB, b *bus.Bus, calls *call.Coordinator, tracker *presence.Tracker, logger *zap.Logger, profile string) *Server {
	return &Server{
		manager: manager,
		db:      db,
		bus:     b,
		calls:   calls,
		tracker: tracker,
		logger:  logger.Named("gateway"),
		profile: profile,
		started: time.Now(),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/chats", s.handleListChats)
		r.Get("/search", s.handleSearch)
		r.Get("/events", s.handleEvents)
		r.Post("/presence/{signal}", s.handlePresenceSignal)

		r.Route("/chats/{chatID}", func(r chi.Router) {
			r.Post("/open", s.handleOpenChat)
			r.Post("/close", s.handleCloseChat)
			r.Get("/messages", s.handleListMessages)
			r.Post("/messages", s.handleSendMessage)
			r.Delete("/messages/{messageID}", s.handleDeleteMessage)
			r.Post("/attachments", s.handleAttachment)
			r.Delete("/outbox/{correlationID}", s.handleDiscard)
			r.Post("/call", s.handleStartCall)
			r.Delete("/call", s.handleEndCall)
		})
	})
	return r
}

// Start binds the listener and serves until Stop.
func (s *Server) Start(listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("gateway listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway serve", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the listener down, waiting briefly for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
