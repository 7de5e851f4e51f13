package controller

import (
	"context"
	"sync"

	"github.com/lmoretti/filo/internal/domain"
)

// Factory builds a controller for one chat.
type Factory func(chatID string) *Controller

// Manager tracks the open chat views. Opening a chat that is already open
// returns the live controller.
type Manager struct {
	mu      sync.Mutex
	open    map[string]*Controller
	factory Factory
}

// NewManager creates an empty manager.
func NewManager(factory Factory) *Manager {
	return &Manager{
		open:    make(map[string]*Controller),
		factory: factory,
	}
}

// Open returns the controller for chatID, starting one if needed.
func (m *Manager) Open(ctx context.Context, chatID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.open[chatID]; ok {
		return c, nil
	}
	c := m.factory(chatID)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	m.open[chatID] = c
	return c, nil
}

// Get returns the live controller for chatID, or ErrChatNotFound when the
// chat is not open.
func (m *Manager) Get(chatID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.open[chatID]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	return c, nil
}

// Close tears down the view for chatID, if open.
func (m *Manager) Close(chatID string) {
	m.mu.Lock()
	c, ok := m.open[chatID]
	delete(m.open, chatID)
	m.mu.Unlock()
	if ok {
		c.Close()
	}
}

// CloseAll tears down every open view.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := m.open
	m.open = make(map[string]*Controller)
	m.mu.Unlock()
	for _, c := range open {
		c.Close()
	}
}

// Count returns the number of open views.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}
