package app

import (
	"context"
	"sync"

	"github.com/dkeye/omnio/internal/core"
	"github.com/dkeye/omnio/internal/domain"
	"github.com/rs/zerolog/log"
)

type clientEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry maps live client ids to their signaling connections.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.ClientID]*clientEntry
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.ClientID]*clientEntry)}
}

func (r *Registry) Bind(id domain.ClientID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = &clientEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("bound client")
}

func (r *Registry) Get(id domain.ClientID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.clients[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unbind forgets id and reports whether it was registered.
func (r *Registry) Unbind(id domain.ClientID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("unbind client")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Cancel stops the connection's pumps; the adapter then runs the disconnect
// path.
func (r *Registry) Cancel(id domain.ClientID) bool {
	r.mu.RLock()
	e, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("canceled client")
	return true
}
