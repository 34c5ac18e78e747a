package app

import (
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Session is an open signaling connection and the identity it announced.
type Session struct {
	ID          domain.ConnID
	Conn        core.SignalConnection
	User        *domain.User
	ConnectedAt time.Time
}

// Registry tracks open connections by id so messages can be addressed to
// a single connection. Like the membership table it is owned by the
// orchestrator loop and holds no lock.
type Registry struct {
	sessions map[domain.ConnID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.ConnID]*Session)}
}

func (r *Registry) Bind(id domain.ConnID, conn core.SignalConnection, user *domain.User) *Session {
	if user == nil {
		user = &domain.User{}
	}
	s := &Session{ID: id, Conn: conn, User: user, ConnectedAt: time.Now()}
	r.sessions[id] = s
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(user.ID)).Msg("bound connection")
	return s
}

func (r *Registry) Get(id domain.ConnID) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Unbind reports false when id was already unbound, which makes a second
// disconnect for the same connection a no-op.
func (r *Registry) Unbind(id domain.ConnID) (*Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbound connection")
	return s, true
}

func (r *Registry) UpdateUser(id domain.ConnID, user *domain.User) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.User = user
	return true
}

func (r *Registry) Len() int { return len(r.sessions) }

func (r *Registry) All() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
