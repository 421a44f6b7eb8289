package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/agentlink/internal/session"
)

// Gateway view of one live session.
type SessionSnapshot struct {
	ID           string    `json:"id"`
	PeerIdentity string    `json:"peer_identity"`
	AgentID      string    `json:"agent_id,omitempty"`
	RemoteAddr   string    `json:"remote_addr"`
	Path         string    `json:"path"`
	StartedAt    time.Time `json:"started_at"`
	FramesIn     uint64    `json:"frames_in"`
	FramesOut    uint64    `json:"frames_out"`
}

// Registry tracks running sessions. The lock guards the map only.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

func (r *Registry) add(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) Snapshot() []SessionSnapshot {
	r.mu.Lock()
	live := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	out := make([]SessionSnapshot, 0, len(live))
	for _, s := range live {
		info := s.Info()
		out = append(out, SessionSnapshot{
			ID:           info.ID,
			PeerIdentity: info.PeerIdentity,
			AgentID:      info.AgentID,
			RemoteAddr:   info.RemoteAddr,
			Path:         info.Path,
			StartedAt:    info.StartedAt,
			FramesIn:     s.FramesIn(),
			FramesOut:    s.FramesOut(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
