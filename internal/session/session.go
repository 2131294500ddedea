// Package session holds the explicit per-user context threaded through every
// request: navigation state plus the last successful decision.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/xray-check/internal/decision"
	"github.com/example/xray-check/internal/navigation"
)

// Session is one user's interaction state.
type Session struct {
	ID         string             `json:"id"`
	Navigation navigation.State   `json:"navigation"`
	Decision   *decision.Decision `json:"decision,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// New creates a session in the initial state. An empty id gets a fresh uuid.
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{ID: id, Navigation: navigation.NewState()}
}

// Apply overwrites the decision and mirrors its advice flag into navigation.
func (s *Session) Apply(d decision.Decision) {
	s.Decision = &d
	s.Navigation.ApplyDecision(d.ShowAdvice)
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (s *Session) Clone() *Session {
	c := *s
	if s.Decision != nil {
		d := *s.Decision
		c.Decision = &d
	}
	return &c
}
