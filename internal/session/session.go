// Package session keeps per-chat state: who the participant is and which
// mode their conversation with the bot is in.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/switchboard/internal/gateway"
)

// Identity is what the identity source knows about a participant.
type Identity struct {
	Name     string
	Username string
	Manager  string
	Role     Role
}

// Resolver looks up a participant's identity. It returns nil, nil for
// unknown users.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (*Identity, error)
}

// Session is one chat participant's state. Values are immutable snapshots;
// the Table replaces entries wholesale on every change.
type Session struct {
	UserID      string
	Identity    Identity
	DefaultMode Mode
	Mode        Mode
	RatingToken string             // dialog awaiting the asker's rating
	Draft       gateway.MessageRef // question message while the link is pending
}

// Registered reports whether the session belongs to a known participant.
func (s Session) Registered() bool {
	return s.DefaultMode != ModeUnregistered
}

// Table is the process-wide session store.
type Table struct {
	resolver Resolver

	mu      sync.RWMutex
	entries map[string]*Session
}

// NewTable creates a Table backed by resolver.
func NewTable(resolver Resolver) (*Table, error) {
	if resolver == nil {
		return nil, fmt.Errorf("session: resolver is required")
	}
	return &Table{
		resolver: resolver,
		entries:  make(map[string]*Session),
	}, nil
}

// Resolve returns the session for userID, creating it or refreshing its
// identity from the resolver. The current mode survives a refresh unless the
// role-derived default mode changed. Concurrent resolves are last-writer-wins.
func (t *Table) Resolve(ctx context.Context, userID string) (Session, error) {
	id, err := t.resolver.Resolve(ctx, userID)
	if err != nil {
		if s, ok := t.Get(userID); ok {
			return s, fmt.Errorf("session: resolve %s: %w", userID, err)
		}
		return Session{}, fmt.Errorf("session: resolve %s: %w", userID, err)
	}
	var ident Identity
	if id != nil {
		ident = *id
	}
	def := DefaultMode(ident.Role)

	t.mu.Lock()
	defer t.mu.Unlock()
	next := &Session{
		UserID:      userID,
		Identity:    ident,
		DefaultMode: def,
		Mode:        def,
	}
	if prev, ok := t.entries[userID]; ok && prev.DefaultMode == def {
		next.Mode = prev.Mode
		next.RatingToken = prev.RatingToken
		next.Draft = prev.Draft
	}
	t.entries[userID] = next
	return *next, nil
}

// Get returns the session for userID without consulting the resolver.
func (t *Table) Get(userID string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.entries[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// SetMode moves userID's session to mode. Unknown sessions are ignored.
func (t *Table) SetMode(userID string, mode Mode) {
	t.update(userID, func(s *Session) {
		s.Mode = mode
		if mode != ModeRating {
			s.RatingToken = ""
		}
		if mode != ModeAwaitingLink {
			s.Draft = gateway.MessageRef{}
		}
	})
}

// ResetMode returns userID's session to its default mode.
func (t *Table) ResetMode(userID string) {
	t.update(userID, func(s *Session) {
		s.Mode = s.DefaultMode
		s.RatingToken = ""
		s.Draft = gateway.MessageRef{}
	})
}

// AwaitRating moves an employee session to ModeRating for the dialog token.
func (t *Table) AwaitRating(userID, token string) {
	t.update(userID, func(s *Session) {
		s.Mode = ModeRating
		s.RatingToken = token
	})
}

// SetDraft stores the question message and moves to ModeAwaitingLink.
func (t *Table) SetDraft(userID string, ref gateway.MessageRef) {
	t.update(userID, func(s *Session) {
		s.Mode = ModeAwaitingLink
		s.Draft = ref
	})
}

// update applies fn to a copy of the entry and swaps it in.
func (t *Table) update(userID string, fn func(*Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.entries[userID]
	if !ok {
		return
	}
	next := *prev
	fn(&next)
	t.entries[userID] = &next
}
