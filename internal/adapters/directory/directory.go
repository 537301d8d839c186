// Package directory resolves user ids to display names. Names are used for
// presentation only.
package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/okian/backr/internal/domain/model"
)

const opResolve = "directory.resolve"

// Resolver maps a user id to a display name.
type Resolver interface {
	ResolveDisplayName(ctx context.Context, userID string) (string, error)
}

// Static resolves names from an in-memory table.
type Static struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewStatic copies names into a new resolver.
func NewStatic(names map[string]string) *Static {
	s := &Static{names: make(map[string]string, len(names))}
	for id, name := range names {
		s.names[id] = name
	}
	return s
}

// ResolveDisplayName implements Resolver.
func (s *Static) ResolveDisplayName(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.names[userID]
	if !ok || strings.TrimSpace(name) == "" {
		return "", model.NewError(opResolve, model.ErrNotFound, "user %s", userID)
	}
	return name, nil
}

// Set records or replaces the name of userID.
func (s *Static) Set(userID, name string) {
	s.mu.Lock()
	s.names[userID] = name
	s.mu.Unlock()
}

// DisplayName resolves userID and falls back to model.AnonymousName on any
// failure.
func DisplayName(ctx context.Context, r Resolver, userID string) string {
	if r == nil || userID == "" {
		return model.AnonymousName
	}
	name, err := r.ResolveDisplayName(ctx, userID)
	if err != nil || strings.TrimSpace(name) == "" {
		return model.AnonymousName
	}
	return strings.TrimSpace(name)
}
