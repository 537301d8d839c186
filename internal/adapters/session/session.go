// Package session tells the engine who is signed in.
package session

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// HeaderUserID carries the authenticated user id on HTTP requests.
const HeaderUserID = "X-User-Id"

// Provider reports the current user.
type Provider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// Watcher is a Provider whose identity can change while a view is open.
type Watcher interface {
	Provider
	// Watch delivers the new user id ("" when signed out) after every
	// change until ctx ends.
	Watch(ctx context.Context) <-chan string
}

type ctxKey struct{}

// WithUser returns ctx carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// FromContext returns the user id stored by WithUser.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// ContextProvider reads the user from the request context.
type ContextProvider struct{}

// CurrentUserID implements Provider.
func (ContextProvider) CurrentUserID(ctx context.Context) (string, bool) {
	return FromContext(ctx)
}

// Middleware stores the HeaderUserID value in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
			r = r.WithContext(WithUser(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// Switchable is a Watcher whose identity is set explicitly, for clients that
// keep one long-lived session.
type Switchable struct {
	mu       sync.Mutex
	userID   string
	watchers map[chan string]struct{}
}

var _ Watcher = (*Switchable)(nil)

// NewSwitchable starts signed in as userID ("" for signed out).
func NewSwitchable(userID string) *Switchable {
	return &Switchable{userID: userID, watchers: make(map[chan string]struct{})}
}

// CurrentUserID implements Provider.
func (s *Switchable) CurrentUserID(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.userID != ""
}

// Set changes the identity and notifies watchers. Setting the same id is a
// no-op.
func (s *Switchable) Set(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == userID {
		return
	}
	s.userID = userID
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- userID
	}
}

// Watch implements Watcher. Only the latest identity is kept for a slow
// reader.
func (s *Switchable) Watch(ctx context.Context) <-chan string {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		s.mu.Unlock()
	}()
	return ch
}
