// Package identity publishes the current authenticated principal.
//
// There is one update entry point (Set/Clear) and an explicit subscription
// mechanism; nothing reads ambient global state. Notifications are delivered
// synchronously, so by the time Set returns every subscriber has seen the
// transition; a profile fetch keyed on the new principal can never race
// ahead of its own sign-in event.
package identity

import "sync"

// Principal is the authenticated identity of a logged-in user. Its ID doubles
// as the profile's primary key.
type Principal struct {
	ID          string
	Email       string
	DisplayName string
}

// Change describes a session transition. Principal is the zero value when
// Present is false (sign-out or expiry).
type Change struct {
	Principal Principal
	Present   bool
}

// Subscriber receives session transitions.
type Subscriber func(Change)

// Session owns the current principal and fans transitions out to subscribers.
type Session struct {
	mu          sync.RWMutex
	current     Principal
	present     bool
	subscribers map[int]Subscriber
	nextID      int
}

func NewSession() *Session {
	return &Session{subscribers: make(map[int]Subscriber)}
}

// Current returns the published principal, if any. No round trip: this is
// whatever the last Set/Clear left behind.
func (s *Session) Current() (Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.present
}

// Set publishes a new principal. Subscribers run before Set returns.
func (s *Session) Set(p Principal) {
	s.mu.Lock()
	s.current = p
	s.present = true
	subs := s.snapshot()
	s.mu.Unlock()

	for _, sub := range subs {
		sub(Change{Principal: p, Present: true})
	}
}

// Clear removes the current principal. Always succeeds locally.
func (s *Session) Clear() {
	s.mu.Lock()
	s.current = Principal{}
	s.present = false
	subs := s.snapshot()
	s.mu.Unlock()

	for _, sub := range subs {
		sub(Change{})
	}
}

// Subscribe registers a subscriber and returns an unsubscribe func. The
// subscriber immediately receives the current state so late subscribers do
// not miss an already-signed-in principal.
func (s *Session) Subscribe(sub Subscriber) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = sub
	current, present := s.current, s.present
	s.mu.Unlock()

	sub(Change{Principal: current, Present: present})

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// snapshot copies subscribers under the held lock so delivery happens outside
// of it.
func (s *Session) snapshot() []Subscriber {
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	return subs
}
