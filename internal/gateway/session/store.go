// Package session tracks client sessions and the project each one has open.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrNotFound = errors.New("session not found")

// Session is the per-client state. Project holds an opaque handle owned by
// the caller, typically the project actor the client opened.
type Session struct {
	ID         string
	Project    any
	LastActive time.Time
}

// Store is the session registry injected into the transport.
type Store interface {
	Create() *Session
	Get(id string) (*Session, error)
	// Update runs fn on the session under the registry lock.
	Update(id string, fn func(*Session)) error
	Destroy(id string)
	// Sweep drops sessions idle for longer than the TTL and returns them.
	Sweep(now time.Time) []*Session
	Len() int
}

// LRUStore bounds the number of live sessions; when full, the least recently
// used session is evicted and handed to the eviction callback.
type LRUStore struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *Session]
	ttl     time.Duration
	now     func() time.Time
	onEvict func(*Session)
	// evicted collects sessions removed while mu is held; callbacks run
	// after unlocking so a slow release never blocks the registry.
	evicted []*Session
}

type Option func(*LRUStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *LRUStore) { s.now = now }
}

// OnEvict is called for every session leaving the registry so its project
// handle can be released.
func OnEvict(fn func(*Session)) Option {
	return func(s *LRUStore) { s.onEvict = fn }
}

func NewLRUStore(capacity int, ttl time.Duration, opts ...Option) (*LRUStore, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	s := &LRUStore{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := lru.NewWithEvict[string, *Session](capacity, func(_ string, sess *Session) {
		s.evicted = append(s.evicted, sess)
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

func (s *LRUStore) Create() *Session {
	sess := &Session{ID: uuid.NewString(), LastActive: s.now()}
	s.mu.Lock()
	s.cache.Add(sess.ID, sess)
	s.unlock()
	return sess
}

func (s *LRUStore) Get(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.cache.Get(id)
	if !ok || s.expired(sess, s.now()) {
		return nil, ErrNotFound
	}
	sess.LastActive = s.now()
	return sess, nil
}

func (s *LRUStore) Update(id string, fn func(*Session)) error {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.cache.Get(id)
	if !ok || s.expired(sess, s.now()) {
		return ErrNotFound
	}
	fn(sess)
	sess.LastActive = s.now()
	return nil
}

func (s *LRUStore) Destroy(id string) {
	s.mu.Lock()
	s.cache.Remove(strings.TrimSpace(id))
	s.unlock()
}

func (s *LRUStore) Sweep(now time.Time) []*Session {
	s.mu.Lock()
	defer s.unlock()
	var dropped []*Session
	for _, id := range s.cache.Keys() {
		sess, ok := s.cache.Peek(id)
		if !ok || !s.expired(sess, now) {
			continue
		}
		dropped = append(dropped, sess)
		s.cache.Remove(id)
	}
	return dropped
}

// unlock releases mu and then reports evictions.
func (s *LRUStore) unlock() {
	evicted := s.evicted
	s.evicted = nil
	s.mu.Unlock()
	if s.onEvict == nil {
		return
	}
	for _, sess := range evicted {
		s.onEvict(sess)
	}
}

func (s *LRUStore) Len() int {
	return s.cache.Len()
}

func (s *LRUStore) expired(sess *Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.LastActive) > s.ttl
}
