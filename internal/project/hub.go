package project

import (
	"sync"

	"go.uber.org/zap"
)

type hubEntry struct {
	actor *Actor
	refs  int
	// closed is non-nil while the actor drains after its last release.
	closed chan struct{}
}

// Hub hands out one Actor per project and closes it when the last holder
// releases it.
type Hub struct {
	root string
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	actors map[string]*hubEntry
}

// NewHub serves projects stored under root.
func NewHub(root string, opts Options) *Hub {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{root: root, opts: opts, log: log, actors: make(map[string]*hubEntry)}
}

// Root returns the projects directory.
func (h *Hub) Root() string { return h.root }

// Acquire opens the project called name, or shares the actor already serving
// it. Every successful Acquire must be paired with a Release.
func (h *Hub) Acquire(name string) (*Actor, error) {
	key, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		e, ok := h.actors[key]
		if !ok {
			break
		}
		if e.closed == nil {
			e.refs++
			return e.actor, nil
		}
		// The previous actor may still be committing; a second one must not
		// touch the directory until it has stopped.
		h.mu.Unlock()
		<-e.closed
		h.mu.Lock()
	}
	s, err := Open(h.root, name, h.opts)
	if err != nil {
		return nil, err
	}
	a := NewActor(s)
	h.actors[key] = &hubEntry{actor: a, refs: 1}
	h.log.Debug("project actor started", zap.String("project", key))
	return a, nil
}

// Release drops one reference to a. The last release stops the actor; the
// project stays reserved until the request in flight has finished.
func (h *Hub) Release(a *Actor) {
	if a == nil {
		return
	}
	h.mu.Lock()
	e, ok := h.actors[a.key]
	if !ok || e.actor != a || e.closed != nil {
		h.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		h.mu.Unlock()
		return
	}
	e.closed = make(chan struct{})
	h.mu.Unlock()

	a.Close()

	h.mu.Lock()
	if h.actors[a.key] == e {
		delete(h.actors, a.key)
	}
	h.mu.Unlock()
	close(e.closed)
	h.log.Debug("project actor stopped", zap.String("project", a.key))
}

// Active returns the number of projects with a live actor.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.actors {
		if e.closed == nil {
			n++
		}
	}
	return n
}

// Close stops every actor regardless of outstanding references.
func (h *Hub) Close() {
	h.mu.Lock()
	entries := h.actors
	h.actors = make(map[string]*hubEntry)
	h.mu.Unlock()
	for _, e := range entries {
		e.actor.Close()
	}
}
