package project

import (
	"context"
	"sync"
)

type request struct {
	fn    func(*Store) error
	reply chan error
}

// Actor owns a Store and runs every mutation on a single goroutine, so two
// sessions editing the same project never interleave a commit.
type Actor struct {
	key   string
	store *Store

	reqs      chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewActor starts the mailbox goroutine for s.
func NewActor(s *Store) *Actor {
	a := &Actor{
		key:   s.Key(),
		store: s,
		reqs:  make(chan request),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

// Key is the sanitized project name.
func (a *Actor) Key() string { return a.key }

// Do runs fn against the store and waits for its result. Once fn has been
// accepted it runs to completion even if ctx is cancelled; fn should watch
// ctx itself if it blocks.
func (a *Actor) Do(ctx context.Context, fn func(*Store) error) error {
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case a.reqs <- req:
	case <-a.quit:
		return ErrActorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.reply
}

// Close stops the mailbox after the request in flight finishes.
func (a *Actor) Close() {
	a.closeOnce.Do(func() {
		close(a.quit)
		<-a.done
	})
}

func (a *Actor) loop() {
	defer close(a.done)
	for {
		select {
		case req := <-a.reqs:
			req.reply <- req.fn(a.store)
		case <-a.quit:
			return
		}
	}
}
