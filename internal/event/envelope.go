// Package event carries operation progress and results from the workflow to
// whichever transport delivers them.
package event

import (
	"sync"
)

// Status is the lifecycle position of an envelope.
type Status string

const (
	StatusStart Status = "start"
	StatusRun   Status = "run"
	StatusDone  Status = "done"
	StatusError Status = "error"
)

// Terminal reports whether s ends an operation.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Envelope is the message exchanged with the transport layer.
type Envelope struct {
	Type   string `json:"type"`
	Status Status `json:"status"`
	Msg    string `json:"msg"`
	Data   any    `json:"data"`
}

// Observer receives envelopes for one or more operations.
type Observer interface {
	Emit(Envelope)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Envelope)

func (f ObserverFunc) Emit(e Envelope) { f(e) }

// Discard drops every envelope.
var Discard Observer = ObserverFunc(func(Envelope) {})

// Recorder keeps every envelope it receives. It is safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	all []Envelope
}

func (r *Recorder) Emit(e Envelope) {
	r.mu.Lock()
	r.all = append(r.all, e)
	r.mu.Unlock()
}

// Envelopes returns a copy of the recorded envelopes.
func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.all))
	copy(out, r.all)
	return out
}

// Last returns the most recent envelope.
func (r *Recorder) Last() (Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.all) == 0 {
		return Envelope{}, false
	}
	return r.all[len(r.all)-1], true
}
