// Package handler exposes the workflow over HTTP and a WebSocket.
package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"pcbmill/internal/event"
	"pcbmill/internal/gateway/service/workflow"
)

// SessionHeader carries the session id on plain HTTP requests.
const SessionHeader = "X-Session-Id"

// ArtifactURLHeader carries the presigned object storage URL of a download.
const ArtifactURLHeader = "X-Artifact-Url"

type Options struct {
	UploadsDir     string
	MaxUploadBytes int64
	// RateLimit is the sustained inbound socket messages per second; zero
	// disables limiting.
	RateLimit float64
	Burst     int
	Logger    *zap.Logger
}

type Handler struct {
	svc  *workflow.Service
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	sockets map[string]map[*socket]struct{}
}

func New(svc *workflow.Service, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 256 << 20
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		svc:     svc,
		opts:    opts,
		log:     log,
		sockets: make(map[string]map[*socket]struct{}),
	}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", h.HandleSession)
	mux.HandleFunc("POST /api/upload", h.HandleUpload)
	mux.HandleFunc("GET /api/download", h.HandleDownload)
	mux.HandleFunc("GET /api/projects", h.HandleProjects)
	mux.HandleFunc("GET /ws", h.HandleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (h *Handler) attach(sid string, s *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sockets[sid]
	if !ok {
		set = make(map[*socket]struct{})
		h.sockets[sid] = set
	}
	set[s] = struct{}{}
}

func (h *Handler) detach(sid string, s *socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sockets[sid]
	delete(set, s)
	if len(set) == 0 {
		delete(h.sockets, sid)
	}
}

// broadcast forwards envelopes of HTTP-initiated operations to the sockets
// the session has open.
func (h *Handler) broadcast(sid string) event.Observer {
	return event.ObserverFunc(func(e event.Envelope) {
		h.mu.Lock()
		targets := make([]*socket, 0, len(h.sockets[sid]))
		for s := range h.sockets[sid] {
			targets = append(targets, s)
		}
		h.mu.Unlock()
		for _, s := range targets {
			s.push(e)
		}
	})
}

// tee delivers every envelope to each observer in order.
type tee []event.Observer

func (t tee) Emit(e event.Envelope) {
	for _, o := range t {
		o.Emit(e)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(code string) int {
	switch code {
	case event.CodeInvalidArgument:
		return http.StatusBadRequest
	case event.CodeNotFound:
		return http.StatusNotFound
	case event.CodeToolFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeEnvelope answers with env, deriving the HTTP status from its error
// code when it is an error envelope.
func writeEnvelope(w http.ResponseWriter, env event.Envelope) {
	status := http.StatusOK
	if env.Status == event.StatusError {
		status = http.StatusInternalServerError
		if data, ok := env.Data.(event.ErrorData); ok {
			status = statusFor(data.Code)
		}
	}
	writeJSON(w, status, env)
}
