package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pcbmill/internal/event"
	"pcbmill/internal/gateway/service/workflow"
	"pcbmill/internal/metrics"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
	wsQueueSize = 16
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type openProjectData struct {
	Name string `json:"name"`
}

type keyValueData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type createGCodeData struct {
	Merge bool `json:"merge"`
}

// socket is one open WebSocket connection. Envelopes reach the writer
// goroutine through out.
type socket struct {
	ctx context.Context
	out chan event.Envelope
}

// push blocks until the writer accepts e or the connection is gone, so a
// terminal envelope is never dropped.
func (s *socket) push(e event.Envelope) {
	select {
	case s.out <- e:
	case <-s.ctx.Done():
	}
}

func (s *socket) Emit(e event.Envelope) { s.push(e) }

// HandleWS serves /ws?sessionId=. Requests are executed one at a time in
// arrival order; each yields start and run envelopes and one terminal
// envelope.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sid == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	if !h.svc.HasSession(sid) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		h.log.Warn("ws set read deadline failed", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	sock := &socket{ctx: ctx, out: make(chan event.Envelope, 64)}
	h.attach(sid, sock)
	defer h.detach(sid, sock)
	h.log.Info("ws connected", zap.String("session", sid))
	defer h.log.Info("ws disconnected", zap.String("session", sid))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-sock.out:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	queue := make(chan wsInbound, wsQueueSize)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case in := <-queue:
				h.dispatch(ctx, sid, in, sock)
			}
		}
	}()

	var limiter *rate.Limiter
	if h.opts.RateLimit > 0 {
		burst := h.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.opts.RateLimit), burst)
	}

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			<-workerDone
			return
		}
		in.Type = strings.TrimSpace(in.Type)
		if in.Type == "" {
			sock.push(event.ErrorEnvelope("", event.Invalid("type is required")))
			continue
		}
		if limiter != nil && !limiter.Allow() {
			metrics.RateLimitHits.Inc()
			sock.push(event.ErrorEnvelope(in.Type, event.Invalid("rate limit exceeded")))
			continue
		}
		if in.Type == "ping" {
			sock.push(event.Envelope{Type: "pong", Status: event.StatusDone})
			continue
		}
		select {
		case queue <- in:
		default:
			sock.push(event.ErrorEnvelope(in.Type, event.Invalid("too many pending requests")))
		}
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return event.Invalid("invalid data: %v", err)
	}
	return nil
}

// dispatch runs one inbound request. The workflow emits the envelopes of
// every request it receives; dispatch only answers the ones it rejects.
func (h *Handler) dispatch(ctx context.Context, sid string, in wsInbound, obs event.Observer) {
	reject := func(err error) {
		obs.Emit(event.ErrorEnvelope(in.Type, err))
	}
	var err error
	switch in.Type {
	case workflow.OpOpenProject:
		var d openProjectData
		if derr := decodeData(in.Data, &d); derr != nil {
			reject(derr)
			return
		}
		err = h.svc.OpenProject(ctx, sid, d.Name, obs)
	case workflow.OpGetProject:
		err = h.svc.Project(ctx, sid, obs)
	case workflow.OpSetConfig, workflow.OpSetSetup:
		var d keyValueData
		if derr := decodeData(in.Data, &d); derr != nil {
			reject(derr)
			return
		}
		if in.Type == workflow.OpSetConfig {
			err = h.svc.SetConfig(ctx, sid, d.Key, d.Value, obs)
		} else {
			err = h.svc.SetSetup(ctx, sid, d.Key, d.Value, obs)
		}
	case workflow.OpSave:
		err = h.svc.Save(ctx, sid, obs)
	case workflow.OpLoad:
		err = h.svc.Load(ctx, sid, obs)
	case workflow.OpListVersions:
		err = h.svc.ListVersions(ctx, sid, obs)
	case workflow.OpCreateGCode:
		var d createGCodeData
		if derr := decodeData(in.Data, &d); derr != nil {
			reject(derr)
			return
		}
		err = h.svc.CreateGCode(ctx, sid, d.Merge, obs)
	default:
		reject(event.Invalid("unsupported type: %s", in.Type))
		return
	}
	if err != nil {
		h.log.Debug("ws request failed", zap.String("session", sid), zap.String("type", in.Type), zap.Error(err))
	}
}
