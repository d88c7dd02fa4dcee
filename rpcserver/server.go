// Package rpcserver exposes a runtime instance over HTTP: a length-prefixed
// MessagePack /rpc endpoint, a long-poll /events endpoint, an optional
// /events/ws push upgrade, and a /healthz endpoint that answers a fixed
// JSON {"status":"ok"}.
package rpcserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FreeTAKTeam/lxmf-go/delivery"
	"github.com/FreeTAKTeam/lxmf-go/eventlog"
	"github.com/FreeTAKTeam/lxmf-go/propagation"
	"github.com/FreeTAKTeam/lxmf-go/runtime"
	"github.com/FreeTAKTeam/lxmf-go/security"
	"github.com/FreeTAKTeam/lxmf-go/sendpipeline"
	"github.com/FreeTAKTeam/lxmf-go/wire"
)

// Server wires a negotiated Runtime and its component services to the RPC
// method table and the HTTP surface.
type Server struct {
	Runtime    *runtime.Runtime
	Pipeline   *sendpipeline.Pipeline
	Tracker    *delivery.Tracker
	EventLog   *eventlog.Log
	Propagation *propagation.Sync

	Auth      *security.Authenticator
	RateLimit *security.RateLimiter
	Firewall  *security.Firewall

	EnableWS bool

	methods map[string]rpcMethod
}

type rpcMethod func(s *Server, params map[string]interface{}) (interface{}, error)

// New constructs a Server. Callers still need to mount Router() on a
// listener, typically via http.ListenAndServe in cmd/lxmfd.
func New(rt *runtime.Runtime, pipeline *sendpipeline.Pipeline, tracker *delivery.Tracker, eventLog *eventlog.Log, prop *propagation.Sync, auth *security.Authenticator, rateLimit *security.RateLimiter, firewall *security.Firewall) *Server {
	s := &Server{
		Runtime:     rt,
		Pipeline:    pipeline,
		Tracker:     tracker,
		EventLog:    eventLog,
		Propagation: prop,
		Auth:        auth,
		RateLimit:   rateLimit,
		Firewall:    firewall,
	}
	s.methods = map[string]rpcMethod{
		"negotiate":   (*Server).handleNegotiate,
		"start":       (*Server).handleStart,
		"send":        (*Server).handleSend,
		"cancel":      (*Server).handleCancel,
		"status":      (*Server).handleStatus,
		"poll_events": (*Server).handlePollEvents,
		"configure":   (*Server).handleConfigure,
		"snapshot":    (*Server).handleSnapshot,
		"shutdown":    (*Server).handleShutdown,
		"tick":        (*Server).handleTick,
	}
	return s
}

// Router builds the chi router serving /rpc, /events, /healthz, and
// optionally /events/ws.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(authed chi.Router) {
		authed.Use(s.authMiddleware)
		authed.Use(s.rateLimitMiddleware)
		authed.Post("/rpc", s.handleRPC)
		authed.Get("/events", s.handleEventsLongPoll)
		if s.EnableWS {
			authed.Get("/events/ws", s.handleEventsWS)
		}
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// rpcEnvelope is the request body decoded from the /rpc frame.
type rpcEnvelope struct {
	Method string                 `msgpack:"method"`
	Params map[string]interface{} `msgpack:"params"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcEnvelope
	if err := readFrame(r.Body, &req); err != nil {
		http.Error(w, "malformed rpc frame", http.StatusBadRequest)
		return
	}

	method, ok := s.methods[req.Method]
	if !ok {
		http.Error(w, "unknown method "+req.Method, http.StatusNotFound)
		return
	}

	result, err := method(s, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	_ = writeFrame(w, map[string]interface{}{"result": result})
}

func (s *Server) publishEvent(eventType, detail string) {
	if s.EventLog == nil {
		return
	}
	s.EventLog.Publish(eventType, wire.Str(detail))
}

// pollWait bounds how long the long-poll handler blocks for new events
// before returning an empty batch, so a client always gets a response.
const pollWait = 25 * time.Second
