// Package control exposes the script surface over a websocket connection: a
// remote peer sends {"op":"eval","code":"..."} frames, the server evaluates
// them against one internal/script.Host per connection, and results/errors/
// trace events stream back as JSON lines (spec 4.I, "Remote Control
// Transport" — a convenience transport, not a protocol the core depends on).
package control

import (
	"sync"

	"golang.org/x/net/websocket"

	"github.com/google/uuid"

	"github.com/javabridge/javabridge/internal/bridge"
	"github.com/javabridge/javabridge/internal/jlog"
	"github.com/javabridge/javabridge/internal/script"
	"github.com/javabridge/javabridge/internal/trace"
)

// Request is one frame sent by a remote scripting agent.
type Request struct {
	Op   string `json:"op"`   // "eval" or "dispose"
	Code string `json:"code"` // JS source, for op == "eval"
}

// Response is one frame sent back: at most one of Result/Error/Event is set
// (a nil eval result and the dispose acknowledgement set none).
type Response struct {
	Result any          `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
	Event  *trace.Event `json:"event,omitempty"`
}

// SessionFactory builds the bridge.Context a new connection should drive,
// e.g. attaching to a specific process or reusing a shared one.
type SessionFactory func() (*bridge.Context, error)

// Server accepts websocket connections, running one script.Host per
// session.
type Server struct {
	newContext SessionFactory

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id   string
	host *script.Host
	br   *bridge.Context
}

// NewServer creates a Server whose sessions are built by newContext.
func NewServer(newContext SessionFactory) *Server {
	return &Server{newContext: newContext, sessions: make(map[string]*session)}
}

// Handler returns the websocket.Handler to mount on an http.Server, e.g.
// http.Handle("/control", srv.Handler()).
func (s *Server) Handler() websocket.Handler {
	return func(ws *websocket.Conn) {
		s.serve(ws)
	}
}

func (s *Server) serve(ws *websocket.Conn) {
	id := uuid.NewString()

	br, err := s.newContext()
	if err != nil {
		websocket.JSON.Send(ws, Response{Error: err.Error()})
		return
	}

	sink := trace.NewSink(1024)
	br.Trace = sink
	sess := &session{id: id, host: script.New(ws.Request().Context(), br), br: br}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	if jlog.L != nil {
		jlog.L.ControlSessionOpened(id)
	}

	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		_ = br.Dispose(ws.Request().Context())
		if jlog.L != nil {
			jlog.L.ControlSessionClosed(id)
		}
	}()

	for {
		var req Request
		if err := websocket.JSON.Receive(ws, &req); err != nil {
			return
		}

		switch req.Op {
		case "eval":
			result, err := sess.host.RunString(req.Code)
			resp := Response{Result: result}
			if err != nil {
				resp = Response{Error: err.Error()}
			}
			if err := websocket.JSON.Send(ws, resp); err != nil {
				return
			}
			for _, ev := range sink.All() {
				if err := websocket.JSON.Send(ws, Response{Event: ev}); err != nil {
					return
				}
			}
			sink = trace.NewSink(1024)
			br.Trace = sink
		case "dispose":
			if err := br.Dispose(ws.Request().Context()); err != nil {
				websocket.JSON.Send(ws, Response{Error: err.Error()})
				continue
			}
			websocket.JSON.Send(ws, Response{})
			return
		default:
			websocket.JSON.Send(ws, Response{Error: "control: unknown op " + req.Op})
		}
	}
}
