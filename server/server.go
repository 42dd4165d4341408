// Package server exposes the orchestrator over WebSocket for interactive
// front ends.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/orchestrator"
)

// inbound is a client frame. Type is "start" to open a session or "message"
// to continue one.
type inbound struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// outbound wraps either a turn response or an error.
type outbound struct {
	Response *core.Response `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Server handles WebSocket chat connections.
type Server struct {
	orch     *orchestrator.Orchestrator
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New builds a Server.
func New(orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers talk to us from anywhere in local setups; put a
			// reverse proxy in front for origin policy in production.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes: /ws for chat, /healthz for probes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("[server] upgrade failed")
		return
	}
	defer conn.Close()

	s.log.Info().Str("remote", r.RemoteAddr).Msg("[server] connection opened")

	for {
		var in inbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("[server] read failed")
			}
			return
		}

		resp, err := s.dispatch(r.Context(), in)
		out := outbound{Response: resp}
		if err != nil {
			out = outbound{Error: userFacing(err)}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if err := conn.WriteJSON(out); err != nil {
			s.log.Warn().Err(err).Msg("[server] write failed")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, in inbound) (*core.Response, error) {
	switch in.Type {
	case "start":
		if in.UserID == "" {
			return nil, errors.New("start requires user_id")
		}
		return s.orch.StartSession(ctx, in.UserID)
	case "message":
		if in.SessionID == "" {
			return nil, errors.New("message requires session_id")
		}
		return s.orch.HandleTurn(ctx, in.SessionID, in.Text)
	default:
		return nil, errors.Errorf("unknown frame type %q", in.Type)
	}
}

func userFacing(err error) string {
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, core.ErrSessionClosed):
		return "session is closed"
	default:
		return "something went wrong handling that message"
	}
}
