// Package server is the runtime front door: the JSON-RPC endpoint over
// HTTP, session issuance, and read-only introspection routes, assembled
// with the shared observability stack.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/engine"
	"github.com/agentx/agentx/internal/monitoring"
	"github.com/agentx/agentx/internal/observability"
	"github.com/agentx/agentx/internal/registry"
	"github.com/agentx/agentx/internal/security"
)

// sessionHeader carries the session id issued by the security kernel.
const sessionHeader = "X-Agentx-Session"

// Config tunes the front door.
type Config struct {
	ListenAddr  string
	AuthEnabled bool
}

// Server serves the protocol surface over HTTP.
type Server struct {
	config   Config
	engine   *engine.Engine
	registry *registry.Registry
	security *security.Manager
	stream   *monitoring.Stream
	logger   *slog.Logger
	tracer   *observability.TraceManager

	httpServer *http.Server
	listener   net.Listener
}

// New builds the server and binds its listener.
func New(config Config, eng *engine.Engine, reg *registry.Registry, sec *security.Manager, stream *monitoring.Stream, logger *slog.Logger, tracer *observability.TraceManager) (*Server, error) {
	listener, err := net.Listen("tcp", config.ListenAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:   config,
		engine:   eng,
		registry: reg,
		security: sec,
		stream:   stream,
		logger:   logger,
		tracer:   tracer,
		listener: listener,
	}

	router := mux.NewRouter()
	router.HandleFunc("/a2a/v1", s.handleRPC).Methods(http.MethodPost)
	router.HandleFunc("/v1/sessions", s.handleCreateSession).Methods(http.MethodPost)
	router.HandleFunc("/v1/agents", s.handleListAgents).Methods(http.MethodGet)
	router.HandleFunc("/v1/agents/discover", s.handleDiscover).Methods(http.MethodPost)
	router.HandleFunc("/v1/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/v1/events", s.handleEvents).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves until the listener closes.
func (s *Server) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Protocol server listening", "address", s.Addr())
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleRPC authenticates, authorizes, and dispatches one JSON-RPC frame.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPC(w, a2a.ErrorResponse(a2a.InvalidParams(), nil))
		return
	}
	req, err := s.engine.Codec().DecodeRequest(body)
	if err != nil {
		a2aErr := a2a.AsError(err)
		writeRPC(w, a2a.ErrorResponse(&a2a.RPCError{Code: a2aErr.RPCCode(), Message: a2aErr.Message}, nil))
		return
	}

	if s.config.AuthEnabled {
		session, err := s.security.ValidateSession(r.Header.Get(sessionHeader))
		if err != nil {
			writeRPC(w, a2a.ErrorResponse(&a2a.RPCError{Code: a2a.CodeValidation, Message: err.Error()}, req.ID))
			return
		}
		if !s.security.CheckPermission(session, req.Method, "") {
			s.stream.Publish(monitoring.Event{
				Kind:    monitoring.EventSecurityDenial,
				Subject: session.AgentID,
				Detail:  req.Method,
			})
			writeRPC(w, a2a.ErrorResponse(&a2a.RPCError{Code: a2a.CodeValidation, Message: "operation not permitted"}, req.ID))
			return
		}
		if err := s.security.Allow(session.SessionID); err != nil {
			writeRPC(w, a2a.ErrorResponse(&a2a.RPCError{Code: a2a.CodeValidation, Message: err.Error()}, req.ID))
			return
		}
	}

	resp := s.engine.ProcessRequest(ctx, req)
	writeRPC(w, resp)
}

type createSessionRequest struct {
	AgentID     string            `json:"agentId"`
	AuthType    string            `json:"authType"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed session request", http.StatusBadRequest)
		return
	}
	session, err := s.security.Authenticate(r.Context(), req.AgentID, security.Credentials{
		AuthType: security.AuthType(req.AuthType),
		Values:   req.Credentials,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId":  session.SessionID,
		"agentId":    session.AgentID,
		"trustLevel": session.TrustLevel,
		"createdAt":  session.CreatedAt,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var query registry.Query
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		http.Error(w, "malformed capability query", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.DiscoverAgents(r.Context(), &query))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"engine":   s.engine.Stats(),
		"registry": s.registry.Stats(),
		"stream":   s.stream.Snapshot(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stream.Events())
}

func writeRPC(w http.ResponseWriter, resp *a2a.Response) {
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
