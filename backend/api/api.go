package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/furisto/parley/backend/agent"
	"github.com/furisto/parley/backend/api/auth"
	"github.com/furisto/parley/backend/memory"
	"github.com/furisto/parley/backend/model"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/posthog/posthog-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

type TurnRunner interface {
	Run(ctx context.Context, req *agent.ChatRequest, user agent.User, sink agent.Sink) (*agent.TurnResult, error)
}

type ConversationReader interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*memory.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*memory.Conversation, error)
	GetMessages(ctx context.Context, conversationID uuid.UUID) ([]*model.Message, error)
}

type HandlerOptions struct {
	Orchestrator  TurnRunner
	Conversations ConversationReader
	Tokens        *auth.TokenProvider
	Analytics     posthog.Client
	Metrics       *prometheus.Registry
	Logger        *slog.Logger
}

type Handler struct {
	orchestrator  TurnRunner
	conversations ConversationReader
	analytics     posthog.Client
	logger        *slog.Logger
	router        *mux.Router
}

func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := &Handler{
		orchestrator:  opts.Orchestrator,
		conversations: opts.Conversations,
		analytics:     opts.Analytics,
		logger:        logger,
		router:        mux.NewRouter(),
	}

	handler.router.HandleFunc(HealthPath, handler.health).Methods(http.MethodGet)
	if opts.Metrics != nil {
		handler.router.Handle(MetricsPath, promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	handler.router.HandleFunc("/chat", handler.chat).Methods(http.MethodPost)
	handler.router.HandleFunc("/chats", handler.listConversations).Methods(http.MethodGet)
	handler.router.HandleFunc("/chats/{id}", handler.getConversation).Methods(http.MethodGet)

	handler.router.Use(auth.Middleware(opts.Tokens, HealthPath, MetricsPath))

	return handler
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type Server struct {
	server *http.Server
}

func NewServer(handler http.Handler, address string) *Server {
	return &Server{
		server: &http.Server{
			Addr:              address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) ListenAndServe() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Serve(listener net.Listener) error {
	err := s.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
