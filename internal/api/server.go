package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskctl/remotetask/internal/api/handlers"
	apiMiddleware "github.com/taskctl/remotetask/internal/api/middleware"
	"github.com/taskctl/remotetask/internal/api/websocket"
	"github.com/taskctl/remotetask/internal/config"
	"github.com/taskctl/remotetask/internal/events"
	"github.com/taskctl/remotetask/internal/remotetask"
)

// Server is the admin/control-plane HTTP server: it wraps a
// Factory/Registry, never the RPC loops themselves, with a small surface
// for creating and steering TaskHandles.
type Server struct {
	router       *chi.Mux
	factory      *remotetask.Factory
	config       *config.Config
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
	publisher    *events.RedisPubSub
}

// NewServer creates a new admin HTTP server around factory.
func NewServer(cfg *config.Config, factory *remotetask.Factory, publisher *events.RedisPubSub) *Server {
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router:       chi.NewRouter(),
		factory:      factory,
		config:       cfg,
		taskHandler:  handlers.NewTaskHandler(factory, publisher),
		adminHandler: handlers.NewAdminHandler(factory, publisher),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
		publisher:    publisher,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	authCfg := &apiMiddleware.AuthConfig{
		Enabled:   s.config.Auth.Enabled,
		JWTSecret: s.config.Auth.JWTSecret,
		APIKeys:   apiKeySet(s.config.Auth.APIKeys),
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(apiMiddleware.Auth(authCfg))

		if s.config.Admin.RateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Admin.RateLimitRPS))
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/", s.taskHandler.List)
			r.Get("/{taskId}", s.taskHandler.Get)
			r.Delete("/{taskId}", s.taskHandler.Terminate)
			r.Post("/{taskId}/splits", s.taskHandler.AddSplits)
			r.Post("/{taskId}/no-more-splits", s.taskHandler.NoMoreSplits)
			r.Post("/{taskId}/output-buffers", s.taskHandler.SetOutputBuffers)
		})
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(apiMiddleware.Auth(authCfg))
		r.Get("/health", s.adminHandler.HealthCheck)
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Start starts the WebSocket hub's background pumps.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router, e.g. for tests or an http.Server.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func apiKeySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
