package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/semsearch/api/mcp"
	"github.com/papercomputeco/semsearch/pkg/logger"
)

// Server is the API server for querying and managing the semantic index.
type Server struct {
	config Config
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server. The search service and store are
// shared with the caller, which owns closing them.
func NewServer(config Config, log *slog.Logger) (*Server, error) {
	if config.Search == nil {
		return nil, errors.New("search service is required")
	}
	if config.Store == nil {
		return nil, errors.New("vector store is required")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		logger: logger.OrNop(log),
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Get("/search", s.handleSearchQuery)
	v1.Post("/search", s.handleSearchBody)
	v1.Get("/status", s.handleStatus)
	v1.Get("/tags", s.handleTags)
	v1.Delete("/points", s.handleDeletePoints)

	if !config.DisableMCP {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Search: config.Search,
			Logger: s.logger,
		})
		if err != nil {
			return nil, err
		}
		app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))
	}

	return s, nil
}

// App exposes the underlying fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
		"mcp", !s.config.DisableMCP,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
