package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"chatrelay/internal/catalog"
	"chatrelay/internal/config"
	"chatrelay/internal/router"
	"chatrelay/internal/storage"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeoutSlack   = 15 * time.Second
	idleTimeout         = 120 * time.Second
)

// Deps are the collaborators a Server needs. When ConfigErr is set the model
// catalog failed to load; chat and model endpoints then answer 503 while
// health and conversation endpoints keep working.
type Deps struct {
	Router    *router.Router
	Catalog   *catalog.Catalog
	ConfigErr error
	Store     *storage.Store
	Logger    *slog.Logger
	// Banner receives the startup banner. Defaults to stdout.
	Banner io.Writer
}

type Server struct {
	cfg       config.Config
	router    *router.Router
	catalog   *catalog.Catalog
	configErr error
	store     *storage.Store
	logger    *slog.Logger
	banner    io.Writer
	app       *echo.Echo
	address   string
	now       func() time.Time
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("conversation store must not be nil")
	}
	if deps.ConfigErr == nil && (deps.Router == nil || deps.Catalog == nil) {
		return nil, errors.New("router and catalog are required when configuration loaded")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	banner := deps.Banner
	if banner == nil {
		banner = os.Stdout
	}

	srv := &Server{
		cfg:       cfg,
		router:    deps.Router,
		catalog:   deps.Catalog,
		configErr: deps.ConfigErr,
		store:     deps.Store,
		logger:    logger,
		banner:    banner,
		address:   fmt.Sprintf(":%d", cfg.Server.Port),
		now:       time.Now,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = srv.errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error.Error())
			}
			logger.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept},
	}))

	srv.app = e
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.app }

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.printStartupBanner()
	s.logger.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: s.writeTimeout(),
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// writeTimeout outlasts the longest vendor call so a timed-out stream can
// still deliver its error event.
func (s *Server) writeTimeout() time.Duration {
	longest := max(s.cfg.Timeouts.Request, s.cfg.Timeouts.Stream)
	return longest + writeTimeoutSlack
}

func (s *Server) registerRoutes() {
	api := s.app.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/models", s.handleModels)
	api.POST("/chat", s.handleChat)
	api.POST("/chat/stream", s.handleChatStream)

	api.GET("/conversations", s.handleListConversations)
	api.POST("/conversations", s.handleCreateConversation)
	api.GET("/conversations/:id", s.handleGetConversation)
	api.PUT("/conversations/:id", s.handleUpdateConversation)
	api.DELETE("/conversations/:id", s.handleDeleteConversation)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return requestError{Status: http.StatusBadRequest, Message: "request body is required", Code: codeInvalidRequest}
		case errors.As(err, &maxErr):
			return requestError{Status: http.StatusRequestEntityTooLarge, Message: "request body is too large", Code: codeInvalidRequest}
		case isValidationError(err):
			return err
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Code:    codeInvalidRequest,
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Code:    codeInvalidRequest,
		}
	}
	return nil
}
