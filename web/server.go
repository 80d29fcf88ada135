// Package web exposes the inspection station over HTTP and websockets.
package web

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-inspect/controller"
	"github.com/nvr-ai/go-inspect/logger"
	"github.com/nvr-ai/go-inspect/metrics"
	"github.com/nvr-ai/go-inspect/models/postprocess"
)

// Inspector is the orchestrator surface the server drives.
type Inspector interface {
	Snapshot() controller.Snapshot
	Capture(ctx context.Context) error
	Reset(ctx context.Context) error
	SetThresholds(t postprocess.Thresholds) error
	WritePNG(w io.Writer) error
	WritePreview(ctx context.Context, w io.Writer) error
	Subscribe(fn func(controller.Snapshot)) func()
}

// Config configures the HTTP listener.
type Config struct {
	Addr string
}

// Server represents the web server service.
type Server struct {
	config      Config
	logger      *logger.Logger
	inspector   Inspector
	metrics     *metrics.Metrics
	hub         *Hub
	router      *gin.Engine
	httpServer  *http.Server
	unsubscribe func()
}

// NewServer creates a web server around the inspector. m may be nil, in
// which case /metrics is not served.
func NewServer(cfg Config, inspector Inspector, m *metrics.Metrics, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	s := &Server{
		config:    cfg,
		logger:    log,
		inspector: inspector,
		metrics:   m,
		hub:       NewHub(log),
		router:    router,
	}
	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins serving in the background and forwards orchestrator changes
// to websocket clients.
func (s *Server) Start(ctx context.Context) error {
	s.unsubscribe = s.inspector.Subscribe(s.hub.Publish)

	s.httpServer = &http.Server{
		Addr:        s.config.Addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Websocket connections handle their own deadlines.
		WriteTimeout: 0,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting web server", "address", s.config.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server error", "error", err, "address", s.config.Addr)
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return errors.Wrap(err, "web server failed to start")
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("Web server started", "address", s.config.Addr)
		return nil
	}
}

// Stop shuts the server down and disconnects websocket clients.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.hub.Close()

	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/state", s.handleState)
		api.POST("/capture", s.handleCapture)
		api.POST("/reset", s.handleReset)
		api.PUT("/thresholds", s.handleThresholds)
		api.GET("/frame.png", s.handleFrame)
		api.GET("/preview.jpg", s.handlePreview)
	}

	s.router.GET("/ws", s.handleWebsocket)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// ginLogger logs each request at debug level.
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
