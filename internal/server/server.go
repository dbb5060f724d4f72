package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipefeed/internal/monitoring"
	"github.com/GriffinCanCode/pipefeed/internal/supervisor"
)

const shutdownTimeout = 5 * time.Second

// StreamLister is the part of the supervisor the server reports on.
type StreamLister interface {
	Active() int
	Streams() []supervisor.StreamInfo
}

// Config contains server configuration.
type Config struct {
	Addr      string
	RateLimit RateLimitConfig
}

// Server exposes health, metrics, stream state and the live record feed.
type Server struct {
	cfg     Config
	router  *gin.Engine
	lister  StreamLister
	hub     *Hub
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// New creates a server. hub may be nil, in which case /ws is not routed.
func New(cfg Config, lister StreamLister, hub *Hub, metrics *monitoring.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit = DefaultRateLimitConfig()
	}

	s := &Server{
		cfg:     cfg,
		lister:  lister,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID(s.logger))
	if s.metrics != nil {
		router.Use(monitoring.Middleware(s.metrics))
	}
	router.Use(CORS())
	router.Use(GlobalRateLimit(s.cfg.RateLimit))

	router.GET("/health", s.health)
	router.GET("/streams", s.streams)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	if s.hub != nil {
		router.GET("/ws", s.hub.ServeWS)
	}
	return router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"active":  s.lister.Active(),
		"metrics": s.metrics.Snapshot(),
	}
	if s.hub != nil {
		resp["subscribers"] = s.hub.Subscribers()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) streams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"streams": s.lister.Streams(),
	})
}

// Run serves until ctx is done, then shuts down gracefully and disconnects
// websocket subscribers.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.hub != nil {
		_ = s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Status server stopped")
	return nil
}
