package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/config"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/logging"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/monitoring"
)

// StatusFunc reports the state served on /fleet.
type StatusFunc func() any

// Server exposes /health, /metrics and, when a status source is set, /fleet
// and /fleet/stream.
type Server struct {
	router  *gin.Engine
	srv     *http.Server
	logger  *logging.Logger
	metrics *monitoring.Metrics
	status  StatusFunc
	addr    string

	streamInterval time.Duration
	origins        []string
	done           chan struct{}
	closeOnce      sync.Once
}

// New creates a server. status may be nil.
func New(cfg config.MetricsConfig, metrics *monitoring.Metrics, status StatusFunc, logger *logging.Logger, development bool) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(CORS(CORSConfigFrom(cfg)))
	if cfg.RateLimit > 0 {
		router.Use(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: cfg.RateLimit, Burst: cfg.Burst}))
	}

	s := &Server{
		router:  router,
		logger:  logger.Named("status"),
		metrics: metrics,
		status:  status,
		addr:    cfg.Addr,

		streamInterval: cfg.StreamInterval,
		origins:        cfg.AllowOrigins,
		done:           make(chan struct{}),
	}
	if s.streamInterval <= 0 {
		s.streamInterval = time.Second
	}

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	if status != nil {
		router.GET("/fleet", s.fleet)
		router.GET("/fleet/stream", s.stream)
	}

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background. Bind errors
// are returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting status server", zap.String("addr", s.addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops accepting requests, ends open streams and waits for
// in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Shutting down status server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) fleet(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) snapshot() gin.H {
	return gin.H{
		"fleet":   s.status(),
		"metrics": s.metrics.Snapshot(),
	}
}
