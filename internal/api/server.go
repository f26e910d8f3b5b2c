package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "pinetick/internal/runtime/supervisor"
	logx "pinetick/pkg/logx"

	"github.com/gin-gonic/gin"
)

const DefaultAddr = "0.0.0.0:8000"

func init() { gin.SetMode(gin.ReleaseMode) }

type Config struct {
	Addr string
	// RatePerSec 0 disables the limiter.
	RatePerSec float64
	Burst      int

	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// Server owns the gin engine and its listener.
type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	engine *gin.Engine
	limit  *limiter

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, tasks TaskLister, status StatusFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "api"))
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{log: log, cfg: cfg, limit: &limiter{}}
	s.limit.set(cfg.RatePerSec, cfg.Burst)

	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log), s.limit.middleware())
	r.GET("/api/", listTasks(tasks, log))
	r.GET("/healthz", healthz(status))
	s.engine = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Apply swaps the rate limit. The listen address needs a restart.
func (s *Server) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg.RatePerSec = cfg.RatePerSec
	s.cfg.Burst = cfg.Burst
	s.mu.Unlock()
	s.limit.set(cfg.RatePerSec, cfg.Burst)
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly; calling Start twice is a no-op.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.ln, s.srv = ln, srv
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)

	log := s.log
	s.sup.Go("http.serve", func(c context.Context) error {
		go func() {
			<-c.Done()
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(cctx)
			cancel()
		}()
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Error("http server exited", logx.Err(err))
		return err
	})

	log.Info("http started", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup, s.ln = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("http stopped")
}
