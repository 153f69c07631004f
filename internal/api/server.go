// Package api is the operator surface of the platform: a gin REST API over
// the bot fleet plus a gorilla/websocket stream of platform events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradefleet/internal/autonomous"
	"github.com/ajitpratap0/tradefleet/internal/bot"
	"github.com/ajitpratap0/tradefleet/internal/events"
	"github.com/ajitpratap0/tradefleet/internal/risk"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 15 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Config holds the HTTP listener settings.
type Config struct {
	Host         string
	Port         int
	AllowOrigins []string

	// DisableMetrics drops the /metrics endpoint. Collection still runs;
	// only the scrape surface goes away.
	DisableMetrics bool
}

// TradeHistory is the slice of the document store the trades endpoint reads.
type TradeHistory interface {
	Find(ctx context.Context, symbol string, limit int) ([]*risk.Trade, error)
}

// Deps are the platform components the API serves. Manager is required. A
// nil Supervisor reports autonomous trading as disabled, a nil Trades store
// makes the history endpoint unavailable, and a nil Bus leaves the
// WebSocket stream silent.
type Deps struct {
	Manager    *bot.Manager
	Supervisor *autonomous.Supervisor
	Trades     TradeHistory
	Bus        *events.Bus
}

// Server is the REST and WebSocket front end.
type Server struct {
	router     *gin.Engine
	deps       Deps
	hub        *Hub
	addr       string
	metricsOff bool
	logger     zerolog.Logger
}

// NewServer assembles the router and its routes. Run brings the listener up.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	apiLogger := logger.With().Str("component", "api").Logger()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(apiLogger))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router:     router,
		deps:       deps,
		hub:        NewHub(apiLogger),
		addr:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		metricsOff: cfg.DisableMetrics,
		logger:     apiLogger,
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler backing the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve drives the HTTP listener, the WebSocket hub, and the event bridge
// on ln until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.hub.Run(ctx)
	})
	if s.deps.Bus != nil {
		g.Go(func() error {
			return s.bridgeEvents(ctx)
		})
	}
	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down api server: %w", err)
		}
		return ctx.Err()
	})
	return g.Wait()
}

// bridgeEvents fans platform events out to connected WebSocket clients.
func (s *Server) bridgeEvents(ctx context.Context) error {
	sub := s.deps.Bus.Subscribe(events.DefaultQueueSize)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			s.hub.BroadcastEvent(ev)
		}
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
