// Package api exposes the LeadPipe HTTP surface: provider webhooks, the
// generic inbound endpoint, human agent controls, history and status reads,
// timers, health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

const (
	// DefaultAddr is the default HTTP listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultHealthTimeout bounds the store reads made by /health.
	DefaultHealthTimeout = 5 * time.Second
)

// twilioWebhook is implemented by services that receive Twilio webhooks.
type twilioWebhook interface {
	TwilioWebhookHandler(w http.ResponseWriter, r *http.Request)
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithRouter drains the messaging service into the coordinator and
// deduplicates /inbound requests.
func WithRouter(r *messaging.InboundRouter) Option {
	return func(s *Server) { s.router = r }
}

// WithOutboxSender runs the outbox redelivery loop alongside the server.
func WithOutboxSender(o *store.OutboxSender) Option {
	return func(s *Server) { s.outbox = o }
}

// WithGatherer exposes the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// Server holds the dependencies of the HTTP API.
type Server struct {
	coord      *flow.Coordinator
	msgService messaging.Service
	router     *messaging.InboundRouter
	outbox     *store.OutboxSender
	gatherer   prometheus.Gatherer
	addr       string
	startedAt  time.Time
}

// NewServer creates a Server.
func NewServer(coord *flow.Coordinator, msgService messaging.Service, opts ...Option) *Server {
	s := &Server{
		coord:      coord,
		msgService: msgService,
		addr:       DefaultAddr,
		startedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if tw, ok := s.msgService.(twilioWebhook); ok {
		mux.HandleFunc("POST /webhook/twilio", tw.TwilioWebhookHandler)
	}
	mux.HandleFunc("POST /inbound", s.inboundHandler)
	mux.HandleFunc("POST /agent/send", s.agentSendHandler)
	mux.HandleFunc("POST /agent/resume", s.agentResumeHandler)
	mux.HandleFunc("GET /history/{sender}", s.historyHandler)
	mux.HandleFunc("GET /conversations/{sender}", s.conversationHandler)
	mux.HandleFunc("GET /status", s.statusHandler)
	mux.HandleFunc("GET /timers", s.listTimersHandler)
	mux.HandleFunc("GET /timers/{id}", s.getTimerHandler)
	mux.HandleFunc("DELETE /timers/{id}", s.cancelTimerHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run starts the messaging service, the HTTP server and the background loops,
// and blocks until ctx is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.msgService.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server.Run: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if stopErr := s.msgService.Stop(); stopErr != nil {
			slog.Warn("Server.Run: messaging service stop failed", "error", stopErr)
		}
		slog.Info("Server.Run: shut down")
		return err
	})
	if s.router != nil {
		g.Go(func() error { return s.router.Run(gctx) })
	}
	if s.outbox != nil {
		if err := s.outbox.RecoverStaleMessages(); err != nil {
			slog.Warn("Server.Run: outbox recovery failed", "error", err)
		}
		g.Go(func() error { return s.outbox.Run(gctx) })
	}
	return g.Wait()
}
