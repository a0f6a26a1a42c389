// ABOUTME: Gateway orchestrator wiring the engine components behind an HTTP server
// ABOUTME: Manages relay client, cache, mapper, turn coordinator, and lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/velox-home/funis-gateway/internal/config"
	"github.com/velox-home/funis-gateway/internal/convmap"
	"github.com/velox-home/funis-gateway/internal/notify"
	"github.com/velox-home/funis-gateway/internal/poller"
	"github.com/velox-home/funis-gateway/internal/relay"
	"github.com/velox-home/funis-gateway/internal/store"
	"github.com/velox-home/funis-gateway/internal/threadcache"
	"github.com/velox-home/funis-gateway/internal/turns"
)

// Gateway wires the engine components and serves the client-facing HTTP
// API. Clients never see the relay credential or raw transport errors.
type Gateway struct {
	config     *config.Config
	relay      relay.Client
	cache      *threadcache.Cache
	poller     *poller.Poller
	mapper     *convmap.Mapper
	turns      *turns.Coordinator
	forwarder  *notify.Forwarder
	store      store.MappingStore
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Gateway with all components wired from configuration.
func New(cfg *config.Config, mappingStore store.MappingStore, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	// Relay calls during a waited turn can legitimately take the whole
	// wait budget; pad the transport timeout past it.
	relayClient := relay.NewHTTPClient(cfg.Relay.URL, cfg.Relay.Token, cfg.Turns.WaitTimeout+30*time.Second, logger)

	deltaPoller := poller.New(relayClient, logger)

	g := &Gateway{
		config: cfg,
		relay:  relayClient,
		cache:  threadcache.New(relayClient, cfg.Cache.ThreadTTL, logger),
		poller: deltaPoller,
		mapper: convmap.New(mappingStore, relayClient, logger),
		turns: turns.New(relayClient, deltaPoller, turns.Defaults{
			Timeout:      cfg.Turns.WaitTimeout,
			PollInterval: cfg.Turns.PollInterval,
		}, logger),
		forwarder: notify.New(webhookURL(cfg), cfg.Notify.TextMaxChars, logger),
		store:     mappingStore,
		logger:    logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	g.registerRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g
}

// webhookURL resolves the notification webhook target: an explicit URL
// wins, otherwise one is built from the webhook id against the
// supervisor-style webhook endpoint.
func webhookURL(cfg *config.Config) string {
	if cfg.Notify.WebhookURL != "" {
		return cfg.Notify.WebhookURL
	}
	if cfg.Notify.WebhookID == "" {
		return ""
	}
	if !notify.ValidWebhookID(cfg.Notify.WebhookID) {
		return ""
	}
	return "http://supervisor/core/api/webhook/" + cfg.Notify.WebhookID
}

// registerRoutes attaches all API handlers to the mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", g.handleHealth)
	mux.HandleFunc("/api/diagnostics", g.handleDiagnostics)
	mux.HandleFunc("/api/threads", g.handleListThreads)
	mux.HandleFunc("/api/threads/", g.handleThreadRoutes)
	mux.HandleFunc("/api/conversations", g.handleListConversations)
	mux.HandleFunc("/api/conversations/resolve", g.handleResolveConversation)
	mux.HandleFunc("/api/conversations/", g.handleLookupConversation)
	mux.HandleFunc("/api/messages/", g.handleMessageStatus)
	mux.HandleFunc("/api/notify", g.handleNotify)
}

// Run starts the HTTP server and blocks until the context is cancelled
// or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("shutting down")
		return g.gracefulShutdown()
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// gracefulShutdown drains in-flight requests with a bounded budget.
func (g *Gateway) gracefulShutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.turns.Close()

	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
