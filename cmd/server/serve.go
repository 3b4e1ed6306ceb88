package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"notes-sync-indexer/internal/handler"
	"notes-sync-indexer/internal/middleware"
	"notes-sync-indexer/internal/service"
	"notes-sync-indexer/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var syncOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search API and sync notes on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), syncOnStart)
		},
	}
	cmd.Flags().BoolVar(&syncOnStart, "sync-on-start", true, "run a sync as soon as the server is up")
	return cmd
}

func runServe(parent context.Context, syncOnStart bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	canSync := true
	if err := cfg.RequireSync(); err != nil {
		slog.Warn("scheduled sync disabled", "error", err)
		canSync = false
	}

	wsManager := websocket.NewManager(websocket.Options{
		MaxConnPerUser: cfg.WebSocket.MaxConnPerUser,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		OperatorID:     cfg.WebSocket.OperatorID,
	})

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	mailbox := service.NewMailbox()
	authService := a.authService(mailbox, wsManager, verifyURL(cfg.Verify.ServerURL, cfg.Server.Host, cfg.Server.Port))
	syncService, err := a.syncService(authService, wsManager)
	if err != nil {
		return err
	}
	searchService := service.NewSearchService(a.stores.chunks, a.embedder, a.tokenizer, service.SearchConfig{
		MaxTokens: cfg.Sync.ChunkMaxTokens,
		Limit:     cfg.Search.Limit,
		Location:  loc,
	})
	verificationService := service.NewVerificationService(mailbox, cfg.Verify.KeyHash)

	searchHandler := handler.NewSearchHandler(searchService)
	syncHandler := handler.NewSyncHandler(ctx, syncService, authService)
	verificationHandler := handler.NewVerificationHandler(verificationService)
	wsHandler := handler.NewWSHandler(wsManager, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize, cfg.AllowedOrigins())

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(slog.Default()))
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	if limiter != nil {
		api.Use(middleware.RateLimitMiddleware(limiter))
	}

	api.HandleFunc("/verification/code", verificationHandler.Submit).Methods("POST", "OPTIONS")
	api.HandleFunc("/verification/code", verificationHandler.Pending).Methods("GET", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/search", searchHandler.Search).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync", syncHandler.Trigger).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/last", syncHandler.Last).Methods("GET", "OPTIONS")
	protected.HandleFunc("/session", syncHandler.Status).Methods("GET", "OPTIONS")

	r.Handle("/ws", middleware.AuthMiddleware(cfg.JWT.Secret)(http.HandlerFunc(wsHandler.HandleWebSocket))).Methods("GET")

	r.HandleFunc("/verify", verificationHandler.Page).Methods("GET")
	r.HandleFunc("/health", handler.Health).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	// No write timeout: the websocket stream is long-lived.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wsManager.Run(gctx)
	})

	if limiter != nil {
		g.Go(func() error {
			return limiter.Cleanup(gctx, time.Minute)
		})
	}

	g.Go(func() error {
		slog.Info("starting server", "addr", addr, "env", cfg.Server.Env, "backend", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("server stopped gracefully")
		return nil
	})

	if canSync {
		g.Go(func() error {
			scheduleSync(gctx, syncService, cfg.Sync.Interval, syncOnStart)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// scheduleSync runs a sync every interval until ctx is done. A zero interval
// disables the ticker.
func scheduleSync(ctx context.Context, syncService *service.SyncService, interval time.Duration, runNow bool) {
	runOnce := func() {
		if _, err := syncService.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("scheduled sync failed", "error", err)
		}
	}

	if runNow {
		runOnce()
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func verifyURL(serverURL, host, port string) string {
	base := strings.TrimRight(serverURL, "/")
	if base == "" {
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		base = fmt.Sprintf("http://%s:%s", host, port)
	}
	return base + "/verify"
}
