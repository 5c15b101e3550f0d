// Command server is the lair-chat server process: it runs the TCP adapter,
// the WebSocket adapter, and the REST API side by side against one shared
// set of domain services, the way the teacher's cmd/v1/session/main.go runs
// its single hub against one gin router.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lair-chat/server/internal/v1/auth"
	"github.com/lair-chat/server/internal/v1/bus"
	"github.com/lair-chat/server/internal/v1/command"
	"github.com/lair-chat/server/internal/v1/config"
	"github.com/lair-chat/server/internal/v1/dispatch"
	"github.com/lair-chat/server/internal/v1/health"
	"github.com/lair-chat/server/internal/v1/httpapi"
	"github.com/lair-chat/server/internal/v1/logging"
	"github.com/lair-chat/server/internal/v1/middleware"
	"github.com/lair-chat/server/internal/v1/ratelimit"
	"github.com/lair-chat/server/internal/v1/registry"
	"github.com/lair-chat/server/internal/v1/room"
	"github.com/lair-chat/server/internal/v1/storage"
	"github.com/lair-chat/server/internal/v1/tcp"
	"github.com/lair-chat/server/internal/v1/tracing"
	"github.com/lair-chat/server/internal/v1/wsadapter"
)

// typingExpiryTTL and typingSweepInterval drive the background sweep that
// clears a stale typing indicator a client never explicitly cancelled.
const (
	typingExpiryTTL     = 8 * time.Second
	typingSweepInterval = 3 * time.Second
	sessionGCInterval   = 10 * time.Minute
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "lair-chat-server", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing: init failed, continuing without it", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
		}
	}

	store, err := storage.Open(cfg.DB_DSN)
	if err != nil {
		logging.Fatal(ctx, "storage: open failed", zap.Error(err))
	}
	defer store.Close()

	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "bus: connect failed", zap.Error(err))
		}
		defer busService.Close()
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		logging.Fatal(ctx, "ratelimit: init failed", zap.Error(err))
	}

	reg := registry.New()
	rooms := room.NewEngineWithStore(store)
	if err := rooms.LoadFromStore(ctx); err != nil {
		logging.Fatal(ctx, "room: rehydrate from storage failed", zap.Error(err))
	}
	dispatcher := dispatch.New(reg)

	instanceID := uuid.NewString()
	if busService != nil {
		dispatcher.EnableCrossInstance(busService, rooms, instanceID)
		var wg sync.WaitGroup
		busService.Subscribe(ctx, room.LobbyID, &wg, dispatcher.Ingest)
		logging.Info(ctx, "cross-instance fanout enabled", zap.String("instance_id", instanceID))
	}

	deps := &command.Deps{
		Auth:       auth.New(store),
		Rooms:      rooms,
		Registry:   reg,
		Dispatcher: dispatcher,
		Store:      store,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { runTypingExpirySweep(groupCtx, rooms, dispatcher); return nil })
	group.Go(func() error { runSessionGC(groupCtx, store); return nil })

	gin.SetMode(ginModeFor(cfg))
	router := gin.New()
	router.Use(gin.Recovery(), middleware.CorrelationID(), otelgin.Middleware("lair-chat-server"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins(cfg.AllowedOrigins)
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.Use(rateLimiter.GlobalMiddleware())

	healthHandler := health.NewHandler(busService, store)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	wsHandler := wsadapter.NewHandler(deps, rateLimiter, cfg.AllowedOrigins)
	router.GET("/ws", wsHandler.ServeWs)

	httpapi.NewHandler(deps, store).Register(router, rateLimiter)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	tcpSrv, err := tcp.Listen(":"+cfg.TCPPort, deps)
	if err != nil {
		logging.Fatal(ctx, "tcp: listen failed", zap.Error(err))
	}

	group.Go(func() error {
		logging.Info(ctx, "http listener starting", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http: serve failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		logging.Info(ctx, "tcp listener starting", zap.String("addr", tcpSrv.Addr()))
		if err := tcpSrv.Run(); err != nil {
			logging.Warn(ctx, "tcp: listener stopped", zap.Error(err))
		}
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "http: graceful shutdown failed", zap.Error(err))
	}
	if err := tcpSrv.Close(); err != nil {
		logging.Error(ctx, "tcp: close failed", zap.Error(err))
	}
	if err := group.Wait(); err != nil {
		logging.Error(ctx, "server: goroutine group exited with error", zap.Error(err))
	}
	logging.Info(ctx, "shutdown complete")
}

func ginModeFor(cfg *config.Config) string {
	if cfg.DevelopmentMode {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

func allowedOrigins(csv string) []string {
	if csv == "" {
		return []string{"http://localhost:3000"}
	}
	return strings.Split(csv, ",")
}

// runTypingExpirySweep periodically clears typing indicators older than
// typingExpiryTTL and notifies the room the same way a client-driven
// "stopped typing" event would (SUPPLEMENTED FEATURES: typing-indicator
// auto-expiry, since no client explicitly cancels one on disconnect).
func runTypingExpirySweep(ctx context.Context, rooms *room.Engine, dispatcher *dispatch.Dispatcher) {
	ticker := time.NewTicker(typingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := rooms.ExpireTyping(typingExpiryTTL)
			for _, e := range expired {
				members, err := rooms.Members(e.RoomID)
				if err != nil {
					continue
				}
				dispatcher.ToRoomExcept(members, e.UserID, typingStoppedEvent{Type: "typing_stopped", RoomID: e.RoomID, UserID: e.UserID})
			}
		}
	}
}

type typingStoppedEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// runSessionGC periodically evicts expired session rows, revoked or not, so the
// sessions table doesn't grow without bound (spec §6.4 SessionRepository,
// SUPPLEMENTED FEATURES session lifecycle management).
func runSessionGC(ctx context.Context, store *storage.Store) {
	ticker := time.NewTicker(sessionGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.PurgeExpiredSessions(ctx); err != nil {
				logging.Warn(ctx, "session gc: purge failed", zap.Error(err))
			}
		}
	}
}
