package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ffaiyaz23/streamrelay/internal/api"
	"github.com/ffaiyaz23/streamrelay/internal/backend"
	"github.com/ffaiyaz23/streamrelay/internal/config"
	"github.com/ffaiyaz23/streamrelay/internal/otel"
	"github.com/ffaiyaz23/streamrelay/internal/slack"
)

func main() {
	// 0) Load configuration
	cfg, err := config.Load()
	if err != nil {
		// no logger yet
		panic("invalid configuration: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) Initialize OpenTelemetry tracing
	tp, err := otel.InitTracer(ctx, "streamrelay")
	if err != nil {
		panic("failed to init OTEL: " + err.Error())
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// 2) Initialize Zap logger and replace globals
	logger, _ := zap.NewProduction()
	if cfg.LogLevel == "debug" {
		logger, _ = zap.NewDevelopment()
	}
	lp, err := otel.InitLogs(ctx, "streamrelay")
	if err != nil {
		logger.Fatal("failed to init OTEL logs", zap.Error(err))
	}
	if lp != nil {
		defer func() { _ = lp.Shutdown(context.Background()) }()
	}
	logger = otel.WithLogBridge(logger, lp, "streamrelay")
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) Optionally start the in-process mock backend
	backendURL := cfg.BackendURL
	if cfg.MockBackend {
		mock, addr, err := backend.StartMockServer("127.0.0.1:0", backend.MockOptions{
			Mode:   cfg.BackendMode,
			Delay:  100 * time.Millisecond,
			Logger: logger.Named("mock"),
		})
		if err != nil {
			logger.Fatal("failed to start mock backend", zap.Error(err))
		}
		defer func() { _ = mock.Close() }()
		backendURL = "http://" + addr
	}
	zap.S().Infow("using backend", "url", backendURL, "mock", cfg.MockBackend, "mode", cfg.BackendMode)
	backendClient := backend.NewClient(backendURL)

	// 4) Optional Slack events endpoint
	opts := api.Options{Backend: backendClient, Logger: logger}
	if cfg.SlackEnabled() {
		opts.Slack = slack.EventsHandler(ctx, slack.Config{
			BotToken:      cfg.SlackBotToken,
			SigningSecret: cfg.SlackSigningSecret,
			PoolSize:      cfg.WorkerPoolSize,
			StreamMode:    cfg.SlackStreamMode,
			Backend:       backendClient,
		})
		zap.S().Infow("slack bridge enabled", "stream_mode", cfg.SlackStreamMode, "workers", cfg.WorkerPoolSize)
	}

	// 5) Start HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(opts),
		ReadHeaderTimeout: 10 * time.Second,
		// Open streams end when the process is told to stop.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		zap.S().Fatalw("listen failed", "error", err)
	}
	zap.S().Infow("listening", "address", ln.Addr().String())
	if err := serve(ctx, srv, ln, 10*time.Second); err != nil {
		zap.S().Errorw("HTTP server failed", "error", err)
	}
}

// serve runs srv on ln until ctx is done. It returns only after Shutdown has
// drained open connections or grace has elapsed.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	shutdown := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-shutdown
}
