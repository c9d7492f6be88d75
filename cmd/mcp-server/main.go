// Command mcp-server serves the demo tools over HTTP, SSE, WebSocket and,
// when MCP_GRPC_ADDR is set, gRPC. Configuration comes from MCP_* environment
// variables, optionally seeded from a .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/universal-tool-calling-protocol/go-mcp/internal/logctx"
	"github.com/universal-tool-calling-protocol/go-mcp/src/server"
	"github.com/universal-tool-calling-protocol/go-mcp/src/server/demo"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading MCP_* variables")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", slog.String("path", *envFile), slog.String("err", err.Error()))
		os.Exit(1)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log := logctx.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg server.Config, log *slog.Logger) error {
	opts, closer, err := cfg.Options(ctx, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	srv := server.New(demo.Registry(), opts)
	errc := make(chan error, 2)

	// Request contexts derive from ctx so open event streams end on shutdown.
	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.Info("serving http", slog.String("addr", cfg.Addr), slog.String("invoke", srv.Paths().Invoke))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = hs.Close()
			return err
		}
		gs := srv.NewGRPCServer()
		defer gs.Stop()
		go func() {
			log.Info("serving grpc", slog.String("addr", cfg.GRPCAddr))
			if err := gs.Serve(lis); err != nil {
				errc <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		_ = hs.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}
