package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nftmarket/config"
	"nftmarket/core"
	"nftmarket/observability/logging"
	"nftmarket/rpc"
	"nftmarket/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML config file")
	flag.Parse()

	env := os.Getenv("MARKET_ENV")
	logger := logging.Setup("marketd", env)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	nodeCfg, err := cfg.NodeConfig()
	if err != nil {
		logger.Error("invalid node configuration", "error", err)
		os.Exit(1)
	}

	var db storage.Database
	if cfg.DataDir == "" {
		logger.Warn("no data directory configured, state will not survive restarts")
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("failed to open database", "dir", cfg.DataDir, "error", err)
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	node, err := core.NewNode(db, nodeCfg)
	if err != nil {
		logger.Error("failed to initialise node", "error", err)
		os.Exit(1)
	}
	logger.Info("node initialised",
		"network", cfg.NetworkName,
		"height", node.Height(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(cfg.BlockIntervalSeconds) * time.Second
	go produceBlocks(ctx, node, interval, logger)

	server := &http.Server{
		Addr:    cfg.RPCAddress,
		Handler: rpc.NewServer(node).Handler(),
	}
	go func() {
		logger.Info("serving JSON-RPC", "addr", cfg.RPCAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("rpc shutdown failed", "error", err)
	}
}

// produceBlocks advances the chain height on a fixed interval until the
// context is cancelled.
func produceBlocks(ctx context.Context, node *core.Node, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			height, err := node.AdvanceHeight()
			if err != nil {
				logger.Error("failed to advance height", "error", err)
				continue
			}
			logger.Debug("height advanced", "height", height)
		}
	}
}
