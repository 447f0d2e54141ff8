package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"mintgate/chain"
	"mintgate/config"
	"mintgate/db"
	"mintgate/handlers"
	"mintgate/logger"
	"mintgate/repository"
	"mintgate/routers"
)

func main() {
	// Load config
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}

	logger.Logger.Info("Starting mintgate server...")

	// Connect to LevelDB
	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		logger.Logger.Fatal("Failed to open leveldb", zap.Error(err))
	}
	defer ldb.Close()

	// Initialize repository
	nodeRepo := repository.NewNodeRepository(ldb)

	// Rebuild the chain from storage
	c := chain.NewChain(nodeRepo, chain.SystemClock{}, cfg.Chain.MaxDepth)
	if err := c.Load(); err != nil {
		logger.Logger.Fatal("Failed to load chain", zap.Error(err))
	}
	if c.Len() == 0 && !cfg.Bootstrap.Empty() {
		if err := bootstrap(c, cfg.Bootstrap); err != nil {
			logger.Logger.Fatal("Failed to bootstrap chain", zap.Error(err))
		}
	}

	// Initialize HTTP handlers
	h := handlers.NewHandler(c)

	// Setup router
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)

	// HTTP Server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Error("Server stopped", zap.Error(err))
		}
	}()

	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// bootstrap creates the configured nodes. Downstream ids are resolved when
// an increase is forwarded, so creation order does not matter.
func bootstrap(c *chain.Chain, b config.Bootstrap) error {
	for _, n := range b.Ledgers {
		if _, err := c.AddLedger(n); err != nil {
			return err
		}
	}
	for _, n := range b.Ceilings {
		if _, err := c.AddCeiling(n); err != nil {
			return err
		}
	}
	for _, n := range b.Windows {
		if _, err := c.AddWindow(n); err != nil {
			return err
		}
	}
	for _, n := range b.Delays {
		if _, err := c.AddDelay(n); err != nil {
			return err
		}
	}
	logger.Logger.Info("Chain bootstrapped", zap.Int("nodes", c.Len()))
	return nil
}
