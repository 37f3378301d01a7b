package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xelth-com/yatrasync/internal/buildinfo"
	"github.com/xelth-com/yatrasync/internal/config"
	"github.com/xelth-com/yatrasync/internal/database"
	"github.com/xelth-com/yatrasync/internal/handlers"
	"github.com/xelth-com/yatrasync/internal/logging"
	"github.com/xelth-com/yatrasync/internal/store"
	"github.com/xelth-com/yatrasync/internal/utils"
	"github.com/xelth-com/yatrasync/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := logging.New(cfg.Log)
	log.WithField("version", buildinfo.String()).Info("🛕 Yatra sync server")

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Info("🚀 Synchronizing database schema...")
	if err := db.MigrateServer(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Info("✅ Schema synchronized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Store and change notifications
	scans := store.New(db.DB, log)
	hub := websocket.NewHub(log)
	go hub.Run(ctx)
	scans.OnAccepted(hub.ScanAccepted)

	// 5. Set up HTTP router
	router := handlers.NewRouter(scans, hub, cfg.JWTSecret, log)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Infof("🚀 Server starting on port %s [%s]", cfg.Port, cfg.NodeEnv)
		for _, u := range utils.ScannerURLs(cfg.Port) {
			log.Infof("📡 Scanners on this network can use SCANNER_PRIMARY_URL=%s", u)
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Warnf("⚠️  Received signal: %v. Shutting down gracefully...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP server shutdown error: %v", err)
	}

	// Disconnect websocket clients
	cancel()

	// Close database (this also stops embedded PostgreSQL)
	log.Info("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Errorf("Database close error: %v", err)
	}

	log.Info("✅ Shutdown complete")
}
