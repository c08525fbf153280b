package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/config"
	"admission-gateway/internal/handlers"
	"admission-gateway/internal/server"
)

// Run is the main entry point for the gateway process.
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	runtime.GOMAXPROCS(runtime.NumCPU())

	// Initialize logging
	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting admission gateway",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
	)

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	// Initialize application
	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize gateway", err)
		return err
	}

	// Background workers: config refresh and traffic emission. Requests are
	// served immediately and blocked fail-closed until the first snapshot.
	app.Start()

	// Set up routes
	router := mux.NewRouter()
	gateway := handlers.NewGateway(app.Pipeline, app.Dispatcher, app.Emitter)
	health := handlers.NewHealth(app.SnapshotStore, app.RedisClient)
	SetupRoutes(router, gateway, health)

	srv := server.New(router, cfg.Port, "", "")
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	logging.Info("Gateway listening", logging.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
	}

	if err := app.Shutdown(ctx); err != nil {
		logging.Warn("Error during app shutdown", logging.Field{Key: "error", Value: err})
	}

	logging.Info("Gateway exited")
	return nil
}
