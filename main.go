package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
)

func main() {
	// Initialize custom loggers
	initLoggers()

	InfoLogger.Println("Starting Messaging Gateway")

	// A missing .env file is fine; real deployments use the environment.
	if err := godotenv.Load(); err == nil {
		InfoLogger.Println("Loaded environment from .env")
	}

	configDir := os.Getenv("GATEWAY_CONFIG_DIR")
	if configDir == "" {
		configDir = "."
	}
	configName := os.Getenv("GATEWAY_CONFIG")
	if configName == "" {
		configName = "config.json"
	}

	config := resolveConfig(configDir, configName)

	if dbPath := os.Getenv("GATEWAY_DB_PATH"); dbPath != "" {
		config.DatabasePath = dbPath
	}

	db, err := initDB(config.DatabasePath)
	if err != nil {
		ErrorLogger.Fatalf("Error initializing database: %v", err)
	}

	// Set up context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	clock := RealClock{}

	// The transport is pluggable; without a live messaging session the
	// logging transport keeps the gateway runnable for development.
	transport := NewLoggingTransport(clock)

	engine := NewEngine(db, transport, NewAnthropicProvider(), clock)
	if err := engine.Start(ctx); err != nil {
		ErrorLogger.Fatalf("Error starting engine: %v", err)
	}

	InfoLogger.Println("Gateway running")
	<-ctx.Done()

	engine.Stop()
	InfoLogger.Println("Gateway stopped. Exiting application.")
}
