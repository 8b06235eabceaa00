// If you are AI: This is the main entrypoint for the originflux server.
// It handles configuration loading, server startup, and graceful shutdown.

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"originflux/internal/config"
	"originflux/internal/server"
)

// main is the entrypoint for the originflux server.
// It loads configuration, starts the server, and handles graceful shutdown.
func main() {
	configPath := flag.String("config", "configs/originflux.example.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx := context.Background()
	srv := server.New(cfg)
	shutdownHandler := server.NewShutdownHandler(srv, ctx)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
			os.Exit(1)
		}
	}()

	if err := shutdownHandler.Wait(); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}

	log.Println("Server shut down cleanly")
}
