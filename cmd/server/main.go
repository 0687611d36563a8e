package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/testview/backend/internal/config"
	"github.com/testview/backend/internal/mock"
	"github.com/testview/backend/internal/registry"
	"github.com/testview/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", true, "Populate the registry with synthetic test trees")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("No config file at %s, using defaults", *configPath)
		cfg = config.Default()
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	reg := registry.New(cfg.Sync.FlushWindow)
	broadcaster := ws.NewBroadcaster(reg, cfg.Sync.SnapshotInterval)
	server := ws.NewServer(cfg, reg, broadcaster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mockMode {
		log.Println("Starting in mock mode")
		gen := mock.NewGenerator(cfg.Mock, reg, broadcaster)
		gen.Start(ctx)
	} else {
		log.Println("Starting with an empty registry (providers attach via API)")
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		broadcaster.Stop()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
