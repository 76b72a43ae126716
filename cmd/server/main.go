package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/flow-bridge/backend/internal/bridge"
	"github.com/flow-bridge/backend/internal/config"
	"github.com/flow-bridge/backend/internal/gateway"
	"github.com/flow-bridge/backend/internal/producer"
)

func main() {
	mockMode := flag.Bool("mock", false, "Drive the bridge with scripted mock executions")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = config.Default()
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	if !cfg.Gateway.Enabled {
		log.Fatal("gateway is disabled in config; nothing to serve")
	}

	b := bridge.New()

	reaper := bridge.NewReaper(b)
	reaper.SessionSweepInterval = cfg.Reaper.SessionSweepInterval
	reaper.RoomSweepInterval = cfg.Reaper.RoomSweepInterval
	reaper.SessionStaleAfter = cfg.Reaper.SessionStaleAfter
	reaper.RoomStaleAfter = cfg.Reaper.RoomStaleAfter

	graph := producer.NewGraph()
	engine := producer.NewEngine()
	pipeline := producer.NewTokenPipeline(engine, graph)

	gw := gateway.New(cfg.Gateway, b, map[string]producer.Producer{
		"engine": engine,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reaper.Start(ctx)

	if *mockMode {
		log.Println("Starting in mock mode (scripted executions)")
		producer.NewMockEngine(engine, pipeline).Start(ctx)
	}

	mux := http.NewServeMux()
	gw.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	if err := gateway.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
