package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meshmap/internal/config"
	"meshmap/internal/demo"
	"meshmap/internal/handler"
	"meshmap/internal/hub"
	"meshmap/internal/ingest"
	"meshmap/internal/mesh"
	"meshmap/internal/repository/sqlite"
	"meshmap/internal/service"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	configPath := flag.String("config", "", "explicit config file path")
	seedDemo := flag.Bool("demo", false, "seed a sample network on startup")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting meshmap server...")

	// Credentials commonly live in a .env next to the binary.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	var cfg *config.Config
	var cfgSource string
	var err error
	if *configPath != "" {
		cfg, cfgSource, err = config.LoadFromPath(*configPath)
	} else {
		cfg, cfgSource, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfgSource != "" {
		log.Printf("Config loaded from %s", cfgSource)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer repo.Close()
	log.Printf("Database opened: %s", cfg.Database.Path)

	// Event bus feeds the websocket hub.
	eventBus := service.NewEventBus()
	wsHub := hub.New()
	go wsHub.Run()

	eventChan := make(chan service.Event, 100)
	eventBus.Subscribe(eventChan)
	go func() {
		for event := range eventChan {
			wsHub.Broadcast(event)
		}
	}()

	engine := mesh.NewEngine(
		service.NewNotifier(eventBus),
		mesh.WithStore(repo),
		mesh.WithTxPower(cfg.Estimation.TxPowerDBm),
		mesh.WithAutoEstimateRate(cfg.Estimation.AutoRate()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Reload what previous runs learned about the network.
	nodes, err := repo.LoadNodes(ctx)
	if err != nil {
		log.Fatalf("Failed to load nodes: %v", err)
	}
	conns, err := repo.LoadConnections(ctx)
	if err != nil {
		log.Fatalf("Failed to load connections: %v", err)
	}
	engine.Restore(nodes, conns)

	if *seedDemo {
		demo.Seed(engine)
	}

	if cfg.MQTT.Broker != "" {
		feed := ingest.NewFeed(ingest.Options{
			Broker:    cfg.MQTT.Broker,
			Topic:     cfg.MQTT.Topic,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			ClientID:  cfg.MQTT.ClientID,
			KeepAlive: time.Duration(cfg.MQTT.KeepAlive) * time.Second,
		}, engine)
		if err := feed.Start(); err != nil {
			log.Fatalf("Failed to start MQTT feed: %v", err)
		}
		defer feed.Stop()
		log.Printf("MQTT feed started: %s %s", cfg.MQTT.Broker, cfg.MQTT.Topic)
	} else {
		log.Println("No MQTT broker configured; observations arrive over HTTP only")
	}

	query := service.NewQueryService(engine)
	api := handler.NewAPI(query, engine, engine,
		time.Duration(cfg.Estimation.DefaultWindowHours)*time.Hour)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("/ws", wsHub)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
}
