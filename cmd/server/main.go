package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/relay-service/internal/api"
	"github.com/fathima-sithara/relay-service/internal/auth"
	"github.com/fathima-sithara/relay-service/internal/config"
	"github.com/fathima-sithara/relay-service/internal/coordinator"
	"github.com/fathima-sithara/relay-service/internal/events"
	"github.com/fathima-sithara/relay-service/internal/logger"
	"github.com/fathima-sithara/relay-service/internal/presence"
	"github.com/fathima-sithara/relay-service/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("RELAY_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	coord := coordinator.New(coordinator.Config{
		PingInterval:     cfg.PingInterval,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		ReconnectTTL:     cfg.ReconnectTTL,
		ReconnectRetries: cfg.Reconnect.MaxAttempts,
		MaxConnsPerRoom:  cfg.Room.MaxConnectionsPerRoom,
		MaxRoomsPerConn:  cfg.Room.MaxRoomsPerConnection,
		BroadcastBatch:   cfg.Broadcast.BatchSize,
		CleanupInterval:  cfg.CleanupInterval,
	}, lg)

	var publisher *events.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		coord.SetPublisher(publisher)
		lg.Infow("event publishing enabled", "topic", cfg.Kafka.Topic)
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Pass,
			DB:       cfg.Redis.DB,
		})
		coord.SetPresence(presence.NewStore(client, cfg.Redis.Prefix, cfg.ReconnectTTL))
		lg.Infow("presence mirror enabled", "addr", cfg.Redis.Addr)
	}

	var validator *auth.Validator
	if cfg.JWT.Secret != "" {
		validator = auth.NewValidator(cfg.JWT.Secret)
	}

	gateway := ws.NewGateway(coord, validator, cfg.WriteDeadline, cfg.WS.MaxMessageSizeBytes, lg)
	app := api.NewServer(coord, gateway)

	coord.Start()

	errs := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		lg.Infow("relay service listening", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		lg.Fatalw("server error", "error", e)
	case s := <-sig:
		lg.Infow("signal received", "signal", s.String())
	}

	coord.Stop()
	if err := app.Shutdown(); err != nil {
		lg.Warnw("http shutdown", "error", err)
	}
	if publisher != nil {
		_ = publisher.Close()
	}
	lg.Info("shutdown complete")
}
