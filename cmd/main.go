package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/capitan-vision/sitewatch/internal/api"
	"github.com/capitan-vision/sitewatch/internal/camera"
	"github.com/capitan-vision/sitewatch/internal/capture"
	"github.com/capitan-vision/sitewatch/internal/config"
	"github.com/capitan-vision/sitewatch/internal/configstore"
	"github.com/capitan-vision/sitewatch/internal/database"
	"github.com/capitan-vision/sitewatch/internal/inference"
	"github.com/capitan-vision/sitewatch/internal/kafka"
	"github.com/capitan-vision/sitewatch/internal/logging"
	"github.com/capitan-vision/sitewatch/internal/metrics"
	"github.com/capitan-vision/sitewatch/internal/persist"
	"github.com/capitan-vision/sitewatch/internal/rules"
	"github.com/capitan-vision/sitewatch/internal/s3"
	"github.com/capitan-vision/sitewatch/internal/streamhub"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("sitewatch core starting")

	m := metrics.New(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	db, err := database.New(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	if err := db.Init(); err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	defer db.Close()

	snapshots, err := s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.SnapshotBucket)
	if err != nil {
		log.Fatalf("MinIO connect failed: %v", err)
	}

	// Persistence worker owns its own goroutine; the loops only enqueue.
	bridge := persist.NewBridge(db, snapshots, log, m)
	go bridge.Run(ctx)
	defer bridge.Close()

	// Config store
	redisClient := configstore.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	store := configstore.New(redisClient, cfg.Loop.Runtime(), log)

	// Detection pipeline
	person := inference.NewClient(cfg.Detection.PersonEndpoint, log)
	gear := inference.NewClient(cfg.Detection.AttributeEndpoint, log)
	detector := inference.NewMerger(person, gear, inference.DefaultAttributeSpecs())

	engine := rules.NewEngine(rules.DefaultRuleSet(), log, m)
	hub := streamhub.New(log, m)

	opener, err := capture.NewMinioOpener(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, true)
	if err != nil {
		log.Fatalf("capture opener init failed: %v", err)
	}

	// Kafka command/heartbeat channels
	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.CommandTopic, log)
	if err != nil {
		log.Fatalf("Kafka consumer init failed: %v", err)
	}
	defer consumer.Close()
	consumer.StartListening(ctx)

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.HeartbeatTopic)
	if err != nil {
		log.Fatalf("Kafka producer init failed: %v", err)
	}
	defer producer.Close()

	manager := camera.NewManager(opener, camera.LoopDeps{
		Detector: detector,
		Engine:   engine,
		Bridge:   bridge,
		Hub:      hub,
		Configs:  store,
		Log:      log,
		Metrics:  m,
	}, consumer, producer, log)
	go manager.ListenAndRun(ctx)

	// Read-only status surface
	handlers := api.NewHandlers(manager, hub, log)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handlers.Router()}
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("status API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("status API failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	manager.StopAll()
	_ = server.Shutdown(context.Background())

	// The worker needs a live context to flush queued writes; cancel
	// only after the bounded drain.
	bridge.Close()
	cancel()
}
