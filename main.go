package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safewalk/config"
	"safewalk/controllers"
	"safewalk/database"
	"safewalk/models"
	"safewalk/repositories"
	"safewalk/routes"
	"safewalk/services"
	"safewalk/utils"
	"safewalk/websocket"
	"safewalk/workers"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize configuration
	cfg := config.Load()

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize logger
	setupLogger(cfg)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL, !cfg.IsProduction())
	if err != nil {
		logrus.Fatal("Failed to connect to database: ", err)
	}
	defer database.Disconnect()

	// Initialize Redis
	redis := config.InitRedis(cfg)
	defer redis.Close()
	if err := redis.Ping(startCtx).Err(); err != nil {
		logrus.Warnf("Redis unavailable, session guard and rate limits fail open: %v", err)
	}

	// Local history backup
	backupDB, err := database.OpenBackup(startCtx, cfg.BackupDBPath)
	if err != nil {
		logrus.Fatal("Failed to open backup store: ", err)
	}
	defer backupDB.Close()

	backupRepo := repositories.NewBackupRepository(backupDB)
	if err := backupRepo.Init(startCtx); err != nil {
		logrus.Fatal("Failed to initialize backup store: ", err)
	}
	historyRepo := repositories.NewHistoryRepository(db)
	contactRepo := repositories.NewContactRepository(db)

	// Channel list and presets
	channelsFile, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logrus.Fatal("Failed to load channels file: ", err)
		}
		logrus.Warnf("Channels file %s not found, using manual fallback only", cfg.ChannelsFile)
		channelsFile = config.DefaultChannels()
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(cfg.DeviceTimeout)
	go hub.Run()

	channels, err := config.BuildChannels(startCtx, channelsFile, hub)
	if err != nil {
		logrus.Fatal("Failed to build alert channels: ", err)
	}
	defer channels.Close()

	// Initialize alert engine
	engine := services.NewSOSEngine(
		services.EngineConfig{
			CountdownSeconds:    cfg.CountdownSeconds,
			LocationHistorySize: cfg.LocationHistorySize,
			Effects: services.EffectsConfig{
				FlashlightInterval: cfg.FlashlightInterval,
				SirenAsset:         cfg.SirenAsset,
				SirenTone:          models.DefaultSirenTone,
				DeviceTimeout:      cfg.DeviceTimeout,
			},
			Templates: channelsFile.Templates(),
			Channels:  channels.List,
		},
		services.EngineDeps{
			Dispatcher: services.NewChannelDispatcher(cfg.ChannelTimeout, cfg.EmergencyNumber),
			EventLog:   services.NewEventLogWriter(historyRepo, backupRepo),
			Contacts:   contactRepo,
			Guard:      services.NewRedisSessionGuard(redis, cfg.SessionGuardTTL),
			Devices:    hub,
			Notifier:   hub,
		},
	)
	hub.AttachEngine(engine)

	// MQTT location source
	var mqttSource *services.MQTTLocationSource
	if cfg.MQTT.Enabled() {
		mqttSource = services.NewMQTTLocationSource(services.MQTTOptions{
			Broker:         cfg.MQTT.Broker,
			Port:           cfg.MQTT.Port,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			Topic:          cfg.MQTT.LocationTopic,
			QoS:            byte(cfg.MQTT.QoS),
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, engine)
		if err := mqttSource.Connect(); err != nil {
			// auto-reconnect keeps trying in the background
			logrus.Warnf("MQTT location source not connected: %v", err)
		}
	}

	// Initialize workers
	backupLogID, err := backupRepo.LogID(startCtx)
	if err != nil {
		logrus.Fatal("Failed to read backup log id: ", err)
	}
	syncCursor := workers.NewRedisSyncCursor(redis, backupLogID)
	logrus.Infof("Backup log %s replays from cursor %s", backupLogID, syncCursor.Key())
	syncWorker := workers.NewBackupSyncWorker(backupRepo, historyRepo, syncCursor, workers.BackupSyncWorkerConfig{
		Schedule: cfg.BackupSyncSchedule,
	})
	if err := syncWorker.Start(); err != nil {
		logrus.Fatal("Failed to start backup sync worker: ", err)
	}

	// Setup routes
	checks := map[string]controllers.HealthChecker{
		"mongodb": func(ctx context.Context) error {
			if !database.IsConnected(ctx) {
				return errors.New("mongodb not reachable")
			}
			return nil
		},
		"redis":  func(ctx context.Context) error { return redis.Ping(ctx).Err() },
		"backup": backupRepo.Ping,
	}
	if mqttSource != nil {
		checks["mqtt"] = func(context.Context) error {
			if !mqttSource.IsConnected() {
				return errors.New("mqtt broker not connected")
			}
			return nil
		}
	}
	stats := func(ctx context.Context) models.EngineStats {
		entries, err := backupRepo.Count(ctx)
		if err != nil {
			logrus.Warnf("Failed to count backup entries: %v", err)
		}
		return models.EngineStats{
			ActiveSessions:   engine.ActiveSessions(),
			BackupEntries:    entries,
			WebSocket:        hub.GetStats(),
			LocationFeedMQTT: mqttSource != nil && mqttSource.IsConnected(),
		}
	}

	router := routes.SetupRoutes(routes.Dependencies{
		Environment:       cfg.Environment,
		Redis:             redis,
		JWT:               utils.NewJWTService(cfg.JWTSecret),
		Hub:               hub,
		Engine:            engine,
		Health:            controllers.NewHealthController(version, checks, stats),
		TriggerRateLimit:  cfg.TriggerRateLimit,
		TriggerRateWindow: cfg.TriggerRateWindow,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in goroutine
	go func() {
		logrus.Info("🚀 SafeWalk alert server starting on port ", cfg.Port)
		logrus.Info("📱 WebSocket endpoint: /ws")
		logrus.Info("💖 Health Check: /health")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal("Failed to start server: ", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	// Switch off running effects while devices are still connected
	engine.Close(ctx)
	syncWorker.Stop()
	if mqttSource != nil {
		mqttSource.Disconnect()
	}
	hub.Shutdown()

	logrus.Info("✅ Server shutdown complete")
}

func setupLogger(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if cfg.Environment == "development" {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}
