package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"facetrack/internal/attendance"
	"facetrack/internal/cloudinary"
	"facetrack/internal/config"
	"facetrack/internal/device"
	"facetrack/internal/policy"
	"facetrack/internal/queue"
	"facetrack/internal/roster"
	"facetrack/internal/schedule"
	"facetrack/internal/store"
	"facetrack/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		logger.Logger.Fatal("api server failed", zap.Error(err))
	}
}

func run(cfg config.App) error {
	log := logger.Logger

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	rdb := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(rdb.Client, "")
	}

	schedules := schedule.NewRepository(db.Client)
	policies := policy.NewRepository(db.Client)
	members := roster.NewRepository(db.Client)
	events := attendance.NewRepository(db.Client)
	devices := device.NewRepository(db.Client)
	engine := attendance.NewEngine(schedules, members, events, policies)

	var cdn *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdn = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Warn("cloudinary not configured, image upload disabled")
	}

	api := &server{
		cfg:       cfg,
		log:       log,
		redis:     rdb,
		db:        db,
		queue:     q,
		cache:     store.NewCache(rdb.Client),
		schedules: schedules,
		policies:  policies,
		members:   members,
		events:    events,
		devices:   devices,
		engine:    engine,
		cdn:       cdn,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", zap.Error(err))
	}
	return nil
}
