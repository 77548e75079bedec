package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/caching"
	"bitbucket.org/mmdatafocus/events_backend/config"
	"bitbucket.org/mmdatafocus/events_backend/jobs"
	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/messaging"
	"bitbucket.org/mmdatafocus/events_backend/models"
	"bitbucket.org/mmdatafocus/events_backend/services"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
)

const defaultPort = "8081"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	logger := config.NewLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server: " + err.Error())
		}
	}()

	rdb := config.ConnectRedisWithRetry(sigCtx, cfg)
	defer func() { _ = rdb.Close() }()

	psClient, err := config.ConnectPubSubWithRetry(sigCtx, cfg)
	if err != nil {
		log.Fatalf("connecting pubsub: %v", err)
	}
	defer func() { _ = psClient.Close() }()

	gormDB := config.ConnectDatabaseWithRetry(cfg)
	if sqlDB, derr := gormDB.DB(); derr == nil && sqlDB != nil {
		defer func() { _ = sqlDB.Close() }()
	}

	cache := caching.NewRedisCache(rdb)
	bus := messaging.NewPubSubMessageBus(
		psClient.Topic(cfg.EntityChangedTopic),
		psClient.Topic(cfg.WorkItemStatusTopic),
	)
	connections := services.NewRedisConnectionMapping(rdb)
	gate := services.NewMessageService(connections, cfg.EnableRepositoryNotifications, logger)
	db := models.NewDatabase(gormDB, bus, gate, logger)

	// The schedule triggers hourly; the throttling lock inside the job caps
	// actual sweeps at one per day cluster-wide.
	retentionGuard := locking.NewThrottlingLockProvider(cache, 1, 24*time.Hour)
	retentionJob := jobs.NewRetentionLimitsJob(cfg, db, retentionGuard, logger)

	schedule := strings.TrimSpace(os.Getenv("RETENTION_SCHEDULE"))
	if schedule == "" {
		schedule = "@every 1h"
	}

	c := cron.New()
	_, err = c.AddFunc(schedule, func() {
		if err := retentionJob.Run(sigCtx); err != nil && sigCtx.Err() == nil {
			logger.Error("retention job: " + err.Error())
		}
	})
	if err != nil {
		log.Fatalf("invalid RETENTION_SCHEDULE %q: %v", schedule, err)
	}
	c.Start()
	logger.Info("jobs runner started (schedule " + schedule + ")")

	<-sigCtx.Done()

	stop := c.Stop()
	<-stop.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("jobs runner shut down")
}
