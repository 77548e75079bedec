package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/events_backend/caching"
	"bitbucket.org/mmdatafocus/events_backend/config"
	"bitbucket.org/mmdatafocus/events_backend/locking"
	"bitbucket.org/mmdatafocus/events_backend/messaging"
	"bitbucket.org/mmdatafocus/events_backend/models"
	"bitbucket.org/mmdatafocus/events_backend/pipeline"
	"bitbucket.org/mmdatafocus/events_backend/queueing"
	"bitbucket.org/mmdatafocus/events_backend/services"
	"bitbucket.org/mmdatafocus/events_backend/workitems"
	"bitbucket.org/mmdatafocus/events_backend/workitems/handlers"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

const defaultPort = "8080"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	logger := config.NewLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start listening before the slow connects; Cloud Run needs the port up
	// quickly.
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
	if err := models.MigrateTable(gormDB); err != nil {
		log.Fatalf("migrating schema: %v", err)
	}

	workItemTopic, workItemSub, err := workItemQueueResources(sigCtx, cfg, psClient)
	if err != nil {
		log.Fatalf("preparing work item queue: %v", err)
	}
	entityChangedTopic, workItemStatusTopic, err := busTopics(sigCtx, cfg, psClient)
	if err != nil {
		log.Fatalf("preparing message bus topics: %v", err)
	}

	cache := caching.NewRedisCache(rdb)
	lockProvider := locking.NewRedisLockProvider(config.NewRedisLocker(rdb))
	queue := queueing.NewPubSubQueue(workItemTopic, workItemSub, 10, logger)
	bus := messaging.NewPubSubMessageBus(entityChangedTopic, workItemStatusTopic)

	connections := services.NewRedisConnectionMapping(rdb)
	gate := services.NewMessageService(connections, cfg.EnableRepositoryNotifications, logger)
	db := models.NewDatabase(gormDB, bus, gate, logger)

	eventPipeline := pipeline.NewPipeline(logger,
		pipeline.NewThrottleBotsPlugin(cfg, cache, queue, logger),
	)

	registry := workitems.NewRegistry()
	registry.Register(workitems.TypeEventPost, handlers.NewEventPostHandler(db, eventPipeline, logger))
	registry.Register(workitems.TypeRemoveOrganization, handlers.NewRemoveOrganizationHandler(db, nil, lockProvider, logger))
	registry.Register(workitems.TypeThrottleBots, handlers.NewThrottleBotsHandler(db, lockProvider, logger))

	processor := workitems.NewProcessor(queue, registry, bus, cfg.WorkItemTimeout, logger)

	logger.Info("work item processor started")
	if err := processor.Run(sigCtx); err != nil && sigCtx.Err() == nil {
		logger.Error("work item processor stopped: " + err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("work item processor shut down")
}

func workItemQueueResources(ctx context.Context, cfg *config.Config, client *pubsub.Client) (*pubsub.Topic, *pubsub.Subscription, error) {
	if cfg.PubSubCreateTopics {
		topic, err := config.CreateTopicIfNotExists(ctx, client, cfg.WorkItemTopic)
		if err != nil {
			return nil, nil, err
		}
		sub, err := config.CreateSubscriptionIfNotExists(ctx, client, cfg.WorkItemSubscription, topic,
			time.Duration(cfg.PubSubAckDeadlineSeconds)*time.Second)
		if err != nil {
			return nil, nil, err
		}
		return topic, sub, nil
	}
	return client.Topic(cfg.WorkItemTopic), client.Subscription(cfg.WorkItemSubscription), nil
}

func busTopics(ctx context.Context, cfg *config.Config, client *pubsub.Client) (*pubsub.Topic, *pubsub.Topic, error) {
	if cfg.PubSubCreateTopics {
		entityChanged, err := config.CreateTopicIfNotExists(ctx, client, cfg.EntityChangedTopic)
		if err != nil {
			return nil, nil, err
		}
		workItemStatus, err := config.CreateTopicIfNotExists(ctx, client, cfg.WorkItemStatusTopic)
		if err != nil {
			return nil, nil, err
		}
		return entityChanged, workItemStatus, nil
	}
	return client.Topic(cfg.EntityChangedTopic), client.Topic(cfg.WorkItemStatusTopic), nil
}
