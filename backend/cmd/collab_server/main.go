package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"piecetable/backend/config"
	"piecetable/backend/internal/cache"
	"piecetable/backend/internal/collab"
	"piecetable/backend/internal/httpapi/handlers"
	"piecetable/backend/internal/httpapi/middleware"
	"piecetable/backend/internal/metrics"
	"piecetable/backend/internal/store"
	"piecetable/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: port=%d redis=%v kafka=%v topic=%s", cfg.Running.Port, cfg.Redis.Addrs, cfg.Kafka.Brokers, cfg.Kafka.Topic)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	opt := collab.ServiceOptions{
		Recorder: m,
		RingCap:  cfg.Collab.RingCap,
	}

	// === Redis：在线成员 + 内容缓存，未配置时只用内存 ===
	var presence cache.PresenceCache
	if len(cfg.Redis.Addrs) > 0 {
		// 单地址为单机，多地址为集群
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err = rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		presence = cache.NewRedisPresence(rdb)
		opt.Cache = cache.NewContentCache(rdb)
	}

	// === MySQL：快照走 database/sql，文档元数据走 gorm ===
	if cfg.Mysql.DSN != "" {
		sqlDB, err := store.OpenSQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer sqlDB.Close()
		if err = store.EnsureSnapshotTable(sqlDB); err != nil {
			log.Fatalf("Failed to create snapshot table: %v", err)
		}
		gormDB, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		documentStore := store.NewDocumentStore(gormDB)
		if err = documentStore.AutoMigrate(); err != nil {
			log.Fatalf("Failed to migrate documents: %v", err)
		}
		opt.Snapshots = store.NewSnapshotStore(sqlDB)
		opt.Documents = documentStore
	}

	// === Kafka Producer + 本地队列重试发送 ===
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		d := cfg.Collab.Dispatcher
		dispatcher := collab.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			collab.NewSemaphoreControl(d.Inflight),
			collab.KafkaDispatcherOptions{
				QueueSize:   d.QueueSize,
				Workers:     d.Workers,
				MaxRetry:    d.MaxRetry,
				BaseBackoff: d.BaseBackoff,
				MaxBackoff:  d.MaxBackoff,
				OnDrop: func(evt collab.DocOpEvent, err error) {
					log.Printf("kafka event dropped doc=%s rev=%d: %v", evt.DocID, evt.Revision, err)
				},
			},
		)
		// producer.Close 之前先停掉 worker
		defer dispatcher.Close()
		opt.Events = dispatcher
	}

	svc := collab.NewInMemoryService(opt)
	hub := ws.NewHub(presence)
	manager := ws.NewManager(hub, svc, collab.NewSemaphoreControl(cfg.Collab.WsSubmits))

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), middleware.Metrics(m))
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	g := r.Group("/collab")
	g.Use(middleware.AuthMiddleware([]byte(cfg.Auth.Secret)))
	g.GET("/ws", manager.WebSocketConnect)
	handlers.NewDocumentHandler(svc).Register(g)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	log.Printf("collab server listening on %s", srv.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
