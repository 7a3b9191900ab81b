// Package main runs the classroom HTTP server: REST API, live endpoint and graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-classroom/backend/config"
	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/eventlog"
	"github.com/aura-classroom/backend/internal/live"
	"github.com/aura-classroom/backend/internal/metrics"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/notify"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/recordings"
	"github.com/aura-classroom/backend/internal/sessions"
	"github.com/aura-classroom/backend/internal/worker"
	"github.com/aura-classroom/backend/pkg/database"
	"github.com/aura-classroom/backend/pkg/queue"
	"github.com/aura-classroom/backend/pkg/redis"
	"github.com/aura-classroom/backend/pkg/response"
	"github.com/aura-classroom/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var db database.DB
	if cfg.EventLog.Backend != config.EventLogMemory {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		db = pool
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
			Endpoint:             cfg.AWS.S3Endpoint,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	eventLog, recRegistry, err := buildStores(cfg, db, rdb)
	if err != nil {
		logger.Fatal("stores", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.LiveTokenTTL)

	// Recordings
	policy := recordings.ReadinessPolicy{
		PollsUntilReady: cfg.Recording.PollsUntilReady,
		ProcessingTime:  cfg.Recording.ProcessingTime,
	}
	managerOpts := []recordings.ManagerOption{recordings.WithLogger(logger)}
	var jobQueue *queue.Queue
	if cfg.Recording.WorkerEnabled {
		// the encoder decides readiness
		policy = recordings.ReadinessPolicy{}
		jobQueue = queue.NewQueue(rdb.Client, logger)
		managerOpts = append(managerOpts, recordings.WithPipeline(encodePipeline(jobQueue)))
	}
	if cfg.Kafka.Brokers != "" {
		publisher := notify.NewKafkaPublisher(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		defer publisher.Close()
		managerOpts = append(managerOpts, recordings.WithNotifier(publisher))
	}
	manager := recordings.NewManager(recRegistry, policy, managerOpts...)
	var presigner recordings.Presigner
	if s3Client != nil {
		presigner = s3Client
	}
	recordingHandler := recordings.NewHandler(manager, presigner, logger)
	recordingWebhook := recordings.NewWebhookHandler(manager, cfg.Recording.WebhookSecret, logger)

	// Live endpoint
	var hub *realtime.Hub
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}
	hub.SetPresenceHandler(metrics.SetLiveParticipants)

	// Live sessions
	reconnect := live.ReconnectPolicy{
		MaxAttempts:     uint(cfg.Live.ReconnectAttempts),
		InitialInterval: cfg.Live.ReconnectInitial,
		MaxInterval:     cfg.Live.ReconnectMax,
	}
	registry := sessions.NewRegistry(func() *live.Controller {
		return live.NewController(live.Config{
			Channel:   realtime.NewChannel(cfg.Live.BaseURL, realtime.WithChannelLogger(logger)),
			Log:       eventLog,
			Recorder:  manager,
			Tokens:    jwtService,
			Reconnect: reconnect,
			Logger:    logger,
		})
	}, sessions.WithEndHook(hub.CloseRoom), sessions.WithLogger(logger))
	sessionHandler := sessions.NewHandler(registry, eventLog, jwtService, logger)

	liveValidate := func(token string) (realtime.Identity, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		if claims.SessionID == "" {
			return realtime.Identity{}, errors.New("token is not scoped to a session")
		}
		return realtime.Identity{UserID: claims.UserID, Role: claims.Role, SessionID: claims.SessionID}, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	instructors := api.Group("")
	instructors.Use(middleware.RequireRole(auth.RoleInstructor, auth.RoleService))
	sessionHandler.Register(api, instructors)
	recordingHandler.Register(api)

	// Webhooks (no JWT; shared secret checked in handler)
	router.POST("/webhooks/recording-encoded", recordingWebhook.RecordingEncoded)

	// Live room (token in query; no Authorization header required)
	router.GET("/live/:sessionId/ws", realtime.ServeLive(hub, logger, liveValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process encode worker
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	if jobQueue != nil && s3Client != nil {
		processor := worker.NewRecordingProcessor(manager, eventLog, s3Client, jobQueue, worker.WithLogger(logger))
		go func() {
			defer close(workerDone)
			processor.Run(workerCtx)
		}()
		logger.Info("recording worker started")
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("event_log", cfg.EventLog.Backend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// live sessions dial this server, so end them while it still accepts connections
	registry.Shutdown(shutdownCtx)
	workerCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	<-workerDone
	logger.Info("server stopped")
}

func buildStores(cfg *config.Config, db database.DB, rdb *redis.Client) (eventlog.Store, recordings.Registry, error) {
	switch cfg.EventLog.Backend {
	case config.EventLogMemory:
		return eventlog.NewMemoryStore(), recordings.NewMemoryRegistry(), nil
	case config.EventLogPostgres:
		return eventlog.NewPostgresStore(db), recordings.NewPostgresRegistry(db), nil
	case config.EventLogRedis:
		return eventlog.NewRedisStore(rdb.Client), recordings.NewPostgresRegistry(db), nil
	}
	return nil, nil, fmt.Errorf("unknown event log backend %q", cfg.EventLog.Backend)
}

func encodePipeline(q *queue.Queue) recordings.Pipeline {
	return recordings.PipelineFunc(func(ctx context.Context, rec models.Recording) error {
		return q.EnqueueRecordingEncode(ctx, queue.RecordingEncodePayload{
			RecordingID: rec.ID,
			CourseID:    rec.CourseID,
			SessionID:   rec.SessionID,
		})
	})
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
