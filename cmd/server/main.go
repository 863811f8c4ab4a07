// Package main runs the watch party HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/watchparty/config"
	"github.com/aura-webinar/watchparty/internal/annotations"
	"github.com/aura-webinar/watchparty/internal/auth"
	"github.com/aura-webinar/watchparty/internal/complexity"
	"github.com/aura-webinar/watchparty/internal/gateway"
	"github.com/aura-webinar/watchparty/internal/middleware"
	"github.com/aura-webinar/watchparty/internal/playback"
	"github.com/aura-webinar/watchparty/internal/realtime"
	"github.com/aura-webinar/watchparty/internal/recommender"
	"github.com/aura-webinar/watchparty/internal/sessionlog"
	"github.com/aura-webinar/watchparty/internal/sessions"
	"github.com/aura-webinar/watchparty/internal/transcripts"
	"github.com/aura-webinar/watchparty/internal/worker"
	"github.com/aura-webinar/watchparty/pkg/database"
	"github.com/aura-webinar/watchparty/pkg/queue"
	"github.com/aura-webinar/watchparty/pkg/redis"
	"github.com/aura-webinar/watchparty/pkg/response"
	"github.com/aura-webinar/watchparty/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.S3Enabled() {
		s3Client, err = storage.NewS3(ctx, s3Config(cfg.AWS), logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Realtime fan-out across instances
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	go hub.Run(bgCtx)

	// Core session state
	registry := sessions.NewRegistry(sessions.Config{
		HeartbeatTimeout: cfg.Session.HeartbeatTimeout,
		Retention:        cfg.Session.Retention,
		MaxMessages:      cfg.Session.MaxMessages,
	}, logger)
	synchronizer := playback.New(registry, logger)
	annotationStore := annotations.NewStore(annotations.NewRepository(pool), logger)

	var scorer complexity.Scorer = complexity.Simulated{}
	if cfg.Scorer.URL != "" {
		scorer = complexity.NewHTTPScorer(complexity.HTTPConfig{URL: cfg.Scorer.URL, Timeout: cfg.Scorer.Timeout}, logger)
	}
	rec := recommender.New(scorer, recommender.DefaultProficiency{}, recommender.Config{
		Threshold:  cfg.Recommender.Threshold,
		ApplyDelay: cfg.Recommender.ApplyDelay,
		Cadence:    cfg.Recommender.Cadence,
		IdleTTL:    cfg.Recommender.IdleTTL,
	}, logger)
	defer rec.Close()

	// Attendance log
	attendanceRepo := sessionlog.NewRepository(pool)
	attendanceHandler := sessionlog.NewHandler(attendanceRepo)
	attendance := sessionlog.NewRecorder(attendanceRepo, cfg.Session.AttendanceBuffer, logger)
	go attendance.Run(bgCtx)

	// Transcripts
	jobQueue := queue.NewQueue(rdb.Client, logger)
	transcriptRepo := transcripts.NewRepository(pool)
	transcriptHandler := transcripts.NewHandler(transcriptRepo, s3Client, logger)
	if cfg.Server.ExportInProcess && s3Client != nil {
		exporter := worker.NewTranscriptExporter(jobQueue, s3Client, transcriptRepo, logger)
		go exporter.Run(bgCtx)
		logger.Info("transcript exporter started in process")
	}

	gw := gateway.New(gateway.Deps{
		Registry:    registry,
		Playback:    synchronizer,
		Annotations: annotationStore,
		Recommender: rec,
		Out:         hub,
		Transcripts: jobQueue,
		Attendance:  attendance,
	}, logger)
	gatewayHandler := gateway.NewHandler(gw)

	go registry.Run(bgCtx, cfg.Session.ReapInterval, gw.Forget)
	go rec.Run(bgCtx, 0)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		gatewayHandler.Routes(api)

		api.GET("/sessions/:id/attendance", middleware.RequireRole(middleware.RoleAdmin, middleware.RoleInstructor), attendanceHandler.GetAttendance)
		api.GET("/sessions/:id/transcript", middleware.RequireRole(middleware.RoleAdmin, middleware.RoleInstructor), transcriptHandler.GenerateDownloadURL)
		api.GET("/videos/:id/transcripts", middleware.RequireRole(middleware.RoleAdmin, middleware.RoleInstructor), transcriptHandler.ListByVideo)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, gw, jwtService.ValidateRequester, realtime.ClientConfig{
		RateLimit:    cfg.WS.RateLimit,
		RateBurst:    cfg.WS.RateBurst,
		PingInterval: cfg.WS.PingInterval,
	}, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	bgCancel()
	logger.Info("server stopped")
}

func s3Config(c config.AWSConfig) storage.S3Config {
	return storage.S3Config{
		Region:               c.Region,
		AccessKeyID:          c.AccessKeyID,
		SecretAccessKey:      c.SecretAccessKey,
		Endpoint:             c.Endpoint,
		TranscriptsBucket:    c.TranscriptsBucket,
		PresignExpireMinutes: c.PresignExpireMinutes,
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
