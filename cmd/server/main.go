// Package main runs the pulse survey HTTP server with WebSocket rooms and
// graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulsehub/backend/config"
	"github.com/pulsehub/backend/internal/auth"
	"github.com/pulsehub/backend/internal/invitations"
	"github.com/pulsehub/backend/internal/microclimates"
	"github.com/pulsehub/backend/internal/middleware"
	"github.com/pulsehub/backend/internal/models"
	"github.com/pulsehub/backend/internal/participation"
	"github.com/pulsehub/backend/internal/realtime"
	"github.com/pulsehub/backend/internal/worker"
	"github.com/pulsehub/backend/pkg/database"
	"github.com/pulsehub/backend/pkg/queue"
	"github.com/pulsehub/backend/pkg/redis"
	"github.com/pulsehub/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Microclimates and invitations reference each other: activation issues
	// invitations, invitation resolution loads the session.
	microclimateRepo := microclimates.NewRepository(pool)
	invitationRepo := invitations.NewRepository(pool)
	invitationService := invitations.NewService(invitationRepo, microclimateRepo, authRepo, jobQueue, logger)
	invitationHandler := invitations.NewHandler(invitationService, logger)

	microclimateService := microclimates.NewService(microclimateRepo, invitationService, hub, logger)
	microclimateHandler := microclimates.NewHandler(microclimateService, logger)

	// Participation
	responseRepo := participation.NewRepository(pool)
	aggregator := participation.NewAggregator(responseRepo, microclimateRepo, hub, logger)
	participationHandler := participation.NewHandler(aggregator, logger)

	// Inbound WS events feed the aggregator; the aggregator broadcasts back
	// through the hub.
	hub.SetResponseHandler(func(sessionID, userID, companyID uuid.UUID, role string, payload json.RawMessage) {
		var body struct {
			ResponseID uuid.UUID       `json:"response_id"`
			Answers    json.RawMessage `json:"answers"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			logger.Warn("invalid response payload", zap.Error(err))
			return
		}
		resp := &models.SurveyResponse{
			ID:      body.ResponseID,
			UserID:  &userID,
			Answers: body.Answers,
		}
		if _, err := aggregator.RecordResponse(context.Background(), sessionID, companyID, models.Role(role), resp); err != nil {
			logger.Warn("record response from ws failed",
				zap.String("microclimate_id", sessionID.String()), zap.Error(err))
		}
	})
	hub.SetParticipationQueryHandler(func(sessionID uuid.UUID) {
		aggregator.BroadcastSnapshot(context.Background(), sessionID)
	})

	// Completion sweeper closes elapsed sessions even with no admin connected.
	sweeper := worker.NewCompletionSweeper(
		microclimateRepo, microclimateService,
		time.Duration(cfg.Worker.SweepIntervalSec)*time.Second, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Invitation tracking (token-authenticated by the invitation itself)
	router.POST("/api/invitations/track", invitationHandler.Track)

	// Protected API (JWT required)
	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		adminRoles := []string{string(models.RoleSuperAdmin), string(models.RoleCompanyAdmin)}

		// Users (admin only; invitation targeting preview)
		api.GET("/users", middleware.RequireRole(adminRoles...), authHandler.List)

		// Microclimates
		api.POST("/microclimates", middleware.RequireRole(adminRoles...), microclimateHandler.Create)
		api.GET("/microclimates", microclimateHandler.List)
		api.GET("/microclimates/:id", microclimateHandler.Get)
		api.POST("/microclimates/:id/schedule", middleware.RequireRole(adminRoles...), microclimateHandler.Schedule)
		api.POST("/microclimates/:id/activate", middleware.RequireRole(adminRoles...), microclimateHandler.Activate)
		api.POST("/microclimates/:id/cancel", middleware.RequireRole(adminRoles...), microclimateHandler.Cancel)

		// Invitations
		api.POST("/microclimates/:id/invitations", middleware.RequireRole(adminRoles...), invitationHandler.Create)
		api.GET("/microclimates/:id/invitations", middleware.RequireRole(adminRoles...), invitationHandler.List)
		api.GET("/microclimates/:id/deliveries", middleware.RequireRole(adminRoles...), invitationHandler.ListDeliveries)
		api.POST("/invitations/:id/resend", middleware.RequireRole(adminRoles...), invitationHandler.Resend)
		api.POST("/invitations/:id/cancel", middleware.RequireRole(adminRoles...), invitationHandler.Cancel)
		api.GET("/invitations/resolve/:token", invitationHandler.ResolveSession)

		// Participation
		api.POST("/microclimates/:id/responses", participationHandler.Record)
		api.GET("/microclimates/:id/participation", participationHandler.Snapshot)
		api.GET("/microclimates/:id/forecast", middleware.RequireRole(adminRoles...), participationHandler.Forecast)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtService.Validate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()
	go sweeper.Run(sweeperCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweeperCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
