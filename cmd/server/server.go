package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"go.uber.org/zap"

	appconfig "ShuttleSignup/config"
	"ShuttleSignup/internal/cache"
	"ShuttleSignup/internal/middleware"
	"ShuttleSignup/internal/queue"
	"ShuttleSignup/internal/reservation"
	"ShuttleSignup/internal/router"
	"ShuttleSignup/internal/schedule"
	"ShuttleSignup/internal/seat"
	"ShuttleSignup/internal/service"
	"ShuttleSignup/pkg/logger"
	"ShuttleSignup/pkg/metrics"
	"ShuttleSignup/pkg/otel"
	"ShuttleSignup/pkg/snowflake"
	"ShuttleSignup/storage"
	"ShuttleSignup/storage/database"
	"ShuttleSignup/storage/mq"
	"ShuttleSignup/storage/redis"
)

func main() {
	// 日志部分
	logger.Init()
	defer logger.Sync()

	cfg := appconfig.Cfg

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Logger.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if cfg.OTelEnabled {
		shutdown, err := otel.InitOpenTelemetry(ctx, otel.Config{
			ServiceName:    cfg.ServiceName,
			ServiceVersion: "1.0.0",
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.OTelEndpoint,
			SampleRatio:    cfg.OTelSampleRatio,
		})
		if err != nil {
			logger.Logger.Fatal("Failed to initialize OpenTelemetry", zap.Error(err))
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Logger.Error("Failed to shutdown OpenTelemetry", zap.Error(err))
			}
		}()

		if err := metrics.InitMetrics(); err != nil {
			logger.Logger.Fatal("Failed to initialize metrics", zap.Error(err))
		}
	}

	// 初始化存储层，记得关闭外部连接
	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(cfg.SnowflakeMachineID, cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake", zap.Error(err))
	}

	producer := queue.NewProducer(mq.NewSender(cfg.RabbitMQExchange))

	var repo seat.Repository
	switch cfg.SeatStore {
	case "postgres":
		repo = seat.NewPostgresRepository(database.DB())
	default:
		repo = seat.NewRedisRepository(redis.Client(), cfg.RedisPrefix)
	}
	inv := seat.NewInventory(repo,
		seat.WithPublisher(producer),
		seat.WithLocker(cache.NewLocker(redis.Client(), cfg.RedisPrefix)),
	)
	service.InitSeats(inv)

	var seatAPI reservation.API = reservation.NewLocalAPI(inv)
	if cfg.SeatAPIBaseURL != "" {
		remote, err := reservation.NewHTTPAPI(cfg.SeatAPIBaseURL, cfg.SeatRequestTimeout)
		if err != nil {
			logger.Logger.Fatal("Failed to create seat API client", zap.Error(err))
		}
		seatAPI = remote
		logger.Logger.Info("Using remote seat API", zap.String("base_url", cfg.SeatAPIBaseURL))
	}

	registration := service.NewRegistrationService(
		service.RedisStores(redis.Client(), cfg.RedisPrefix, cfg.FlowSessionTierTTL, cfg.FlowTTL),
		seatAPI,
		producer,
		service.RegistrationOptions{
			SaveDebounce:   cfg.FlowSaveDebounce,
			SaveTimeout:    cfg.FlowStoreWriteTimeout,
			IdleEvictAfter: cfg.FlowIdleEvictAfter,
			PollInterval:   cfg.SeatPollInterval,
			RequestTimeout: cfg.SeatRequestTimeout,
			Alternatives:   cfg.SeatAlternativeCount,
			Submissions:    cache.NewSubmittedRegistry(redis.Client(), cfg.RedisPrefix, cfg.FlowSubmittedTTL),
		},
	)
	service.InitRegistration(registration)

	janitor := schedule.NewSessionJanitor(registration, cfg.FlowJanitorInterval)
	go janitor.Run(ctx)

	// 初始化中间件
	if err := middleware.Init(cfg.OTelEnabled); err != nil {
		logger.Logger.Fatal("Failed to initialize middlewares", zap.Error(err))
	}

	logger.Logger.Info("Server starting",
		zap.String("service", cfg.ServiceName),
		zap.String("port", cfg.ServerPort),
		zap.String("environment", cfg.Environment),
		zap.String("seat_store", cfg.SeatStore),
	)

	addr := net.JoinHostPort(cfg.ServerHost, cfg.ServerPort)
	opts := []config.Option{server.WithHostPorts(addr)}

	var tracingMiddleware app.HandlerFunc
	if cfg.OTelEnabled {
		var tracer config.Option
		tracer, tracingMiddleware = middleware.NewServerTracerConfig()
		opts = append(opts, tracer)
	}

	h := server.Default(opts...)
	if tracingMiddleware != nil {
		h.Use(tracingMiddleware)
	}

	routerOpts := router.Options{
		SessionSecret: cfg.SessionSecret,
		CSRFSecret:    cfg.CSRFSecret,
		CSRFEnabled:   cfg.CSRFEnabled,
		SecureCookies: cfg.IsProduction(),
		IsProduction:  cfg.IsProduction(),
	}
	if cfg.RateLimitEnabled {
		routerOpts.ReserveLimiter = middleware.RateLimitMiddleware(cfg.RedisPrefix,
			middleware.ReserveRateLimitConfig(cfg.ReserveRateLimit, cfg.ReserveRateWindow))
	}
	router.Register(h.Engine, routerOpts)

	// 优雅关闭：先停 HTTP，再把内存中的报名进度写回存储
	go func() {
		<-ctx.Done()
		logger.Logger.Info("Initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}()

	logger.Logger.Info("HTTP server listening", zap.String("addr", addr))

	h.Spin()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	registration.Close(closeCtx)
	closeCancel()

	logger.Logger.Info("Server shutting down gracefully")
}
