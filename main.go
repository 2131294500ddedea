package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/xray-check/internal/auth"
	"github.com/example/xray-check/internal/config"
	"github.com/example/xray-check/internal/handlers"
	"github.com/example/xray-check/internal/healthserver"
	"github.com/example/xray-check/internal/logging"
	"github.com/example/xray-check/internal/model"
	"github.com/example/xray-check/internal/repository"
	"github.com/example/xray-check/internal/session"
	"github.com/example/xray-check/internal/usecase"
)

func main() {
	cfg, cfgPath, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck
	logger.Info("configuration loaded", zap.String("path", cfgPath), zap.String("model_source", cfg.Model.Source))

	// The predictor is loaded once for the whole process; no request is
	// accepted unless this succeeds.
	handle := model.NewHandle(model.NewProvider(cfg.Model, logger).Load)
	if _, err := handle.Get(context.Background()); err != nil {
		logger.Fatal("model load failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.Database.URL, logger)
	repo := repository.NewPredictionRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)

	store := session.NewStore(session.NewRedisCache(redisClient), cfg.Redis.SessionTTL, logger)
	uc := usecase.NewDetectorUseCase(repo, store, model.NewEngine(handle), logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Audience, cfg.Auth.TokenTTL)
	handlers.RegisterRoutes(r, uc, issuer, auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Audience))

	server := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: r,
	}

	grpcListener, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen for gRPC health", zap.Error(err))
	}
	healthSrv := healthserver.New(handle, logger)

	g, groupCtx := errgroup.WithContext(context.Background())
	healthCtx, stopHealth := context.WithCancel(groupCtx)
	g.Go(func() error {
		return healthSrv.Serve(healthCtx, grpcListener)
	})
	g.Go(func() error {
		defer stopHealth()
		logger.Info("X-ray API listening", zap.String("addr", cfg.Server.HTTPAddr))
		// Health flips to NOT_SERVING before in-flight requests are drained.
		return serveHTTPServer(groupCtx, server, cfg.Server.ShutdownTimeout, logger, healthSrv.Drain)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, dbType, err := repository.OpenDatabase(dsn, gormlogger.Warn)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	zapLogger.Info("database connected", zap.String("type", dbType))
	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, onShutdown func()) error {
	return serveHTTPServerWithOptions(ctx, server, shutdownTimeout, logger, nil, nil, onShutdown)
}

// serveHTTPServerWithOptions serves until the server fails, a signal arrives
// or ctx is canceled. onShutdown runs before the graceful drain starts.
func serveHTTPServerWithOptions(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal, onShutdown func()) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Warn("shutting down after sibling server failure", zap.Error(ctx.Err()))
	}

	if onShutdown != nil {
		onShutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return <-errCh
}
