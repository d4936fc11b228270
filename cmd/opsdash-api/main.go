package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/opsdash-api/internal/handler"
	"github.com/noah-isme/opsdash-api/internal/models"
	"github.com/noah-isme/opsdash-api/internal/notification"
	"github.com/noah-isme/opsdash-api/internal/registry"
	"github.com/noah-isme/opsdash-api/internal/repository"
	"github.com/noah-isme/opsdash-api/internal/service"
	"github.com/noah-isme/opsdash-api/pkg/cache"
	"github.com/noah-isme/opsdash-api/pkg/config"
	"github.com/noah-isme/opsdash-api/pkg/database"
	"github.com/noah-isme/opsdash-api/pkg/logger"
)

// @title OpsDash API
// @version 1.0.0
// @description Operational dashboard records with role based approval of data mutations
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	schemas := models.DefaultSchemas()
	if cfg.Database.AutoMigrate {
		names := make([]string, 0, len(schemas))
		for _, schema := range schemas {
			names = append(names, string(schema.Name))
		}
		if err := database.EnsureSchema(ctx, db, names); err != nil {
			return err
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	tables, err := registry.New(schemas, func(schema models.TableSchema) (registry.RecordStore, error) {
		repo, err := repository.NewRecordRepository(db, schema.Name)
		if err != nil {
			return nil, err
		}
		return repo, nil
	})
	if err != nil {
		return err
	}

	metrics := service.NewMetricsService()

	local := notification.NewLocalBus(logr)
	var bus notification.Bus = local
	if redisClient != nil {
		relay := notification.NewRedisRelay(redisClient, cfg.Notifications.Channel, local, logr)
		if err := relay.Start(ctx); err != nil {
			logr.Warn("change relay unavailable, notifying this instance only", zap.Error(err))
		} else {
			defer relay.Stop()
		}
		bus = relay
	}

	recordCache := service.NewRecordCache(
		repository.NewCacheRepository(redisClient, logr),
		cfg.RecordCache.TTL,
		cfg.RecordCache.Enabled && redisClient != nil,
		metrics,
		logr,
	)
	records := service.NewRecordQueryService(tables, recordCache, logr)
	// Cached reads must be dropped before any dashboard is told to refetch.
	bus.Subscribe(notification.AllCategories, records.Invalidate)

	engine := service.NewWorkflowEngine(
		service.NewApprovalStore(repository.NewApprovalRequestRepository(db), tables, cfg.Approvals.PageSize),
		service.NewDirectMutator(tables),
		tables,
		bus,
		logr,
		service.WithStaleCheck(cfg.Approvals.StaleCheck),
		service.WithWorkflowAudit(repository.NewAuditRepository(db)),
		service.WithWorkflowMetrics(metrics),
	)

	validate := handler.NewValidator()
	rt := routes{
		approvals: handler.NewApprovalHandler(engine, validate),
		records:   handler.NewRecordHandler(service.NewEntryService(tables, engine), records, validate),
		metrics:   handler.NewMetricsHandler(metrics.Handler(), dependencies(db, redisClient)),
		verifier:  service.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer),
		observer:  metrics,
	}
	if cfg.Notifications.WebSocketEnabled {
		hub := notification.NewHub(bus, cfg.Notifications.PingInterval, cfg.CORS.AllowedOrigins, logr)
		rt.notifications = handler.NewNotificationHandler(hub, logr)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, logr, rt),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func dependencies(db *sqlx.DB, redisClient *redis.Client) map[string]handler.Pinger {
	deps := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	return deps
}
