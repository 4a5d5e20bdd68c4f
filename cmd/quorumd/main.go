package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/quorumgate/internal/audit"
	"github.com/xela07ax/quorumgate/internal/clock"
	"github.com/xela07ax/quorumgate/internal/connectors"
	"github.com/xela07ax/quorumgate/internal/console/handler"
	"github.com/xela07ax/quorumgate/internal/console/server"
	"github.com/xela07ax/quorumgate/internal/console/service"
	"github.com/xela07ax/quorumgate/internal/engine"
	"github.com/xela07ax/quorumgate/internal/infra"
	"github.com/xela07ax/quorumgate/internal/infra/auth"
	"github.com/xela07ax/quorumgate/internal/ledger"
	"github.com/xela07ax/quorumgate/internal/notify"
	"github.com/xela07ax/quorumgate/internal/policy"
	"github.com/xela07ax/quorumgate/internal/repository/postgres"
	"github.com/xela07ax/quorumgate/internal/store"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Политика валидируется на старте: с кривыми порогами сервис не поднимается
	pol, err := policy.New(
		cfg.Policy.MinRequiredSignatures,
		cfg.Policy.MaxRequiredSignatures,
		cfg.Policy.VotingPeriod,
		cfg.Policy.ExecutionDelay,
		cfg.Policy.MaxActiveRequests,
		cfg.Policy.CacheTTL,
	)
	if err != nil {
		logger.Fatal("invalid policy config", zap.Error(err))
	}

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	startCtx, startCancel := context.WithTimeout(context.Background(), 5*time.Second)
	repo, err := postgres.NewRepo(startCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to init postgres pool", zap.Error(err))
	}
	if err := repo.Ping(startCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	startCancel()
	defer repo.Close()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Ledger (внешний источник правды) + Надежность
	var rawLedger ledger.Ledger
	if cfg.Ledger.Mock {
		logger.Warn("using in-memory mock ledger, state will not survive restart")
		rawLedger = connectors.NewMockLedger(clock.System{})
	} else {
		conn, err := grpc.NewClient(cfg.Ledger.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			logger.Fatal("failed to connect to ledger", zap.Error(err))
		}
		defer conn.Close()
		rawLedger = connectors.NewGRPCLedger(conn, cfg.Ledger.CallTimeout)
	}

	// Оборачиваем в Reliability (Retries для чтений, Circuit Breaker, Rate Limit)
	safeLedger := connectors.NewReliableLedger(rawLedger, connectors.ReliabilitySettings{
		CBMaxRequests: cfg.Ledger.CBMaxRequests,
		CBInterval:    cfg.Ledger.CBInterval,
		CBTimeout:     cfg.Ledger.CBTimeout,
		RateLimit:     rate.Limit(cfg.Ledger.RateLimit),
		RateBurst:     cfg.Ledger.RateBurst,
		ReadAttempts:  cfg.Ledger.ReadAttempts,
	})

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// Экспортируем метрики для Prometheus на отдельном порту
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 4. Шина событий + журнал аудита
	notifier := notify.New(rdb, infra.RedisChanRequestEvents, cfg.Notifier.BufferSize, logger)
	notifier.SetBufferGauge(metrics.NotifierBufferFill)

	trail := audit.NewTrail(repo, logger)
	notifier.Subscribe(trail.Observer())

	trail.Start()
	notifier.Start()

	// Пассивный режим: дублируем в журнал события других инстансов из Redis
	if cfg.Notifier.Relay {
		go notify.ListenEvents(appCtx, rdb, logger.Named("relay"), infra.RedisChanRequestEvents,
			func(e notify.Event) {
				trail.Log(audit.AuditEvent{
					ID:        e.ID,
					Name:      e.Name,
					RequestID: e.RequestID,
					Payload:   e.Payload,
					Timestamp: e.Timestamp,
				})
			})
	}

	// 5. Core (Сборка движка подтверждений)
	st := store.New(safeLedger, clock.System{}, pol.CacheTTL, logger)
	eng := engine.New(pol, st, safeLedger, notifier, clock.System{}, metrics, logger)
	collector := engine.NewCollector(eng, st, safeLedger, engine.StaticVerifier{}, clock.System{}, logger)

	// Фоновая уборка просроченных заявок
	go eng.StartSweeper(appCtx, cfg.Policy.SweepInterval)

	// 6. Console API (RS256 + chi)
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse public key", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse private key", zap.Error(err))
	}

	validator := auth.NewBaseValidator(pubKey)
	authService := service.NewAuthService(repo, privKey, cfg.Auth.TokenTTL)
	auditService := service.NewAuditService(repo)

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		validator,
		handler.NewAuthHandler(authService),
		handler.NewRequestHandler(eng, collector),
		handler.NewDashboardHandler(repo, eng),
		handler.NewAuditHandler(auditService),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("quorumgate started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("quorumgate stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Останавливаем фоновые горутины, затем дожимаем очереди событий и аудита
	cancel()
	notifier.Stop()
	trail.Stop()

	logger.Info("quorumgate exited properly")
}
