package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"guardian/internal/api"
	"guardian/internal/config"
	"guardian/internal/gateway"
	"guardian/internal/guard"
	"guardian/internal/repository"
	"guardian/internal/service"
	"guardian/pkg/crypto"
	"guardian/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	once := flag.Bool("once", false, "выполнить один цикл защиты и выйти")
	interval := flag.Duration("interval", 0, "интервал цикла защиты (переопределяет CYCLE_INTERVAL)")
	flag.Parse()

	// .env опционален: в контейнере конфигурация приходит из окружения
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *interval > 0 {
		cfg.Scheduler.Interval = *interval
	}

	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()),
			zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Расшифровка API кредов биржи
	apiKey, apiSecret, err := loadCredentials(cfg)
	if err != nil {
		logger.Fatal("failed to load exchange credentials", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// WS кэш отметочных цен. Без соединения работаем через REST:
	// защита важнее свежести кэша
	stream := gateway.NewMarkStream(
		gateway.DefaultStreamConfig(cfg.Gateway.WSURL, cfg.Gateway.MarkPriceMaxAge),
		logger.Named("markstream"))
	if err := stream.Start(ctx); err != nil {
		logger.Warn("mark price stream unavailable, falling back to REST", zap.Error(err))
		stream = nil
	}

	gw := gateway.NewBinanceGateway(gateway.BinanceConfig{
		BaseURL:    cfg.Gateway.BaseURL,
		APIKey:     apiKey,
		APISecret:  apiSecret,
		HTTPConfig: httpConfig(cfg),
		Stream:     stream,
	}, logger.Named("gateway"))
	defer gw.Close()

	// Репозитории
	positionRepo := repository.NewPositionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	statsRepo := repository.NewStatsRepository(db)

	// Защитный контур
	executor := guard.NewExecutor(positionRepo, auditRepo, gw, cfg.Protection, logger.Named("executor"))
	scheduler := guard.NewScheduler(positionRepo, gw, executor, cfg.Protection, cfg.Scheduler, logger.Named("scheduler"))

	if *once {
		runOnce(ctx, scheduler, logger)
		return
	}

	// Сервисы для API
	positionService := service.NewPositionService(
		positionRepo, auditRepo, gw, executor, scheduler.Locks(), cfg.Protection, logger.Named("positions"))
	statsService := service.NewStatsService(statsRepo)

	router := api.SetupRoutes(&api.Dependencies{
		PositionService: positionService,
		StatsService:    statsService,
		Scheduler:       scheduler,
		Gateway:         gw,
		Logger:          logger.Named("http"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Цикл защиты в отдельной горутине
	schedulerDone := make(chan error, 1)
	go func() {
		schedulerDone <- scheduler.Run(ctx)
	}()

	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Ждём сигнал или фатальную остановку планировщика
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-schedulerDone:
		if err != nil && !errors.Is(err, guard.ErrSchedulerStopped) {
			logger.Error("scheduler stopped with error", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Дожидаемся сводки по открытым позициям от планировщика
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
	}

	logger.Info("server exited")
}

// runOnce выполняет один цикл защиты (режим для cron)
func runOnce(ctx context.Context, scheduler *guard.Scheduler, logger *zap.Logger) {
	stats, err := scheduler.RunOnce(ctx)
	if err != nil {
		logger.Fatal("protection cycle failed", zap.Error(err))
	}
	logger.Info("protection cycle complete",
		zap.Int("open", stats.Open),
		zap.Int("evaluated", stats.Evaluated),
		zap.Int("triggered", stats.Triggered),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))
}

// loadCredentials расшифровывает API ключи биржи из конфигурации.
//
// Пустые зашифрованные креды допустимы: публичные endpoint'ы (цены,
// exchangeInfo) работают без подписи, подписанные вызовы вернут ошибку.
func loadCredentials(cfg *config.Config) (string, string, error) {
	if cfg.Gateway.APIKeyEncrypted == "" && cfg.Gateway.APISecretEncrypted == "" {
		return "", "", nil
	}

	key, err := crypto.DeriveKeyBase64(cfg.Security.EncryptionPassphrase, cfg.Security.EncryptionSalt)
	if err != nil {
		return "", "", fmt.Errorf("failed to derive encryption key: %w", err)
	}

	apiKey, err := crypto.DecryptCredential(cfg.Gateway.APIKeyEncrypted, key)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt API key: %w", err)
	}

	apiSecret, err := crypto.DecryptCredential(cfg.Gateway.APISecretEncrypted, key)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt API secret: %w", err)
	}

	return apiKey, apiSecret, nil
}

// httpConfig строит настройки HTTP клиента шлюза из конфигурации
func httpConfig(cfg *config.Config) gateway.HTTPClientConfig {
	httpCfg := gateway.DefaultHTTPClientConfig()
	if cfg.Gateway.RequestTimeout > 0 {
		httpCfg.TotalTimeout = cfg.Gateway.RequestTimeout
	}
	return httpCfg
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
