package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения.
//
// Никаких глобальных изменяемых значений по умолчанию: конфигурация
// строится один раз на старте и явно передаётся в Scheduler, репозитории
// и Evaluator.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Security   SecurityConfig
	Gateway    GatewayConfig
	Protection ProtectionConfig
	Scheduler  SchedulerConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки операционного HTTP сервера (healthz/metrics/API)
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - параметры расшифровки API ключей биржи
type SecurityConfig struct {
	// Парольная фраза для вывода ключа AES-256 (PBKDF2)
	EncryptionPassphrase string
	// Base64-encoded соль PBKDF2
	EncryptionSalt string
}

// GatewayConfig - настройки ордер-шлюза биржи
type GatewayConfig struct {
	BaseURL string
	WSURL   string

	// Зашифрованные креды (base64 AES-GCM, см. pkg/crypto)
	APIKeyEncrypted    string
	APISecretEncrypted string

	// Таймаут одного блокирующего вызова шлюза
	RequestTimeout time.Duration

	// Retry для вызовов шлюза
	MaxRetries   int
	RetryBackoff time.Duration

	// Допустимый возраст цены из WS-кэша перед REST fallback
	MarkPriceMaxAge time.Duration
}

// ProtectionConfig - пороги защитных правил
type ProtectionConfig struct {
	// Минимальная дистанция до цены ликвидации (% от цены входа),
	// ниже которой срабатывает превентивное закрытие
	LiquidationSafetyMarginPct float64

	// Максимальное время удержания позиции в минутах
	MaxHoldingMinutes int

	// Доля позиции, закрываемая частично при liquidation guard
	// (0 = всегда полное закрытие)
	PartialCloseRatio float64
}

// SchedulerConfig - настройки цикла защиты
type SchedulerConfig struct {
	// Интервал между циклами
	Interval time.Duration

	// Размер пула воркеров для параллельной оценки позиций
	Workers int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "guardian"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionPassphrase: getEnv("ENCRYPTION_PASSPHRASE", ""),
			EncryptionSalt:       getEnv("ENCRYPTION_SALT", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:            getEnv("BINANCE_BASE_URL", "https://fapi.binance.com"),
			WSURL:              getEnv("BINANCE_WS_URL", "wss://fstream.binance.com/ws"),
			APIKeyEncrypted:    getEnv("BINANCE_API_KEY_ENC", ""),
			APISecretEncrypted: getEnv("BINANCE_API_SECRET_ENC", ""),
			RequestTimeout:     getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
			MaxRetries:         getEnvAsInt("GATEWAY_MAX_RETRIES", 4),
			RetryBackoff:       getEnvAsDuration("GATEWAY_RETRY_BACKOFF", 500*time.Millisecond),
			MarkPriceMaxAge:    getEnvAsDuration("MARK_PRICE_MAX_AGE", 5*time.Second),
		},
		Protection: ProtectionConfig{
			LiquidationSafetyMarginPct: getEnvAsFloat("LIQUIDATION_SAFETY_MARGIN_PCT", 1.0),
			MaxHoldingMinutes:          getEnvAsInt("MAX_HOLDING_MINUTES", 120),
			PartialCloseRatio:          getEnvAsFloat("PARTIAL_CLOSE_RATIO", 0),
		},
		Scheduler: SchedulerConfig{
			Interval: getEnvAsDuration("CYCLE_INTERVAL", 60*time.Second),
			Workers:  getEnvAsInt("CYCLE_WORKERS", 8),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// Креды зашифрованы → нужна парольная фраза и соль
	if c.Gateway.APIKeyEncrypted != "" || c.Gateway.APISecretEncrypted != "" {
		if c.Security.EncryptionPassphrase == "" {
			return fmt.Errorf("ENCRYPTION_PASSPHRASE is required when encrypted API credentials are set")
		}
		if c.Security.EncryptionSalt == "" {
			return fmt.Errorf("ENCRYPTION_SALT is required when encrypted API credentials are set")
		}
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Gateway.MaxRetries < 0 {
		return fmt.Errorf("GATEWAY_MAX_RETRIES cannot be negative, got %d", c.Gateway.MaxRetries)
	}

	if c.Gateway.MaxRetries > 10 {
		return fmt.Errorf("GATEWAY_MAX_RETRIES should not exceed 10, got %d", c.Gateway.MaxRetries)
	}

	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %v", c.Gateway.RequestTimeout)
	}

	if c.Protection.LiquidationSafetyMarginPct <= 0 || c.Protection.LiquidationSafetyMarginPct >= 50 {
		return fmt.Errorf("LIQUIDATION_SAFETY_MARGIN_PCT must be in (0, 50), got %f",
			c.Protection.LiquidationSafetyMarginPct)
	}

	if c.Protection.MaxHoldingMinutes <= 0 {
		return fmt.Errorf("MAX_HOLDING_MINUTES must be positive, got %d", c.Protection.MaxHoldingMinutes)
	}

	if c.Protection.PartialCloseRatio < 0 || c.Protection.PartialCloseRatio >= 1 {
		return fmt.Errorf("PARTIAL_CLOSE_RATIO must be in [0, 1), got %f", c.Protection.PartialCloseRatio)
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL must be positive, got %v", c.Scheduler.Interval)
	}

	if c.Scheduler.Workers < 1 || c.Scheduler.Workers > 64 {
		return fmt.Errorf("CYCLE_WORKERS must be between 1 and 64, got %d", c.Scheduler.Workers)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
