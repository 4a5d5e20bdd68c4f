package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всего сервиса.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL (аудит + операторы).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (широковещание событий).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	PublicKey      []byte
	PrivateKey     []byte
}

// PolicyConfig — пороги и окна движка подтверждений.
// Валидируется при сборке policy.Policy, сервис с кривыми границами не стартует.
type PolicyConfig struct {
	MinRequiredSignatures int           `mapstructure:"min_required_signatures"`
	MaxRequiredSignatures int           `mapstructure:"max_required_signatures"`
	VotingPeriod          time.Duration `mapstructure:"voting_period"`
	ExecutionDelay        time.Duration `mapstructure:"execution_delay"`
	MaxActiveRequests     int           `mapstructure:"max_active_requests"`
	CacheTTL              time.Duration `mapstructure:"cache_ttl"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
}

// LedgerConfig — подключение к внешнему ledger-слою и настройки надежности.
type LedgerConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Mock        bool          `mapstructure:"mock"` // In-memory ledger для локальных запусков
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	// Настройки Circuit Breaker и лимитера
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`
	ReadAttempts  uint          `mapstructure:"read_attempts"`
}

// NotifierConfig настраивает шину событий.
type NotifierConfig struct {
	BufferSize int  `mapstructure:"buffer_size"`
	Relay      bool `mapstructure:"relay"` // Пассивный инстанс: слушать чужие события из Redis
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключей из файла ИЛИ из ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("logger.level", "info")

	v.SetDefault("policy.min_required_signatures", 2)
	v.SetDefault("policy.max_required_signatures", 5)
	v.SetDefault("policy.voting_period", 24*time.Hour)
	v.SetDefault("policy.execution_delay", time.Hour)
	v.SetDefault("policy.max_active_requests", 5)
	v.SetDefault("policy.cache_ttl", 60*time.Second)
	v.SetDefault("policy.sweep_interval", time.Minute)

	v.SetDefault("ledger.mock", false)
	v.SetDefault("ledger.call_timeout", 15*time.Second)
	v.SetDefault("ledger.cb_max_requests", 3)
	v.SetDefault("ledger.cb_interval", 5*time.Second)
	v.SetDefault("ledger.cb_timeout", 30*time.Second)
	v.SetDefault("ledger.rate_limit", 100)
	v.SetDefault("ledger.rate_burst", 20)
	v.SetDefault("ledger.read_attempts", 3)

	v.SetDefault("notifier.buffer_size", 1024)
}

// loadKeyResource — ключ либо напрямую в ENV (Base64/PEM), либо файлом по пути
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
