package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит конфигурацию сервера.
type Config struct {
	RunAddress            string
	DatabaseURI           string
	JWTSecret             string
	TokenExpiration       time.Duration
	LogLevel              string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AMQPURL               string
	NotifyExchange        string
	PaymentGatewayAddress string
	PaymentWebhookSecret  string
	StaffLogins           []string
	LifecycleInterval     time.Duration
	RefundStaleAfter      time.Duration
	MetricsNamespace      string
}

// ClientConfig содержит конфигурацию клиентской утилиты.
type ClientConfig struct {
	ServerURL         string
	Token             string
	StagingPath       string
	PollInterval      time.Duration
	OrderPollInterval time.Duration
	LogLevel          string
	Role              string
}

const defaultJWTSecret = "default-secret-change-in-production"

// Load загружает конфигурацию из флагов командной строки и переменных окружения.
// Приоритет: переменные окружения > флаги > значения по умолчанию.
func Load() *Config {
	cfg := &Config{}

	var staffLogins string
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "адрес и порт запуска сервиса")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "строка подключения к PostgreSQL (пусто - хранение в памяти)")
	flag.StringVar(&cfg.PaymentGatewayAddress, "p", "", "адрес платёжного шлюза")
	flag.DurationVar(&cfg.TokenExpiration, "t", 24*time.Hour, "время жизни токена")
	flag.StringVar(&cfg.LogLevel, "l", "info", "уровень логирования")
	flag.StringVar(&staffLogins, "staff", "", "логины сотрудников через запятую")
	flag.Parse()

	if v := os.Getenv("RUN_ADDRESS"); v != "" {
		cfg.RunAddress = v
	}
	if v := os.Getenv("DATABASE_URI"); v != "" {
		cfg.DatabaseURI = v
	}
	if v := os.Getenv("PAYMENT_GATEWAY_ADDRESS"); v != "" {
		cfg.PaymentGatewayAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STAFF_LOGINS"); v != "" {
		staffLogins = v
	}
	cfg.StaffLogins = splitList(staffLogins)

	// Время жизни токена; некорректное значение игнорируется
	cfg.TokenExpiration = envDuration("TOKEN_EXPIRATION", cfg.TokenExpiration)

	// JWT секрет
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = defaultJWTSecret
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = envInt("REDIS_DB", 0)
	cfg.AMQPURL = os.Getenv("AMQP_URL")
	cfg.NotifyExchange = envString("NOTIFY_EXCHANGE", "printdesk.events")
	cfg.PaymentWebhookSecret = os.Getenv("PAYMENT_WEBHOOK_SECRET")
	cfg.LifecycleInterval = envDuration("LIFECYCLE_INTERVAL", time.Minute)
	cfg.RefundStaleAfter = envDuration("REFUND_STALE_AFTER", 72*time.Hour)
	cfg.MetricsNamespace = envString("METRICS_NAMESPACE", "printdesk")

	return cfg
}

// IsStaff сообщает, регистрируется ли логин как сотрудник.
func (c *Config) IsStaff(login string) bool {
	for _, l := range c.StaffLogins {
		if strings.EqualFold(l, login) {
			return true
		}
	}
	return false
}

// LoadClient загружает конфигурацию клиентской утилиты.
func LoadClient() *ClientConfig {
	cfg := &ClientConfig{}

	flag.StringVar(&cfg.ServerURL, "s", "http://localhost:8080", "адрес сервера printdesk")
	flag.StringVar(&cfg.Token, "token", "", "токен доступа")
	flag.StringVar(&cfg.StagingPath, "staging", "printdesk-staging.db", "файл SQLite для подготовленных изменений")
	flag.StringVar(&cfg.LogLevel, "l", "info", "уровень логирования")
	flag.StringVar(&cfg.Role, "role", "customer", "роль пользователя токена: customer или staff")
	flag.Parse()

	if v := os.Getenv("PRINTDESK_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("PRINTDESK_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("STAGING_PATH"); v != "" {
		cfg.StagingPath = v
	}
	if v := os.Getenv("PRINTDESK_ROLE"); v != "" {
		cfg.Role = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.PollInterval = envDuration("POLL_INTERVAL", 2*time.Second)
	cfg.OrderPollInterval = envDuration("ORDER_POLL_INTERVAL", 10*time.Second)

	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
