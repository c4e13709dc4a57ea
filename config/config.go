package config

import (
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"shuttle-signup"`

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"shuttle_signup"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`
	// 只读副本，逗号分隔的 host:port，列表/批量查询走副本
	PostgreSQLReplicaHosts []string `env:"POSTGRESQL_REPLICA_HOSTS" envSeparator:","`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"shuttle"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE" envDefault:"registration.events"`

	// 会话 cookie 与 CSRF
	SessionSecret string `env:"SESSION_SECRET" envDefault:"dev-session-secret-change-me"`
	CSRFSecret    string `env:"CSRF_SECRET" envDefault:"dev-csrf-secret-change-me"`
	CSRFEnabled   bool   `env:"CSRF_ENABLED" envDefault:"true"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 链路追踪配置
	OTelEnabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"0.1"`

	// 报名流程配置
	FlowTTL               time.Duration `env:"FLOW_TTL" envDefault:"24h"`
	FlowSessionTierTTL    time.Duration `env:"FLOW_SESSION_TIER_TTL" envDefault:"2h"`
	FlowSaveDebounce      time.Duration `env:"FLOW_SAVE_DEBOUNCE" envDefault:"300ms"`
	FlowIdleEvictAfter    time.Duration `env:"FLOW_IDLE_EVICT_AFTER" envDefault:"30m"`
	FlowStoreWriteTimeout time.Duration `env:"FLOW_STORE_WRITE_TIMEOUT" envDefault:"3s"`
	// 已提交会话 ID 的保留时间
	FlowSubmittedTTL time.Duration `env:"FLOW_SUBMITTED_TTL" envDefault:"720h"`

	// 接驳座位配置
	SeatStore            string        `env:"SEAT_STORE" envDefault:"redis"` // redis, postgres
	SeatPollInterval     time.Duration `env:"SEAT_POLL_INTERVAL" envDefault:"30s"`
	SeatAlternativeCount int           `env:"SEAT_ALTERNATIVE_COUNT" envDefault:"3"`
	SeatRequestTimeout   time.Duration `env:"SEAT_REQUEST_TIMEOUT" envDefault:"5s"`
	// 名额服务部署在其他实例时的地址，为空时直接使用本进程的库存
	SeatAPIBaseURL string `env:"SEAT_API_BASE_URL" envDefault:""`
	// 空闲会话清理间隔
	FlowJanitorInterval time.Duration `env:"FLOW_JANITOR_INTERVAL" envDefault:"1m"`

	// 预约接口限流（每个会话每分钟）
	RateLimitEnabled  bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	ReserveRateLimit  int  `env:"RESERVE_RATE_LIMIT" envDefault:"20"`
	ReserveRateWindow int  `env:"RESERVE_RATE_WINDOW" envDefault:"60"` // 秒
}

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}

	validateConfig()
}

func validateConfig() {
	switch strings.ToLower(Cfg.SeatStore) {
	case "redis", "postgres":
	default:
		log.Fatalf("SEAT_STORE must be redis or postgres, got %q", Cfg.SeatStore)
	}

	if Cfg.FlowTTL <= 0 {
		log.Fatal("FLOW_TTL must be positive")
	}

	if Cfg.SeatPollInterval <= 0 {
		log.Fatal("SEAT_POLL_INTERVAL must be positive")
	}

	if Cfg.IsProduction() && strings.HasPrefix(Cfg.SessionSecret, "dev-") {
		log.Printf("WARN: SESSION_SECRET is using the development default")
	}
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
