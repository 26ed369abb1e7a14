package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. Provider secrets are
// environment-supplied and must never be logged or serialized.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	OTel     OTelConfig     `mapstructure:"otel"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	MoMo     MoMoConfig     `mapstructure:"momo"`
	VNPay    VNPayConfig    `mapstructure:"vnpay"`
	ZaloPay  ZaloPayConfig  `mapstructure:"zalopay"`
	Banking  BankingConfig  `mapstructure:"banking"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// PaymentConfig holds payment order lifecycle settings
type PaymentConfig struct {
	// Timeout is how long a pending order may wait for a callback
	Timeout time.Duration `mapstructure:"timeout"`
	// ExpirySweepInterval is how often the expiry sweep runs
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
	// ConsumerWorkers is the booking consumer worker pool size
	ConsumerWorkers int `mapstructure:"consumer_workers"`
}

// MoMoConfig holds MoMo partner credentials
type MoMoConfig struct {
	PartnerCode string `mapstructure:"partner_code"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	Endpoint    string `mapstructure:"endpoint"`
	RedirectURL string `mapstructure:"redirect_url"`
	IPNURL      string `mapstructure:"ipn_url"`
}

// VNPayConfig holds VNPay merchant credentials
type VNPayConfig struct {
	TmnCode    string `mapstructure:"tmn_code"`
	HashSecret string `mapstructure:"hash_secret"`
	PayURL     string `mapstructure:"pay_url"`
	ReturnURL  string `mapstructure:"return_url"`
}

// ZaloPayConfig holds ZaloPay app credentials
type ZaloPayConfig struct {
	AppID       int    `mapstructure:"app_id"`
	Key1        string `mapstructure:"key1"`
	Key2        string `mapstructure:"key2"`
	Endpoint    string `mapstructure:"endpoint"`
	CallbackURL string `mapstructure:"callback_url"`
}

// BankingConfig holds the receiving account for manual transfers
type BankingConfig struct {
	CodePrefix    string `mapstructure:"code_prefix"`
	BankName      string `mapstructure:"bank_name"`
	AccountNumber string `mapstructure:"account_number"`
	AccountName   string `mapstructure:"account_name"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional; environment variables alone are enough
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// continue, env vars might be set
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "payment-service")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "vietstay_payment")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 100)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 10)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "payment-service")
	v.SetDefault("KAFKA_CLIENT_ID", "payment-service")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("OTEL_SERVICE_NAME", "payment-service")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Payment lifecycle defaults
	v.SetDefault("PAYMENT_TIMEOUT", "15m")
	v.SetDefault("PAYMENT_EXPIRY_SWEEP_INTERVAL", "1m")
	v.SetDefault("PAYMENT_CONSUMER_WORKERS", 10)

	// Provider endpoint defaults point at each gateway's sandbox; the
	// credentials have no defaults on purpose.
	v.SetDefault("MOMO_ENDPOINT", "https://test-payment.momo.vn")
	v.SetDefault("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html")
	v.SetDefault("ZALOPAY_ENDPOINT", "https://sb-openapi.zalopay.vn")
	v.SetDefault("BANKING_CODE_PREFIX", "VSTAY")
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	brokersStr := v.GetString("KAFKA_BROKERS")
	cfg.Kafka.Brokers = strings.Split(brokersStr, ",")
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Payment lifecycle
	cfg.Payment.Timeout = v.GetDuration("PAYMENT_TIMEOUT")
	cfg.Payment.ExpirySweepInterval = v.GetDuration("PAYMENT_EXPIRY_SWEEP_INTERVAL")
	cfg.Payment.ConsumerWorkers = v.GetInt("PAYMENT_CONSUMER_WORKERS")

	// MoMo
	cfg.MoMo.PartnerCode = v.GetString("MOMO_PARTNER_CODE")
	cfg.MoMo.AccessKey = v.GetString("MOMO_ACCESS_KEY")
	cfg.MoMo.SecretKey = v.GetString("MOMO_SECRET_KEY")
	cfg.MoMo.Endpoint = v.GetString("MOMO_ENDPOINT")
	cfg.MoMo.RedirectURL = v.GetString("MOMO_REDIRECT_URL")
	cfg.MoMo.IPNURL = v.GetString("MOMO_IPN_URL")

	// VNPay
	cfg.VNPay.TmnCode = v.GetString("VNPAY_TMN_CODE")
	cfg.VNPay.HashSecret = v.GetString("VNPAY_HASH_SECRET")
	cfg.VNPay.PayURL = v.GetString("VNPAY_PAY_URL")
	cfg.VNPay.ReturnURL = v.GetString("VNPAY_RETURN_URL")

	// ZaloPay
	cfg.ZaloPay.AppID = v.GetInt("ZALOPAY_APP_ID")
	cfg.ZaloPay.Key1 = v.GetString("ZALOPAY_KEY1")
	cfg.ZaloPay.Key2 = v.GetString("ZALOPAY_KEY2")
	cfg.ZaloPay.Endpoint = v.GetString("ZALOPAY_ENDPOINT")
	cfg.ZaloPay.CallbackURL = v.GetString("ZALOPAY_CALLBACK_URL")

	// Banking
	cfg.Banking.CodePrefix = v.GetString("BANKING_CODE_PREFIX")
	cfg.Banking.BankName = v.GetString("BANKING_BANK_NAME")
	cfg.Banking.AccountNumber = v.GetString("BANKING_ACCOUNT_NUMBER")
	cfg.Banking.AccountName = v.GetString("BANKING_ACCOUNT_NAME")

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DATABASE_HOST is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("DATABASE_DBNAME is required")
	}

	// production refuses to start with any enabled provider missing its
	// secret; in development unconfigured providers are simply not
	// registered
	if c.IsProduction() {
		if c.MoMo.PartnerCode != "" && c.MoMo.SecretKey == "" {
			return fmt.Errorf("MOMO_SECRET_KEY is required when MoMo is configured")
		}
		if c.VNPay.TmnCode != "" && c.VNPay.HashSecret == "" {
			return fmt.Errorf("VNPAY_HASH_SECRET is required when VNPay is configured")
		}
		if c.ZaloPay.AppID != 0 && (c.ZaloPay.Key1 == "" || c.ZaloPay.Key2 == "") {
			return fmt.Errorf("ZALOPAY_KEY1 and ZALOPAY_KEY2 are required when ZaloPay is configured")
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
