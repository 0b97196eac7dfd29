package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"libraryhub/pkg/circulation"
)

const (
	// ConfigPath is read when CIRCULATION_CONFIG is unset.
	ConfigPath = "config.yaml"

	EventsNone  = "none"
	EventsRedis = "redis"
	EventsAMQP  = "amqp"
)

// FileConfig is the circulation service configuration.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	// DatabaseURL selects Postgres; empty runs on the in-memory store.
	DatabaseURL string `yaml:"databaseURL"`

	AuthJWKSURL string        `yaml:"authJwksURL"`
	JWTIssuer   string        `yaml:"jwtIssuer"`
	JWTAudience string        `yaml:"jwtAudience"`
	JWTLeeway   time.Duration `yaml:"jwtLeeway"`

	InternalJWTPublicKeyPath    string   `yaml:"internalJwtPublicKeyPath"`
	InternalJWTVerifyPublicKeys string   `yaml:"internalJwtVerifyPublicKeys"`
	InternalJWTKeyID            string   `yaml:"internalJwtKeyId"`
	CatalogIssuers              []string `yaml:"catalogIssuers"`

	RedisAddr          string `yaml:"redisAddr"`
	RedisPassword      string `yaml:"redisPassword"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`

	EventsBackend string `yaml:"eventsBackend"`
	EventsStream  string `yaml:"eventsStream"`
	AMQPURL       string `yaml:"amqpURL"`
	AMQPExchange  string `yaml:"amqpExchange"`

	MinioEndpoint   string        `yaml:"minioEndpoint"`
	MinioAccessKey  string        `yaml:"minioAccessKey"`
	MinioSecretKey  string        `yaml:"minioSecretKey"`
	MinioBucket     string        `yaml:"minioBucket"`
	MinioUseSSL     bool          `yaml:"minioUseSSL"`
	ReportURLExpiry time.Duration `yaml:"reportURLExpiry"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCidrs"`

	LoanPeriodDays int      `yaml:"loanPeriodDays"`
	MaxRenewals    *int     `yaml:"maxRenewals"`
	LateFeePerDay  *float64 `yaml:"lateFeePerDay"`
	Timezone       string   `yaml:"timezone"`
}

// Path returns CIRCULATION_CONFIG or ConfigPath.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("CIRCULATION_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads the YAML file at path, applies environment overrides and defaults, and validates.
func Load(path string) (FileConfig, error) {
	if path == "" {
		path = Path()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (FileConfig, error) {
	cfg := FileConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("AMQP_URL", &cfg.AMQPURL)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setString("CIRCULATION_TIMEZONE", &cfg.Timezone)
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.MinioUseSSL = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CIRCULATION_LOAN_PERIOD_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CIRCULATION_LOAN_PERIOD_DAYS: %w", err)
		}
		cfg.LoanPeriodDays = n
	}
	if v := os.Getenv("CIRCULATION_MAX_RENEWALS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CIRCULATION_MAX_RENEWALS: %w", err)
		}
		cfg.MaxRenewals = &n
	}
	if v := os.Getenv("CIRCULATION_LATE_FEE_PER_DAY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: CIRCULATION_LATE_FEE_PER_DAY: %w", err)
		}
		cfg.LateFeePerDay = &f
	}
	return nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.EventsBackend == "" {
		cfg.EventsBackend = EventsNone
	}
	if cfg.ReportURLExpiry <= 0 {
		cfg.ReportURLExpiry = 15 * time.Minute
	}
	if cfg.LoanPeriodDays == 0 {
		cfg.LoanPeriodDays = circulation.DefaultLoanPeriodDays
	}
	if cfg.MaxRenewals == nil {
		n := circulation.DefaultMaxRenewals
		cfg.MaxRenewals = &n
	}
	if cfg.LateFeePerDay == nil {
		f := circulation.DefaultLateFeePerDay
		cfg.LateFeePerDay = &f
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.AuthJWKSURL == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml)")
	}
	switch cfg.EventsBackend {
	case EventsNone:
	case EventsRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required when eventsBackend is redis")
		}
	case EventsAMQP:
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required when eventsBackend is amqp (or set AMQP_URL)")
		}
	default:
		return fmt.Errorf("config: unknown eventsBackend %q (want none, redis or amqp)", cfg.EventsBackend)
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioBucket == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minioBucket, minioAccessKey and minioSecretKey are required with minioEndpoint")
	}
	if cfg.InternalJWTPublicKeyPath != "" || cfg.InternalJWTVerifyPublicKeys != "" {
		if len(cfg.CatalogIssuers) == 0 {
			return errors.New("config: catalogIssuers is required when internal jwt keys are set")
		}
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must not be negative")
	}
	if _, err := cfg.PolicyConfig(); err != nil {
		return err
	}
	return nil
}

// PolicyConfig builds and checks the circulation rules.
func (c FileConfig) PolicyConfig() (circulation.Config, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return circulation.Config{}, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	pc := circulation.DefaultConfig()
	pc.LoanPeriodDays = c.LoanPeriodDays
	if c.MaxRenewals != nil {
		pc.MaxRenewals = *c.MaxRenewals
	}
	if c.LateFeePerDay != nil {
		pc.LateFeePerDay = *c.LateFeePerDay
	}
	pc.Location = loc
	if _, err := circulation.NewPolicy(pc); err != nil {
		return circulation.Config{}, fmt.Errorf("config: %w", err)
	}
	return pc, nil
}

// ReportsEnabled reports whether overdue exports have somewhere to go.
func (c FileConfig) ReportsEnabled() bool {
	return c.MinioEndpoint != ""
}

// InternalAuthEnabled reports whether the catalog sync route is served.
func (c FileConfig) InternalAuthEnabled() bool {
	return c.InternalJWTPublicKeyPath != "" || c.InternalJWTVerifyPublicKeys != ""
}
