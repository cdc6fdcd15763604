package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Business  BusinessConfig  `mapstructure:"business"`
	Health    HealthConfig    `mapstructure:"health"`
}

type ServerConfig struct {
	Port         string `mapstructure:"SERVER_PORT"`
	Host         string `mapstructure:"SERVER_HOST"`
	Env          string `mapstructure:"ENV"`
	ReadTimeout  string `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout string `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"DATABASE_URL"`
	MaxOpenConns int    `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns int    `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
}

type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type SchedulerConfig struct {
	OverdueSpec string `mapstructure:"SCHEDULER_OVERDUE_SPEC"`
	AlertSpec   string `mapstructure:"SCHEDULER_ALERT_SPEC"`
	Timezone    string `mapstructure:"SCHEDULER_TIMEZONE"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

// BusinessConfig carries the configurable policy parameters. They are
// explicit inputs to the service rather than ambient state.
type BusinessConfig struct {
	GuarantorLoanCap      int    `mapstructure:"GUARANTOR_LOAN_CAP"`
	InterestOnlyThreshold int    `mapstructure:"INTEREST_ONLY_ALERT_THRESHOLD"`
	DefaultMethod         string `mapstructure:"DEFAULT_AMORTIZATION_METHOD"`
	ReportCacheTTL        string `mapstructure:"REPORT_CACHE_TTL"`
}

type HealthConfig struct {
	Timeout string `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

// Load reads configuration from environment variables and files
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("SERVER_READ_TIMEOUT", "15s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	viper.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("GUARANTOR_LOAN_CAP", 3)
	viper.SetDefault("INTEREST_ONLY_ALERT_THRESHOLD", 3)
	viper.SetDefault("DEFAULT_AMORTIZATION_METHOD", "french")
	viper.SetDefault("REPORT_CACHE_TTL", "5m")
	viper.SetDefault("SCHEDULER_OVERDUE_SPEC", "0 0 6 * * *")
	viper.SetDefault("SCHEDULER_ALERT_SPEC", "0 30 6 * * *")
	viper.SetDefault("SCHEDULER_TIMEZONE", "America/Guayaquil")
	viper.SetDefault("HEALTH_CHECK_TIMEOUT", "5s")

	// Read from environment variables
	viper.AutomaticEnv()

	// Try to read from .env file (optional)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./deployments")

	// Don't fail if .env file doesn't exist
	_ = viper.ReadInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Business.GuarantorLoanCap <= 0 {
		return fmt.Errorf("GUARANTOR_LOAN_CAP must be greater than 0")
	}

	if c.Business.InterestOnlyThreshold <= 0 {
		return fmt.Errorf("INTEREST_ONLY_ALERT_THRESHOLD must be greater than 0")
	}

	if c.Business.DefaultMethod != "french" && c.Business.DefaultMethod != "german" {
		return fmt.Errorf("DEFAULT_AMORTIZATION_METHOD must be french or german")
	}

	if _, err := time.ParseDuration(c.Business.ReportCacheTTL); err != nil {
		return fmt.Errorf("REPORT_CACHE_TTL must be a valid duration: %w", err)
	}

	if _, err := time.ParseDuration(c.Server.ReadTimeout); err != nil {
		return fmt.Errorf("SERVER_READ_TIMEOUT must be a valid duration: %w", err)
	}

	if _, err := time.ParseDuration(c.Server.WriteTimeout); err != nil {
		return fmt.Errorf("SERVER_WRITE_TIMEOUT must be a valid duration: %w", err)
	}

	if _, err := time.ParseDuration(c.Health.Timeout); err != nil {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be a valid duration: %w", err)
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// GetReportCacheTTL returns the report cache TTL as duration
func (c *Config) GetReportCacheTTL() time.Duration {
	ttl, _ := time.ParseDuration(c.Business.ReportCacheTTL)
	return ttl
}

// GetReadTimeout returns the server read timeout as duration
func (c *Config) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.ReadTimeout)
	return d
}

// GetWriteTimeout returns the server write timeout as duration
func (c *Config) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Server.WriteTimeout)
	return d
}

// GetHealthTimeout returns the health check timeout as duration
func (c *Config) GetHealthTimeout() time.Duration {
	timeout, _ := time.ParseDuration(c.Health.Timeout)
	return timeout
}
