package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Slack     SlackConfig     `mapstructure:"slack"`
	AI        AIConfig        `mapstructure:"ai"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// SlackConfig holds chat platform tokens. The bot token is used for
// posting summaries back; the user token is the default for reading
// channel history when a request does not carry its own token.
type SlackConfig struct {
	BotToken  string `mapstructure:"bot_token"`
	UserToken string `mapstructure:"user_token"`
}

// AIConfig holds the completion endpoint configuration
type AIConfig struct {
	APIKey          string  `mapstructure:"api_key"`
	BaseURL         string  `mapstructure:"base_url"`
	Model           string  `mapstructure:"model"`
	FallbackModel   string  `mapstructure:"fallback_model"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	RequireJSON     bool    `mapstructure:"require_json"`
}

// RateLimitConfig holds the per-identity request ceiling
type RateLimitConfig struct {
	RequestsPerWindow int `mapstructure:"requests_per_window"`
	WindowMinutes     int `mapstructure:"window_minutes"`
}

// SweepConfig holds the delivery retry sweep configuration
type SweepConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
	CutoffHours     int `mapstructure:"cutoff_hours"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("ai.model", "gpt-4o-mini")
	viper.SetDefault("ai.fallback_model", "gpt-4o-mini")
	viper.SetDefault("ai.max_output_tokens", 1024)
	viper.SetDefault("ai.temperature", 0.3)
	viper.SetDefault("ai.require_json", true)

	viper.SetDefault("rate_limit.requests_per_window", 10)
	viper.SetDefault("rate_limit.window_minutes", 60)

	viper.SetDefault("sweep.interval_minutes", 15)
	viper.SetDefault("sweep.cutoff_hours", 72)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// Slack
	viper.BindEnv("slack.bot_token", "SLACK_BOT_TOKEN")
	viper.BindEnv("slack.user_token", "SLACK_USER_TOKEN")

	// AI
	viper.BindEnv("ai.api_key", "AI_API_KEY")
	viper.BindEnv("ai.base_url", "AI_BASE_URL")
	viper.BindEnv("ai.model", "AI_MODEL")
	viper.BindEnv("ai.fallback_model", "AI_FALLBACK_MODEL")
	viper.BindEnv("ai.max_output_tokens", "AI_MAX_OUTPUT_TOKENS")
	viper.BindEnv("ai.temperature", "AI_TEMPERATURE")
	viper.BindEnv("ai.require_json", "AI_REQUIRE_JSON")

	// Rate limit
	viper.BindEnv("rate_limit.requests_per_window", "RATE_LIMIT_REQUESTS_PER_WINDOW")
	viper.BindEnv("rate_limit.window_minutes", "RATE_LIMIT_WINDOW_MINUTES")

	// Sweep
	viper.BindEnv("sweep.interval_minutes", "SWEEP_INTERVAL_MINUTES")
	viper.BindEnv("sweep.cutoff_hours", "SWEEP_CUTOFF_HOURS")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack bot token is required")
	}

	if c.AI.APIKey == "" {
		return fmt.Errorf("AI API key is required")
	}
	if c.AI.Model == "" || c.AI.FallbackModel == "" {
		return fmt.Errorf("AI model and fallback model are required")
	}

	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowMinutes <= 0 {
		return fmt.Errorf("rate limit ceiling and window must be greater than 0")
	}

	if c.Sweep.IntervalMinutes <= 0 {
		return fmt.Errorf("sweep interval must be greater than 0")
	}
	if c.Sweep.CutoffHours <= 0 {
		return fmt.Errorf("sweep cutoff must be greater than 0")
	}

	return nil
}
