package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security" yaml:"security"`
	Gateway    GatewayConfig    `mapstructure:"gateway" yaml:"gateway"`
	Messaging  MessagingConfig  `mapstructure:"messaging" yaml:"messaging"`
	Routing    RoutingConfig    `mapstructure:"routing" yaml:"routing"`
	Campaign   CampaignConfig   `mapstructure:"campaign" yaml:"campaign"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	TimeZone        string        `mapstructure:"timezone" yaml:"timezone"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// PostgresDSN returns the explicit DSN when set, otherwise builds one from the discrete fields.
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	tz := d.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, sslmode, tz)
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	Output     string `mapstructure:"output" yaml:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // MB
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // days
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // number of backup files
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type MonitoringConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	Tracing     TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// TracingConfig OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"` // OTLP gRPC, e.g. http://otel-collector:4317
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"` // 0.0~1.0
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors" yaml:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting" yaml:"rate_limiting"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
}

type RateLimitingConfig struct {
	Enabled           bool                  `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int                   `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int                   `mapstructure:"burst" yaml:"burst"`
	KeyHeader         string                `mapstructure:"key_header" yaml:"key_header"`
	WhitelistIPs      []string              `mapstructure:"whitelist_ips" yaml:"whitelist_ips"`
	Paths             []PathRateLimitConfig `mapstructure:"paths" yaml:"paths"`
}

// PathRateLimitConfig overrides the global limit for requests under Prefix.
type PathRateLimitConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	Prefix            string `mapstructure:"prefix" yaml:"prefix"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int    `mapstructure:"burst" yaml:"burst"`
}

// GatewayConfig points at the HTTP messaging gateway (WAHA compatible).
type GatewayConfig struct {
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey             string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	DefaultCountryCode string        `mapstructure:"default_country_code" yaml:"default_country_code"`
	WebhookBaseURL     string        `mapstructure:"webhook_base_url" yaml:"webhook_base_url"` // public URL the gateway calls back
}

type MessagingConfig struct {
	MaxMessagesBeforeHandoff int           `mapstructure:"max_messages_before_handoff" yaml:"max_messages_before_handoff"`
	MaxConversationAge       time.Duration `mapstructure:"max_conversation_age" yaml:"max_conversation_age"`
	UrgentKeywords           []string      `mapstructure:"urgent_keywords" yaml:"urgent_keywords"`
	HumanRequestPhrases      []string      `mapstructure:"human_request_phrases" yaml:"human_request_phrases"`
	HandoffMessage           string        `mapstructure:"handoff_message" yaml:"handoff_message"`
	AfterHoursMessage        string        `mapstructure:"after_hours_message" yaml:"after_hours_message"`
	FallbackMessage          string        `mapstructure:"fallback_message" yaml:"fallback_message"`
	BusinessHoursStart       string        `mapstructure:"business_hours_start" yaml:"business_hours_start"` // HH:MM
	BusinessHoursEnd         string        `mapstructure:"business_hours_end" yaml:"business_hours_end"`
	Location                 string        `mapstructure:"location" yaml:"location"` // IANA zone for business hours
}

// RoutingConfig holds the agent scoring weights. Values are product tuning, not invariants.
type RoutingConfig struct {
	DefaultCapacity      int                `mapstructure:"default_capacity" yaml:"default_capacity"`
	RoleWeights          map[string]float64 `mapstructure:"role_weights" yaml:"role_weights"`
	SatisfactionMaxBonus float64            `mapstructure:"satisfaction_max_bonus" yaml:"satisfaction_max_bonus"`
	ResponseTimeMaxBonus float64            `mapstructure:"response_time_max_bonus" yaml:"response_time_max_bonus"`
	ResponseTimeDivisor  float64            `mapstructure:"response_time_divisor" yaml:"response_time_divisor"`
	WorkloadMaxBonus     float64            `mapstructure:"workload_max_bonus" yaml:"workload_max_bonus"`
	WorkloadPenalty      float64            `mapstructure:"workload_penalty" yaml:"workload_penalty"`
	UrgentPriorityBonus  float64            `mapstructure:"urgent_priority_bonus" yaml:"urgent_priority_bonus"`
	HighPriorityBonus    float64            `mapstructure:"high_priority_bonus" yaml:"high_priority_bonus"`
	SpecializationBonus  float64            `mapstructure:"specialization_bonus" yaml:"specialization_bonus"`
	UrgentRoles          []string           `mapstructure:"urgent_roles" yaml:"urgent_roles"`
	HighRoles            []string           `mapstructure:"high_roles" yaml:"high_roles"`
	LockTTL              time.Duration      `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	QueueInterval        time.Duration      `mapstructure:"queue_interval" yaml:"queue_interval"`
}

type CampaignConfig struct {
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	BatchInterval      time.Duration `mapstructure:"batch_interval" yaml:"batch_interval"`
	SchedulerInterval  time.Duration `mapstructure:"scheduler_interval" yaml:"scheduler_interval"`
}

// Load unmarshals the viper state over the defaults.
func Load() (*Config, error) {
	cfg := GetDefaultConfig()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// GetDefaultConfig returns the built-in configuration.
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "msgcore",
			SSLMode:         "disable",
			TimeZone:        "UTC",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Enabled: false,
			URL:     "redis://localhost:6379/0",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/msgcore.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "msgcore",
			},
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
				AllowedHeaders: []string{"*"},
			},
			RateLimiting: RateLimitingConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				Burst:             100,
			},
		},
		Gateway: GatewayConfig{
			BaseURL:            "http://localhost:3000",
			Timeout:            15 * time.Second,
			MaxRetries:         2,
			RetryDelay:         500 * time.Millisecond,
			DefaultCountryCode: "91",
		},
		Messaging: MessagingConfig{
			MaxMessagesBeforeHandoff: 10,
			MaxConversationAge:       24 * time.Hour,
			UrgentKeywords:           []string{"urgent", "emergency", "complaint", "problem", "issue"},
			HumanRequestPhrases:      []string{"human", "agent", "representative", "speak to someone"},
			HandoffMessage:           "I understand you need more personalized assistance. Let me connect you with one of our team members who will be with you shortly. Thank you for your patience!",
			AfterHoursMessage:        "Thank you for your message! We are currently outside of business hours. Our team will respond to you during our next business day. For urgent matters, please call our emergency line.",
			FallbackMessage:          "Thank you for your message! I'm here to help, but I want to make sure I understand your request correctly. Could you please rephrase or let me know if you need to speak with a team member?",
			BusinessHoursStart:       "09:00",
			BusinessHoursEnd:         "18:00",
			Location:                 "UTC",
		},
		Routing: DefaultRoutingConfig(),
		Campaign: CampaignConfig{
			RateLimitPerMinute: 30,
			BatchInterval:      time.Minute,
			SchedulerInterval:  time.Minute,
		},
	}
}

// DefaultRoutingConfig returns the stock agent scoring weights.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		DefaultCapacity: 5,
		RoleWeights: map[string]float64{
			"admin":     100,
			"manager":   90,
			"agent":     80,
			"sales":     70,
			"marketing": 60,
			"viewer":    0,
		},
		SatisfactionMaxBonus: 20,
		ResponseTimeMaxBonus: 20,
		ResponseTimeDivisor:  5,
		WorkloadMaxBonus:     20,
		WorkloadPenalty:      4,
		UrgentPriorityBonus:  30,
		HighPriorityBonus:    20,
		SpecializationBonus:  25,
		UrgentRoles:          []string{"admin", "manager"},
		HighRoles:            []string{"admin", "manager", "agent"},
		LockTTL:              10 * time.Second,
		QueueInterval:        30 * time.Second,
	}
}
