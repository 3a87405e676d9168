package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string
	LogLevel string
	AppKey   string
	AppDebug bool

	DatabaseURL string
	Postgres    DBConfig

	MQTTBrokerURL    string
	MQTTClientID     string
	MQTTCommandTopic string

	RedisAddr     string
	RedisPassword string

	SessionTTL      time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthCodeTTL     time.Duration

	OAuthClientsFile string
	JanitorSchedule  string
	TemplatesDir     string

	CORSAllowedOrigins []string
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "3000")
	v.SetDefault("log_level", "info")
	v.SetDefault("app_debug", false)
	v.SetDefault("postgres_user", "postgres")
	v.SetDefault("postgres_db", "iot_desk")
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", "5432")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("mqtt_client_id", "")
	v.SetDefault("mqtt_command_topic", "/esp32_iot_desk/{device_id}/command")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("session_ttl", "10m")
	v.SetDefault("access_token_ttl", "1h")
	v.SetDefault("refresh_token_ttl", "336h")
	v.SetDefault("auth_code_ttl", "5m")
	v.SetDefault("janitor_schedule", "@hourly")
}

// Load reads configuration from the environment, an optional .env file in the
// working directory and an optional YAML file at path. Environment wins.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	setDefaults(v)
	v.AutomaticEnv()
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Port:        strings.TrimSpace(v.GetString("port")),
		LogLevel:    v.GetString("log_level"),
		AppKey:      v.GetString("app_key"),
		AppDebug:    v.GetBool("app_debug"),
		DatabaseURL: strings.TrimSpace(v.GetString("database_url")),
		Postgres: DBConfig{
			User:     strings.TrimSpace(v.GetString("postgres_user")),
			Password: v.GetString("postgres_password"),
			DBName:   strings.TrimSpace(v.GetString("postgres_db")),
			Host:     strings.TrimSpace(v.GetString("postgres_host")),
			Port:     strings.TrimSpace(v.GetString("postgres_port")),
			SSLMode:  v.GetString("postgres_sslmode"),
		},
		MQTTBrokerURL:    strings.TrimSpace(v.GetString("mqtt_broker_url")),
		MQTTClientID:     strings.TrimSpace(v.GetString("mqtt_client_id")),
		MQTTCommandTopic: v.GetString("mqtt_command_topic"),
		RedisAddr:        v.GetString("redis_addr"),
		RedisPassword:    v.GetString("redis_password"),
		SessionTTL:       v.GetDuration("session_ttl"),
		AccessTokenTTL:   v.GetDuration("access_token_ttl"),
		RefreshTokenTTL:  v.GetDuration("refresh_token_ttl"),
		AuthCodeTTL:      v.GetDuration("auth_code_ttl"),
		OAuthClientsFile: strings.TrimSpace(v.GetString("oauth_clients_file")),
		JanitorSchedule:  v.GetString("janitor_schedule"),
		TemplatesDir:     strings.TrimSpace(v.GetString("templates_dir")),

		CORSAllowedOrigins: splitList(v.GetString("cors_allowed_origins")),
	}
	// CloudMQTT add-ons only expose CLOUDMQTT_URL.
	if cfg.MQTTBrokerURL == "" {
		cfg.MQTTBrokerURL = strings.TrimSpace(v.GetString("cloudmqtt_url"))
	}

	slog.Info("iot-desk config loaded", "port", cfg.Port, "mqtt", redactURL(cfg.MQTTBrokerURL), "redis", cfg.RedisAddr)
	return cfg, nil
}

// Validate reports the first required setting that is missing for serve.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppKey) == "" {
		return errors.New("missing required env APP_KEY")
	}
	if len(c.AppKey) < 16 {
		return errors.New("APP_KEY must be at least 16 characters")
	}
	if c.MQTTBrokerURL == "" {
		return errors.New("missing required env MQTT_BROKER_URL")
	}
	if c.DatabaseURL == "" && c.Postgres.Host == "" {
		return errors.New("missing required env DATABASE_URL or POSTGRES_HOST")
	}
	return nil
}

// DSN returns DATABASE_URL when set and otherwise assembles one from the
// POSTGRES_* parts.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	sslMode := c.Postgres.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Postgres.Host, c.Postgres.User, c.Postgres.Password, c.Postgres.DBName, c.Postgres.Port, sslMode)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
