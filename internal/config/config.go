package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Backend   BackendConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	URL string
}

// BackendConfig points at the generation backend: one endpoint per
// (mode, operation) plus the Modal proxy credentials.
type BackendConfig struct {
	GenerateFromDescriptionURL     string
	GenerateWithLyricsURL          string
	GenerateFromDescribedLyricsURL string
	ExtendURL                      string
	SplitStemsURL                  string
	ModalKey                       string
	ModalSecret                    string
	TimeoutSeconds                 int
}

type RateLimitConfig struct {
	GeneratePerHour int
	ExtendPerHour   int
	StemsPerHour    int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("POSTGRES_URL")
	readSecret("MODAL_KEY")
	readSecret("MODAL_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("postgres.url", "POSTGRES_URL")
	_ = viper.BindEnv("backend.generate_from_description", "GENERATE_FROM_DESCRIPTION")
	_ = viper.BindEnv("backend.generate_with_lyrics", "GENERATE_WITH_LYRICS")
	_ = viper.BindEnv("backend.generate_from_described_lyrics", "GENERATE_FROM_DESCRIBED_LYRICS")
	_ = viper.BindEnv("backend.extend", "EXTEND_AUDIO")
	_ = viper.BindEnv("backend.split_stems", "SPLIT_STEMS")
	_ = viper.BindEnv("backend.modal_key", "MODAL_KEY")
	_ = viper.BindEnv("backend.modal_secret", "MODAL_SECRET")
	_ = viper.BindEnv("backend.timeout", "BACKEND_TIMEOUT")
	_ = viper.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = viper.BindEnv("ratelimit.extend_per_hour", "RATELIMIT_EXTEND_PER_HOUR")
	_ = viper.BindEnv("ratelimit.stems_per_hour", "RATELIMIT_STEMS_PER_HOUR")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("postgres.url", "postgres://localhost:5432/songlab?sslmode=disable")

	// Backend defaults: the long pole is generation itself, so the
	// timeout sits well above typical render latency.
	viper.SetDefault("backend.timeout", 600)

	viper.SetDefault("ratelimit.generate_per_hour", 10)
	viper.SetDefault("ratelimit.extend_per_hour", 10)
	viper.SetDefault("ratelimit.stems_per_hour", 5)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			URL: viper.GetString("postgres.url"),
		},
		Backend: BackendConfig{
			GenerateFromDescriptionURL:     viper.GetString("backend.generate_from_description"),
			GenerateWithLyricsURL:          viper.GetString("backend.generate_with_lyrics"),
			GenerateFromDescribedLyricsURL: viper.GetString("backend.generate_from_described_lyrics"),
			ExtendURL:                      viper.GetString("backend.extend"),
			SplitStemsURL:                  viper.GetString("backend.split_stems"),
			ModalKey:                       viper.GetString("backend.modal_key"),
			ModalSecret:                    viper.GetString("backend.modal_secret"),
			TimeoutSeconds:                 viper.GetInt("backend.timeout"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
			ExtendPerHour:   viper.GetInt("ratelimit.extend_per_hour"),
			StemsPerHour:    viper.GetInt("ratelimit.stems_per_hour"),
		},
	}

	return cfg, nil
}
