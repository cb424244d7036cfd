package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	DefaultAIEndpoint = "https://api.euron.one/api/v1/euri/chat/completions"
	DefaultAIModel    = "gpt-4.1-nano"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Prompt        PromptConfig
	AI            AIConfig
	Query         QueryConfig
	Export        ExportConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URI             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type PromptConfig struct {
	// TemplatePath is empty when the embedded default template is used.
	TemplatePath string
}

type AIConfig struct {
	Endpoint     string
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

type QueryConfig struct {
	RowLimit         int
	StatementTimeout time.Duration
}

type ExportConfig struct {
	Enabled bool
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("NLQUERY_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid NLQUERY_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []func() error{
		func() error { return applyString(lookup, "NLQUERY_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "NLQUERY_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "NLQUERY_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "NLQUERY_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "NLQUERY_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		// Unprefixed names kept for existing .env files.
		func() error { return applyString(lookup, "DATABASE_URI", &cfg.Database.URI) },
		func() error { return applyString(lookup, "NLQUERY_DATABASE_URI", &cfg.Database.URI) },
		func() error { return applyInt(lookup, "NLQUERY_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "NLQUERY_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "NLQUERY_DB_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "NLQUERY_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)
		},

		func() error { return applyString(lookup, "NLQUERY_PROMPT_TEMPLATE", &cfg.Prompt.TemplatePath) },

		func() error { return applyString(lookup, "NLQUERY_AI_ENDPOINT", &cfg.AI.Endpoint) },
		func() error { return applyString(lookup, "EURI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "NLQUERY_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "NLQUERY_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "NLQUERY_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyInt(lookup, "NLQUERY_AI_MAX_TOKENS", &cfg.AI.MaxTokens) },
		func() error { return applyDuration(lookup, "NLQUERY_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "NLQUERY_AI_MAX_ATTEMPTS", &cfg.AI.MaxAttempts) },
		func() error { return applyDuration(lookup, "NLQUERY_AI_RETRY_BACKOFF", &cfg.AI.RetryBackoff) },

		func() error { return applyInt(lookup, "NLQUERY_QUERY_ROW_LIMIT", &cfg.Query.RowLimit) },
		func() error {
			return applyDuration(lookup, "NLQUERY_QUERY_STATEMENT_TIMEOUT", &cfg.Query.StatementTimeout)
		},

		func() error { return applyBool(lookup, "NLQUERY_EXPORT_ENABLED", &cfg.Export.Enabled) },
		func() error { return applyString(lookup, "NLQUERY_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "NLQUERY_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "NLQUERY_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error {
			return applyString(lookup, "NLQUERY_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID)
		},
		func() error {
			return applyString(lookup, "NLQUERY_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "NLQUERY_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "NLQUERY_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "NLQUERY_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyBool(lookup, "NLQUERY_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "NLQUERY_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Query.RowLimit < 0 {
		return Config{}, fmt.Errorf("query row limit must be >= 0")
	}
	if cfg.AI.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("ai max attempts must be >= 1")
	}
	return cfg, nil
}

// Validate reports the values the question pipeline cannot start without.
func (c Config) Validate() error {
	if c.Database.URI == "" {
		return fmt.Errorf("database uri is required (NLQUERY_DATABASE_URI or DATABASE_URI)")
	}
	if c.AI.APIKey == "" {
		return fmt.Errorf("ai api key is required (NLQUERY_AI_API_KEY or EURI_API_KEY)")
	}
	if c.AI.Endpoint == "" {
		return fmt.Errorf("ai endpoint is required")
	}
	if c.Export.Enabled {
		if c.ObjectStore.Endpoint == "" {
			return fmt.Errorf("object store endpoint is required when export is enabled")
		}
		if c.ObjectStore.Bucket == "" {
			return fmt.Errorf("object store bucket is required when export is enabled")
		}
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "nlquery-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		AI: AIConfig{
			Endpoint:     DefaultAIEndpoint,
			Model:        DefaultAIModel,
			Temperature:  0.3,
			MaxTokens:    500,
			Timeout:      30 * time.Second,
			MaxAttempts:  1,
			RetryBackoff: 500 * time.Millisecond,
		},
		Query: QueryConfig{
			RowLimit:         1000,
			StatementTimeout: 15 * time.Second,
		},
		Export: ExportConfig{
			Enabled: false,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "nlquery",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
