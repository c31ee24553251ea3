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
	DriverDuckDB   = "duckdb"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	Schema        SchemaConfig
	ObjectStore   ObjectStoreConfig
	Lake          LakeConfig
	AI            AIConfig
	Pipeline      PipelineConfig
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

type StoreConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// SchemaConfig.Path is a local file or an s3://<key> reference into the object store.
// Empty selects the built-in F1 descriptor.
type SchemaConfig struct {
	Path string
}

type ObjectStoreConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

type LakeConfig struct {
	Enabled bool
	WorkDir string
}

type AIConfig struct {
	Provider             string
	BaseURL              string
	APIKey               string
	Model                string
	SynthesisTemperature float64
	NarrationTemperature float64
	ChartTemperature     float64
	MaxOutputTokens      int
	Timeout              time.Duration
	MaxRetries           int
	RetryBaseDelay       time.Duration
}

type PipelineConfig struct {
	MaxRows           int
	ExecutionTimeout  time.Duration
	ExecutionRetries  int
	NarrationMaxBytes int
	MaxQuestionBytes  int
	// RequestTimeout bounds one chat or visualize request end to end.
	RequestTimeout time.Duration
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
	if raw, ok := lookup("PITWALL_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid PITWALL_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "PITWALL_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "PITWALL_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "PITWALL_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "PITWALL_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "PITWALL_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyLower(lookup, "PITWALL_STORE_DRIVER", &cfg.Store.Driver) },
		func() error { return applyString(lookup, "PITWALL_STORE_DSN", &cfg.Store.DSN) },
		func() error { return applyInt(lookup, "PITWALL_STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns) },
		func() error { return applyInt(lookup, "PITWALL_STORE_MAX_IDLE_CONNS", &cfg.Store.MaxIdleConns) },
		func() error { return applyDuration(lookup, "PITWALL_STORE_CONN_MAX_IDLE_TIME", &cfg.Store.ConnMaxIdleTime) },
		func() error { return applyDuration(lookup, "PITWALL_STORE_CONN_MAX_LIFETIME", &cfg.Store.ConnMaxLifetime) },
		func() error { return applyString(lookup, "PITWALL_SCHEMA_PATH", &cfg.Schema.Path) },
		func() error { return applyBool(lookup, "PITWALL_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, "PITWALL_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "PITWALL_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "PITWALL_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "PITWALL_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "PITWALL_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "PITWALL_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "PITWALL_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error { return applyBool(lookup, "PITWALL_LAKE_ENABLED", &cfg.Lake.Enabled) },
		func() error { return applyString(lookup, "PITWALL_LAKE_WORK_DIR", &cfg.Lake.WorkDir) },
		func() error { return applyLower(lookup, "PITWALL_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "PITWALL_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "PITWALL_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "PITWALL_AI_MODEL", &cfg.AI.Model) },
		func() error {
			return applyFloat(lookup, "PITWALL_AI_SYNTHESIS_TEMPERATURE", &cfg.AI.SynthesisTemperature)
		},
		func() error {
			return applyFloat(lookup, "PITWALL_AI_NARRATION_TEMPERATURE", &cfg.AI.NarrationTemperature)
		},
		func() error { return applyFloat(lookup, "PITWALL_AI_CHART_TEMPERATURE", &cfg.AI.ChartTemperature) },
		func() error { return applyInt(lookup, "PITWALL_AI_MAX_OUTPUT_TOKENS", &cfg.AI.MaxOutputTokens) },
		func() error { return applyDuration(lookup, "PITWALL_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "PITWALL_AI_MAX_RETRIES", &cfg.AI.MaxRetries) },
		func() error { return applyDuration(lookup, "PITWALL_AI_RETRY_BASE_DELAY", &cfg.AI.RetryBaseDelay) },
		func() error { return applyInt(lookup, "PITWALL_PIPELINE_MAX_ROWS", &cfg.Pipeline.MaxRows) },
		func() error {
			return applyDuration(lookup, "PITWALL_PIPELINE_EXECUTION_TIMEOUT", &cfg.Pipeline.ExecutionTimeout)
		},
		func() error {
			return applyInt(lookup, "PITWALL_PIPELINE_EXECUTION_RETRIES", &cfg.Pipeline.ExecutionRetries)
		},
		func() error {
			return applyDuration(lookup, "PITWALL_PIPELINE_REQUEST_TIMEOUT", &cfg.Pipeline.RequestTimeout)
		},
		func() error {
			return applyInt(lookup, "PITWALL_PIPELINE_NARRATION_MAX_BYTES", &cfg.Pipeline.NarrationMaxBytes)
		},
		func() error {
			return applyInt(lookup, "PITWALL_PIPELINE_MAX_QUESTION_BYTES", &cfg.Pipeline.MaxQuestionBytes)
		},
		func() error { return applyBool(lookup, "PITWALL_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "PITWALL_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.Store.Driver {
	case DriverDuckDB, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("invalid PITWALL_STORE_DRIVER: %q", c.Store.Driver)
	}
	if c.Lake.Enabled && c.Store.Driver != DriverDuckDB {
		return fmt.Errorf("lake mode requires the %s store driver", DriverDuckDB)
	}
	if c.Lake.Enabled && !c.ObjectStore.Enabled {
		return fmt.Errorf("lake mode requires PITWALL_OBJECTSTORE_ENABLED")
	}
	switch c.AI.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("invalid PITWALL_AI_PROVIDER: %q", c.AI.Provider)
	}
	for key, value := range map[string]float64{
		"PITWALL_AI_SYNTHESIS_TEMPERATURE": c.AI.SynthesisTemperature,
		"PITWALL_AI_NARRATION_TEMPERATURE": c.AI.NarrationTemperature,
		"PITWALL_AI_CHART_TEMPERATURE":     c.AI.ChartTemperature,
	} {
		if value < 0 || value > 2 {
			return fmt.Errorf("invalid %s: %v is outside [0, 2]", key, value)
		}
	}
	if c.AI.MaxOutputTokens <= 0 {
		return fmt.Errorf("PITWALL_AI_MAX_OUTPUT_TOKENS must be positive")
	}
	if c.AI.MaxRetries < 0 {
		return fmt.Errorf("PITWALL_AI_MAX_RETRIES must not be negative")
	}
	if c.Pipeline.MaxRows <= 0 {
		return fmt.Errorf("PITWALL_PIPELINE_MAX_ROWS must be positive")
	}
	if c.Pipeline.ExecutionTimeout <= 0 {
		return fmt.Errorf("PITWALL_PIPELINE_EXECUTION_TIMEOUT must be positive")
	}
	if c.Pipeline.ExecutionRetries < 0 {
		return fmt.Errorf("PITWALL_PIPELINE_EXECUTION_RETRIES must not be negative")
	}
	if c.Pipeline.RequestTimeout <= 0 {
		return fmt.Errorf("PITWALL_PIPELINE_REQUEST_TIMEOUT must be positive")
	}
	if c.HTTP.WriteTimeout > 0 && c.Pipeline.RequestTimeout >= c.HTTP.WriteTimeout {
		return fmt.Errorf("PITWALL_PIPELINE_REQUEST_TIMEOUT (%s) must be shorter than PITWALL_HTTP_WRITE_TIMEOUT (%s)",
			c.Pipeline.RequestTimeout, c.HTTP.WriteTimeout)
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "pitwall-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Driver:          DriverDuckDB,
			DSN:             "f1.duckdb?access_mode=read_only",
			MaxOpenConns:    8,
			MaxIdleConns:    8,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:         false,
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			Bucket:          "pitwall",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
			Prefix:          "",
		},
		AI: AIConfig{
			Provider:             ProviderOpenAI,
			BaseURL:              "https://api.openai.com",
			Model:                "gpt-4o-mini",
			SynthesisTemperature: 0,
			NarrationTemperature: 0.3,
			ChartTemperature:     0,
			MaxOutputTokens:      1024,
			Timeout:              30 * time.Second,
			MaxRetries:           2,
			RetryBaseDelay:       500 * time.Millisecond,
		},
		Pipeline: PipelineConfig{
			MaxRows:           200,
			ExecutionTimeout:  10 * time.Second,
			ExecutionRetries:  1,
			NarrationMaxBytes: 16 * 1024,
			MaxQuestionBytes:  2000,
			RequestTimeout:    80 * time.Second,
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
		cfg.AI.MaxRetries = 0
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
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

func applyLower(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.ToLower(strings.TrimSpace(raw))
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
