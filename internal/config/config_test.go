package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("pitwall-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Store.Driver != DriverDuckDB {
		t.Fatalf("Store.Driver = %q", cfg.Store.Driver)
	}
	if cfg.Store.MaxOpenConns != 8 {
		t.Fatalf("Store.MaxOpenConns = %d", cfg.Store.MaxOpenConns)
	}
	if cfg.AI.Provider != ProviderOpenAI {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.SynthesisTemperature != 0 {
		t.Fatalf("AI.SynthesisTemperature = %f", cfg.AI.SynthesisTemperature)
	}
	if cfg.AI.MaxRetries != 2 {
		t.Fatalf("AI.MaxRetries = %d", cfg.AI.MaxRetries)
	}
	if cfg.Pipeline.MaxRows != 200 {
		t.Fatalf("Pipeline.MaxRows = %d", cfg.Pipeline.MaxRows)
	}
	if cfg.Pipeline.ExecutionTimeout != 10*time.Second {
		t.Fatalf("Pipeline.ExecutionTimeout = %s", cfg.Pipeline.ExecutionTimeout)
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled should default to false")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("pitwall-api", mapLookup(map[string]string{"PITWALL_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadTestProfileDisablesRetries(t *testing.T) {
	cfg, err := Load("pitwall-api", mapLookup(map[string]string{"PITWALL_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.MaxRetries != 0 {
		t.Fatalf("AI.MaxRetries = %d", cfg.AI.MaxRetries)
	}
	if cfg.HTTP.Address != ":18080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	cfg, err := Load("pitwall-api", mapLookup(map[string]string{
		"PITWALL_PROFILE":                      "test",
		"PITWALL_SERVICE_NAME":                 "pitwall-custom",
		"PITWALL_HTTP_ADDR":                    ":9999",
		"PITWALL_HTTP_READ_TIMEOUT":            "2s",
		"PITWALL_LOG_LEVEL":                    "error",
		"PITWALL_STORE_DRIVER":                 "SQLite3",
		"PITWALL_STORE_DSN":                    "file:f1.db?mode=ro",
		"PITWALL_STORE_MAX_OPEN_CONNS":         "4",
		"PITWALL_SCHEMA_PATH":                  "s3://schema/f1.yaml",
		"PITWALL_OBJECTSTORE_ENABLED":          "true",
		"PITWALL_OBJECTSTORE_BUCKET":           "f1-data",
		"PITWALL_AI_PROVIDER":                  "gemini",
		"PITWALL_AI_MODEL":                     "gemini-2.0-flash",
		"PITWALL_AI_API_KEY":                   "secret-key",
		"PITWALL_AI_SYNTHESIS_TEMPERATURE":     "0.1",
		"PITWALL_AI_NARRATION_TEMPERATURE":     "0.7",
		"PITWALL_AI_MAX_OUTPUT_TOKENS":         "512",
		"PITWALL_AI_TIMEOUT":                   "21s",
		"PITWALL_AI_MAX_RETRIES":               "4",
		"PITWALL_AI_RETRY_BASE_DELAY":          "250ms",
		"PITWALL_PIPELINE_MAX_ROWS":            "50",
		"PITWALL_PIPELINE_EXECUTION_TIMEOUT":   "3s",
		"PITWALL_PIPELINE_EXECUTION_RETRIES":   "0",
		"PITWALL_PIPELINE_NARRATION_MAX_BYTES": "4096",
		"PITWALL_PIPELINE_MAX_QUESTION_BYTES":  "500",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "pitwall-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Fatalf("Store.Driver = %q", cfg.Store.Driver)
	}
	if cfg.Store.DSN != "file:f1.db?mode=ro" {
		t.Fatalf("Store.DSN = %q", cfg.Store.DSN)
	}
	if cfg.Store.MaxOpenConns != 4 {
		t.Fatalf("Store.MaxOpenConns = %d", cfg.Store.MaxOpenConns)
	}
	if cfg.Schema.Path != "s3://schema/f1.yaml" {
		t.Fatalf("Schema.Path = %q", cfg.Schema.Path)
	}
	if !cfg.ObjectStore.Enabled || cfg.ObjectStore.Bucket != "f1-data" {
		t.Fatalf("ObjectStore = %#v", cfg.ObjectStore)
	}
	if cfg.AI.Provider != ProviderGemini {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.Model != "gemini-2.0-flash" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.SynthesisTemperature != 0.1 {
		t.Fatalf("AI.SynthesisTemperature = %f", cfg.AI.SynthesisTemperature)
	}
	if cfg.AI.NarrationTemperature != 0.7 {
		t.Fatalf("AI.NarrationTemperature = %f", cfg.AI.NarrationTemperature)
	}
	if cfg.AI.MaxOutputTokens != 512 {
		t.Fatalf("AI.MaxOutputTokens = %d", cfg.AI.MaxOutputTokens)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxRetries != 4 {
		t.Fatalf("AI.MaxRetries = %d", cfg.AI.MaxRetries)
	}
	if cfg.AI.RetryBaseDelay != 250*time.Millisecond {
		t.Fatalf("AI.RetryBaseDelay = %s", cfg.AI.RetryBaseDelay)
	}
	if cfg.Pipeline.MaxRows != 50 {
		t.Fatalf("Pipeline.MaxRows = %d", cfg.Pipeline.MaxRows)
	}
	if cfg.Pipeline.ExecutionTimeout != 3*time.Second {
		t.Fatalf("Pipeline.ExecutionTimeout = %s", cfg.Pipeline.ExecutionTimeout)
	}
	if cfg.Pipeline.ExecutionRetries != 0 {
		t.Fatalf("Pipeline.ExecutionRetries = %d", cfg.Pipeline.ExecutionRetries)
	}
	if cfg.Pipeline.NarrationMaxBytes != 4096 {
		t.Fatalf("Pipeline.NarrationMaxBytes = %d", cfg.Pipeline.NarrationMaxBytes)
	}
	if cfg.Pipeline.MaxQuestionBytes != 500 {
		t.Fatalf("Pipeline.MaxQuestionBytes = %d", cfg.Pipeline.MaxQuestionBytes)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"PITWALL_PROFILE": "oops"},
		{"PITWALL_HTTP_READ_TIMEOUT": "NaN"},
		{"PITWALL_STORE_MAX_OPEN_CONNS": "oops"},
		{"PITWALL_STORE_DRIVER": "oracle"},
		{"PITWALL_AI_PROVIDER": "parrot"},
		{"PITWALL_AI_SYNTHESIS_TEMPERATURE": "bad"},
		{"PITWALL_AI_NARRATION_TEMPERATURE": "3.5"},
		{"PITWALL_AI_MAX_OUTPUT_TOKENS": "0"},
		{"PITWALL_AI_MAX_RETRIES": "-1"},
		{"PITWALL_PIPELINE_MAX_ROWS": "0"},
		{"PITWALL_PIPELINE_EXECUTION_TIMEOUT": "0s"},
		{"PITWALL_PIPELINE_REQUEST_TIMEOUT": "0s"},
		{"PITWALL_HTTP_WRITE_TIMEOUT": "30s"},
		{"PITWALL_PIPELINE_REQUEST_TIMEOUT": "2m", "PITWALL_HTTP_WRITE_TIMEOUT": "2m"},
		{"PITWALL_OBJECTSTORE_USE_SSL": "not-bool"},
		{"PITWALL_LOG_LEVEL": "verbose"},
		{"PITWALL_LAKE_ENABLED": "true"},
		{"PITWALL_LAKE_ENABLED": "true", "PITWALL_OBJECTSTORE_ENABLED": "true", "PITWALL_STORE_DRIVER": "pgx"},
	}
	for _, env := range tests {
		_, err := Load("pitwall-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadRequestTimeoutFitsWriteTimeout(t *testing.T) {
	cfg, err := Load("pitwall-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.RequestTimeout != 80*time.Second || cfg.HTTP.WriteTimeout != 90*time.Second {
		t.Fatalf("request timeout = %s, write timeout = %s", cfg.Pipeline.RequestTimeout, cfg.HTTP.WriteTimeout)
	}

	cfg, err = Load("pitwall-api", mapLookup(map[string]string{
		"PITWALL_HTTP_WRITE_TIMEOUT":       "5m",
		"PITWALL_PIPELINE_REQUEST_TIMEOUT": "4m30s",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.RequestTimeout != 270*time.Second {
		t.Fatalf("request timeout = %s", cfg.Pipeline.RequestTimeout)
	}

	_, err = Load("pitwall-api", mapLookup(map[string]string{"PITWALL_HTTP_WRITE_TIMEOUT": "60s"}))
	if err == nil || !strings.Contains(err.Error(), "must be shorter than PITWALL_HTTP_WRITE_TIMEOUT") {
		t.Fatalf("Load() error = %v", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
