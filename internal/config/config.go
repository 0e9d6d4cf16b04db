package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot backends.
const (
	SnapshotNone      = "none"
	SnapshotBlob      = "blob"
	SnapshotSurrealDB = "surrealdb"
	SnapshotPostgres  = "postgres"
	SnapshotSQLite    = "sqlite"
)

// LLM providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogleAI  = "googleai"
	ProviderBedrock   = "bedrock"
)

// Stage executors.
const (
	ExecutorLLM      = "llm"
	ExecutorScripted = "scripted"
)

// Blob backends.
const (
	BlobFS = "fs"
	BlobS3 = "s3"
)

// Config holds all configuration values.
type Config struct {
	// HTTP
	ListenAddr string `yaml:"listen_addr"`
	PublicURL  string `yaml:"public_url"`
	APIPrefix  string `yaml:"api_prefix"`

	// Pipeline pool
	Workers      int           `yaml:"workers"`
	Backlog      int           `yaml:"backlog"`
	InputTimeout time.Duration `yaml:"input_timeout"`

	// Reaper
	ReaperInterval time.Duration `yaml:"reaper_interval"`
	Retention      time.Duration `yaml:"retention"`

	// Stage executor
	Executor         string `yaml:"executor"`
	InstructionFile  string `yaml:"instruction_file"`
	MaxSteps         int    `yaml:"max_steps"`
	KeepPlaceholders bool   `yaml:"keep_placeholders"`

	// LLM
	LLMProvider string `yaml:"llm_provider"`
	LLMModel    string `yaml:"llm_model"`
	LLMBaseURL  string `yaml:"llm_base_url"`
	OllamaHost  string `yaml:"ollama_host"`
	AWSRegion   string `yaml:"aws_region"`

	// API keys come from the environment only.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GoogleAPIKey    string `yaml:"-"`

	// Snapshots and blobs
	Snapshot    []string `yaml:"snapshot"`
	Blob        string   `yaml:"blob"`
	BlobDir     string   `yaml:"blob_dir"`
	S3Bucket    string   `yaml:"s3_bucket"`
	S3Prefix    string   `yaml:"s3_prefix"`
	S3Endpoint  string   `yaml:"s3_endpoint"`
	PostgresDSN string   `yaml:"postgres_dsn"`
	SQLitePath  string   `yaml:"sqlite_path"`

	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr: ":8080",
		PublicURL:  "http://localhost:8080",

		Workers:      8,
		Backlog:      64,
		InputTimeout: 30 * time.Minute,

		ReaperInterval: 60 * time.Second,
		Retention:      10 * time.Minute,

		Executor: ExecutorLLM,
		MaxSteps: 25,

		LLMProvider: ProviderOllama,
		LLMModel:    "llama3.1",
		OllamaHost:  "http://localhost:11434",

		Snapshot:   []string{SnapshotNone},
		Blob:       BlobFS,
		BlobDir:    "./data/files",
		SQLitePath: "./data/agentd.db",

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "agentd",
		SurrealDBDatabase:  "pipelines",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		LogFile:  "/tmp/agentd.log",
		LogLevel: slog.LevelInfo,
	}
}

// Load reads configuration from the optional YAML file named by
// AGENTD_CONFIG and then from environment variables. Environment
// variables win over the file.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("AGENTD_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.overlayEnv()
	return cfg, nil
}

// fileConfig adds the fields whose YAML form differs from Config.
type fileConfig struct {
	Config   `yaml:",inline"`
	LogLevel string `yaml:"log_level"`
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := fileConfig{Config: *c}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.LogLevel != "" {
		fc.Config.LogLevel = parseLogLevel(fc.LogLevel)
	}

	*c = fc.Config
	return nil
}

func (c *Config) overlayEnv() {
	c.ListenAddr = getEnv("AGENTD_LISTEN_ADDR", c.ListenAddr)
	c.PublicURL = getEnv("AGENTD_PUBLIC_URL", c.PublicURL)
	c.APIPrefix = getEnv("AGENTD_API_PREFIX", c.APIPrefix)

	c.Workers = getEnvInt("AGENTD_WORKERS", c.Workers)
	c.Backlog = getEnvInt("AGENTD_BACKLOG", c.Backlog)
	c.InputTimeout = getEnvDuration("AGENTD_INPUT_TIMEOUT", c.InputTimeout)

	c.ReaperInterval = getEnvDuration("AGENTD_REAPER_INTERVAL", c.ReaperInterval)
	c.Retention = getEnvDuration("AGENTD_RETENTION", c.Retention)

	c.Executor = getEnv("AGENTD_EXECUTOR", c.Executor)
	c.InstructionFile = getEnv("AGENTD_INSTRUCTION_FILE", c.InstructionFile)
	c.MaxSteps = getEnvInt("AGENTD_MAX_STEPS", c.MaxSteps)
	c.KeepPlaceholders = getEnvBool("AGENTD_KEEP_PLACEHOLDERS", c.KeepPlaceholders)

	c.LLMProvider = getEnv("AGENTD_LLM_PROVIDER", c.LLMProvider)
	c.LLMModel = getEnv("AGENTD_LLM_MODEL", c.LLMModel)
	c.LLMBaseURL = getEnv("AGENTD_LLM_BASE_URL", c.LLMBaseURL)
	c.OllamaHost = getEnv("OLLAMA_HOST", c.OllamaHost)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.GoogleAPIKey = getEnv("GOOGLE_API_KEY", c.GoogleAPIKey)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)

	if v := os.Getenv("AGENTD_SNAPSHOT"); v != "" {
		c.Snapshot = splitList(v)
	}
	c.Blob = getEnv("AGENTD_BLOB", c.Blob)
	c.BlobDir = getEnv("AGENTD_BLOB_DIR", c.BlobDir)
	c.S3Bucket = getEnv("AGENTD_S3_BUCKET", c.S3Bucket)
	c.S3Prefix = getEnv("AGENTD_S3_PREFIX", c.S3Prefix)
	c.S3Endpoint = getEnv("AGENTD_S3_ENDPOINT", c.S3Endpoint)
	c.PostgresDSN = getEnv("AGENTD_POSTGRES_DSN", c.PostgresDSN)
	c.SQLitePath = getEnv("AGENTD_SQLITE_PATH", c.SQLitePath)

	c.SurrealDBURL = getEnv("SURREALDB_URL", c.SurrealDBURL)
	c.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", c.SurrealDBNamespace)
	c.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", c.SurrealDBDatabase)
	c.SurrealDBUser = getEnv("SURREALDB_USER", c.SurrealDBUser)
	c.SurrealDBPass = getEnv("SURREALDB_PASS", c.SurrealDBPass)
	c.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", c.SurrealDBAuthLevel)

	c.LogFile = getEnv("AGENTD_LOG_FILE", c.LogFile)
	if v := os.Getenv("AGENTD_LOG_LEVEL"); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
}

// HasSnapshot reports whether the named snapshot backend is enabled.
func (c Config) HasSnapshot(name string) bool {
	return slices.Contains(c.Snapshot, name)
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error

	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Backlog < 0 {
		errs = append(errs, fmt.Errorf("backlog must not be negative, got %d", c.Backlog))
	}
	if c.InputTimeout < 0 {
		errs = append(errs, errors.New("input timeout must not be negative"))
	}
	if c.ReaperInterval <= 0 {
		errs = append(errs, errors.New("reaper interval must be positive"))
	}
	if c.Retention < 0 {
		errs = append(errs, errors.New("retention must not be negative"))
	}

	switch c.Executor {
	case ExecutorLLM, ExecutorScripted:
	default:
		errs = append(errs, fmt.Errorf("unknown executor %q", c.Executor))
	}

	if c.Executor == ExecutorLLM {
		switch c.LLMProvider {
		case ProviderOllama, ProviderBedrock:
		case ProviderOpenAI:
			if c.OpenAIAPIKey == "" {
				errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
			}
		case ProviderAnthropic:
			if c.AnthropicAPIKey == "" {
				errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
			}
		case ProviderGoogleAI:
			if c.GoogleAPIKey == "" {
				errs = append(errs, errors.New("GOOGLE_API_KEY is required for the googleai provider"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown LLM provider %q", c.LLMProvider))
		}
	}

	switch c.Blob {
	case BlobFS:
	case BlobS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("AGENTD_S3_BUCKET is required for the s3 blob store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob store %q", c.Blob))
	}

	for _, s := range c.Snapshot {
		switch s {
		case SnapshotNone, SnapshotBlob, SnapshotSurrealDB, SnapshotSQLite:
		case SnapshotPostgres:
			if c.PostgresDSN == "" {
				errs = append(errs, errors.New("AGENTD_POSTGRES_DSN is required for the postgres snapshot"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown snapshot backend %q", s))
		}
	}
	if c.HasSnapshot(SnapshotNone) && len(c.Snapshot) > 1 {
		errs = append(errs, errors.New("snapshot backend none cannot be combined with others"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val)
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val)
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(strings.ToLower(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
