// Package config provides configuration for the recall engine. Settings
// come from an optional YAML file and environment variables with the
// RECALL_ prefix; the environment wins. A .env file in the working
// directory is loaded first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all settings for the recall engine.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Summary   SummaryConfig   `yaml:"summary"`
	Session   SessionConfig   `yaml:"session"`
	Assembler AssemblerConfig `yaml:"assembler"`
	Backup    BackupConfig    `yaml:"backup"`
}

// StorageConfig selects and configures the storage collaborator.
type StorageConfig struct {
	Engine          string `yaml:"engine"`           // memory, chromem, postgres (default: memory)
	DataPath        string `yaml:"data_path"`        // data directory (default: ./data)
	PostgresDSN     string `yaml:"postgres_dsn"`     // required when engine is postgres
	VectorDimension int    `yaml:"vector_dimension"` // embedding dimension (default: 768)
	SessionDBPath   string `yaml:"session_db_path"`  // SQLite file for session contexts; empty keeps them in memory
}

// LLMConfig configures the completion collaborator.
type LLMConfig struct {
	Provider          string `yaml:"provider"` // anthropic, ollama, or empty for none
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	AnthropicModel    string `yaml:"anthropic_model"`
	OllamaURL         string `yaml:"ollama_url"`
	OllamaModel       string `yaml:"ollama_model"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

// RetrievalConfig holds the scoring weights and limits.
type RetrievalConfig struct {
	SemanticWeight    float64 `yaml:"semantic_weight"`   // default: 0.5
	ImportanceWeight  float64 `yaml:"importance_weight"` // default: 0.3
	RecencyWeight     float64 `yaml:"recency_weight"`    // default: 0.2
	Limit             int     `yaml:"limit"`             // default: 10
	MinScore          float64 `yaml:"min_score"`
	MinImportance     float64 `yaml:"min_importance"`
	BoostByImportance bool    `yaml:"boost_by_importance"` // default: true
	BoostByRecency    bool    `yaml:"boost_by_recency"`    // default: true
}

// ChunkerConfig holds conversation chunking thresholds.
type ChunkerConfig struct {
	MaxTurnsPerChunk     int     `yaml:"max_turns_per_chunk"`    // default: 8
	MinTurnsPerChunk     int     `yaml:"min_turns_per_chunk"`    // default: 2
	TopicChangeThreshold float64 `yaml:"topic_change_threshold"` // default: 0.3
	MergeThreshold       float64 `yaml:"merge_threshold"`        // default: 0.5
	BaseImportance       float64 `yaml:"base_importance"`        // default: 0.3
}

// SummaryConfig holds summarization strategy and tier thresholds.
type SummaryConfig struct {
	Strategy              string  `yaml:"strategy"`                // extractive, abstractive, hybrid (default: extractive)
	TargetLength          int     `yaml:"target_length"`           // default: 500
	FullDetailThreshold   float64 `yaml:"full_detail_threshold"`   // default: 0.8
	LightSummaryThreshold float64 `yaml:"light_summary_threshold"` // default: 0.5
	EnableLLM             bool    `yaml:"enable_llm"`
}

// SessionConfig holds session context lifecycle settings.
type SessionConfig struct {
	DecayRatePerDay        float64       `yaml:"decay_rate_per_day"`        // default: 0.1
	MinRelevanceThreshold  float64       `yaml:"min_relevance_threshold"`   // default: 0.2
	MaxContextAgeDays      float64       `yaml:"max_context_age_days"`      // default: 90
	TopicOverlapThreshold  float64       `yaml:"topic_overlap_threshold"`   // default: 0.3
	MaxRelatedSessions     int           `yaml:"max_related_sessions"`      // default: 5
	WelcomeSummaryMaxItems int           `yaml:"welcome_summary_max_items"` // default: 3
	AutoSaveInterval       time.Duration `yaml:"auto_save_interval"`        // default: 30s
	DecayInterval          time.Duration `yaml:"decay_interval"`            // default: 1h
}

// AssemblerConfig holds context assembly limits.
type AssemblerConfig struct {
	MaxLength           int      `yaml:"max_length"`            // default: 4000
	MaxDocuments        int      `yaml:"max_documents"`         // default: 10
	Format              string   `yaml:"format"`                // plain, structured, markdown (default: plain)
	IncludeMetadata     bool     `yaml:"include_metadata"`      // render source type and score per entry
	PrioritySourceTypes []string `yaml:"priority_source_types"` // empty keeps the built-in ordering
}

// BackupConfig holds export scheduling and the import drop directory.
type BackupConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ExportDir        string `yaml:"export_dir"`        // default: ./backups
	Interval         string `yaml:"interval"`          // default: 24h
	Compress         bool   `yaml:"compress"`          // default: true
	WatchDir         string `yaml:"watch_dir"`         // drop directory for incoming backups
	RetentionHourly  int    `yaml:"retention_hourly"`  // default: 24
	RetentionDaily   int    `yaml:"retention_daily"`   // default: 7
	RetentionWeekly  int    `yaml:"retention_weekly"`  // default: 4
	RetentionMonthly int    `yaml:"retention_monthly"` // default: 12
}

// LoadConfig loads configuration from the environment with defaults. A
// .env file in the working directory is applied first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromFile reads a YAML config file then applies environment
// overrides on top.
func LoadConfigFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := buildBaseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "memory", "chromem", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires RECALL_POSTGRES_DSN")
	}
	switch c.LLM.Provider {
	case "", "anthropic", "ollama":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "anthropic" && c.LLM.AnthropicAPIKey == "" {
		return fmt.Errorf("config: anthropic provider requires RECALL_ANTHROPIC_API_KEY")
	}
	total := c.Retrieval.SemanticWeight + c.Retrieval.ImportanceWeight + c.Retrieval.RecencyWeight
	if total <= 0 {
		return fmt.Errorf("config: retrieval weights must sum to a positive value, got %v", total)
	}
	if _, err := time.ParseDuration(c.Backup.Interval); err != nil {
		return fmt.Errorf("config: invalid backup interval %q: %w", c.Backup.Interval, err)
	}
	return nil
}

// buildBaseConfig constructs a Config from environment variables and
// defaults. Shared base for LoadConfig and LoadConfigFromFile.
func buildBaseConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:          getEnv("RECALL_STORAGE_ENGINE", "memory"),
			DataPath:        getEnv("RECALL_DATA_PATH", "./data"),
			PostgresDSN:     getEnv("RECALL_POSTGRES_DSN", ""),
			VectorDimension: getEnvInt("RECALL_VECTOR_DIMENSION", 768),
			SessionDBPath:   getEnv("RECALL_SESSION_DB_PATH", ""),
		},
		LLM: LLMConfig{
			Provider:          getEnv("RECALL_LLM_PROVIDER", ""),
			AnthropicAPIKey:   getEnv("RECALL_ANTHROPIC_API_KEY", ""),
			AnthropicModel:    getEnv("RECALL_ANTHROPIC_MODEL", ""),
			OllamaURL:         getEnv("RECALL_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:       getEnv("RECALL_OLLAMA_MODEL", "phi3:mini"),
			RequestsPerMinute: getEnvInt("RECALL_LLM_REQUESTS_PER_MINUTE", 0),
			TimeoutSeconds:    getEnvInt("RECALL_LLM_TIMEOUT_SECONDS", 30),
		},
		Retrieval: RetrievalConfig{
			SemanticWeight:    getEnvFloat("RECALL_SEMANTIC_WEIGHT", 0.5),
			ImportanceWeight:  getEnvFloat("RECALL_IMPORTANCE_WEIGHT", 0.3),
			RecencyWeight:     getEnvFloat("RECALL_RECENCY_WEIGHT", 0.2),
			Limit:             getEnvInt("RECALL_RETRIEVAL_LIMIT", 10),
			MinScore:          getEnvFloat("RECALL_MIN_SCORE", 0),
			MinImportance:     getEnvFloat("RECALL_RETRIEVAL_MIN_IMPORTANCE", 0),
			BoostByImportance: getEnvBool("RECALL_BOOST_BY_IMPORTANCE", true),
			BoostByRecency:    getEnvBool("RECALL_BOOST_BY_RECENCY", true),
		},
		Chunker: ChunkerConfig{
			MaxTurnsPerChunk:     getEnvInt("RECALL_MAX_TURNS_PER_CHUNK", 8),
			MinTurnsPerChunk:     getEnvInt("RECALL_MIN_TURNS_PER_CHUNK", 2),
			TopicChangeThreshold: getEnvFloat("RECALL_TOPIC_CHANGE_THRESHOLD", 0.3),
			MergeThreshold:       getEnvFloat("RECALL_MERGE_THRESHOLD", 0.5),
			BaseImportance:       getEnvFloat("RECALL_BASE_IMPORTANCE", 0.3),
		},
		Summary: SummaryConfig{
			Strategy:              getEnv("RECALL_SUMMARY_STRATEGY", "extractive"),
			TargetLength:          getEnvInt("RECALL_SUMMARY_TARGET_LENGTH", 500),
			FullDetailThreshold:   getEnvFloat("RECALL_FULL_DETAIL_THRESHOLD", 0.8),
			LightSummaryThreshold: getEnvFloat("RECALL_LIGHT_SUMMARY_THRESHOLD", 0.5),
			EnableLLM:             getEnvBool("RECALL_SUMMARY_ENABLE_LLM", false),
		},
		Session: SessionConfig{
			DecayRatePerDay:        getEnvFloat("RECALL_DECAY_RATE_PER_DAY", 0.1),
			MinRelevanceThreshold:  getEnvFloat("RECALL_MIN_RELEVANCE_THRESHOLD", 0.2),
			MaxContextAgeDays:      getEnvFloat("RECALL_MAX_CONTEXT_AGE_DAYS", 90),
			TopicOverlapThreshold:  getEnvFloat("RECALL_TOPIC_OVERLAP_THRESHOLD", 0.3),
			MaxRelatedSessions:     getEnvInt("RECALL_MAX_RELATED_SESSIONS", 5),
			WelcomeSummaryMaxItems: getEnvInt("RECALL_WELCOME_SUMMARY_MAX_ITEMS", 3),
			AutoSaveInterval:       getEnvDuration("RECALL_AUTO_SAVE_INTERVAL", 30*time.Second),
			DecayInterval:          getEnvDuration("RECALL_DECAY_INTERVAL", time.Hour),
		},
		Assembler: AssemblerConfig{
			MaxLength:           getEnvInt("RECALL_ASSEMBLER_MAX_LENGTH", 4000),
			MaxDocuments:        getEnvInt("RECALL_ASSEMBLER_MAX_DOCUMENTS", 10),
			Format:              getEnv("RECALL_ASSEMBLER_FORMAT", "plain"),
			IncludeMetadata:     getEnvBool("RECALL_ASSEMBLER_INCLUDE_METADATA", false),
			PrioritySourceTypes: getEnvList("RECALL_ASSEMBLER_PRIORITY_SOURCE_TYPES", nil),
		},
		Backup: BackupConfig{
			Enabled:          getEnvBool("RECALL_BACKUP_ENABLED", false),
			ExportDir:        getEnv("RECALL_BACKUP_DIR", "./backups"),
			Interval:         getEnv("RECALL_BACKUP_INTERVAL", "24h"),
			Compress:         getEnvBool("RECALL_BACKUP_COMPRESS", true),
			WatchDir:         getEnv("RECALL_BACKUP_WATCH_DIR", ""),
			RetentionHourly:  getEnvInt("RECALL_BACKUP_RETENTION_HOURLY", 24),
			RetentionDaily:   getEnvInt("RECALL_BACKUP_RETENTION_DAILY", 7),
			RetentionWeekly:  getEnvInt("RECALL_BACKUP_RETENTION_WEEKLY", 4),
			RetentionMonthly: getEnvInt("RECALL_BACKUP_RETENTION_MONTHLY", 12),
		},
	}
}

// applyEnvOverrides re-applies explicitly-set environment variables on
// top of a file-loaded config so the environment always wins.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString(&cfg.Storage.Engine, "RECALL_STORAGE_ENGINE")
	setString(&cfg.Storage.DataPath, "RECALL_DATA_PATH")
	setString(&cfg.Storage.PostgresDSN, "RECALL_POSTGRES_DSN")
	setInt(&cfg.Storage.VectorDimension, "RECALL_VECTOR_DIMENSION")
	setString(&cfg.Storage.SessionDBPath, "RECALL_SESSION_DB_PATH")
	setString(&cfg.LLM.Provider, "RECALL_LLM_PROVIDER")
	setString(&cfg.LLM.AnthropicAPIKey, "RECALL_ANTHROPIC_API_KEY")
	setString(&cfg.LLM.AnthropicModel, "RECALL_ANTHROPIC_MODEL")
	setString(&cfg.LLM.OllamaURL, "RECALL_OLLAMA_URL")
	setString(&cfg.LLM.OllamaModel, "RECALL_OLLAMA_MODEL")
}

// getEnv retrieves a string environment variable or returns a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a
// default. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a
// default. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a
// default. It recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated environment variable as a slice
// or returns a default. Blank elements are dropped.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvDuration retrieves a duration environment variable or returns a
// default. Unparseable values fall back to the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
