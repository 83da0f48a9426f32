/*
Package core provides configuration management and logging initialization
for the agent.

This file handles:
- Loading configuration from an optional YAML file and environment variables
- Structured logging setup with configurable levels and formats
- Loop limits, memory budgets and long-term memory backend selection

Environment variables keep the unprefixed names operators already use
(LLM_PROVIDER, MAX_ITERATIONS, MEMORY_TYPE, ...). Every limit of the loop is
configurable; nothing about retries or budgets is hard-coded elsewhere.
*/
package core

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configurable values for the agent.
type Config struct {
	// Server configuration
	Port string // HTTP server port for serve mode (default: "8080")

	// LLM Provider configuration
	LLMProvider string // "ollama", "gemini" or "openai" (default: "ollama")

	OllamaEndpoint string // Base URL for the Ollama API (default: "http://localhost:11434")
	OllamaModel    string // Ollama model used for the loop (default: "qwen3")

	GeminiAPIKey string // API key for Google Gemini
	GeminiModel  string // Gemini model (default: "gemini-2.0-flash")

	OpenAIAPIKey  string // API key for OpenAI-compatible endpoints
	OpenAIModel   string // OpenAI model (default: "gpt-4o-mini")
	OpenAIBaseURL string // Optional base URL for OpenAI-compatible gateways

	SummarizerModel string // Model used for summaries; empty reuses the loop model
	EmbeddingModel  string // Model used for long-term memory embeddings

	// Loop limits
	MaxIterations   int           // Hard ceiling on THINKING cycles per run (default: 50)
	MaxRetries      int           // Consecutive rejected proposals tolerated (default: 3)
	MaxCritiques    int           // Consecutive critic rejections before the critic is skipped, 0 = no cap
	EnableCritic    bool          // Run the critic between parsing and confirmation
	PromptUser      bool          // Interactive confirmation gate before executors run (default: true)
	EnablePlanner   bool          // Ask for an action plan before the first iteration
	RejectRepeats   bool          // Reject actions identical to an earlier successful one (default: true)
	EndpointRetries int           // Attempts for transient completion failures (default: 4)
	EndpointBackoff time.Duration // Initial backoff between completion attempts (default: 500ms)
	RequestTimeout  time.Duration // Timeout for a single completion request (default: 300s)

	// Memory configuration
	MaxContextSize       int    // Window budget (default: 6000)
	ContextUnit          string // "chars" or "tokens" (default: "chars")
	MaxMemoryItemSize    int    // Observation length persisted into memory (default: 2000)
	CondenseObservations bool   // Summarize oversized observations before truncation
	SummarizerChunkSize  int    // Chunk size for chunked summarization (default: 3000)
	RecallLimit          int    // Long-term records included per prompt (default: 5)

	// Long-term memory backend
	MemoryType       string // "none", "memory", "pgvector", "chroma" or "pinecone" (default: "none")
	PostgresURL      string // Connection URL for pgvector
	ChromaURL        string // URL of the Chroma server
	PineconeAPIKey   string // Pinecone API key
	PineconeHost     string // Pinecone index host
	MemoryNamespace  string // Collection / namespace name (default: "microagent")
	ClearMemoryStart bool   // Clear the long-term collection on start

	// Executors
	WorkDir          string        // Directory file and shell commands run in (default: cwd)
	Shell            string        // Shell binary for the shell command (default: "bash")
	ExecTimeout      time.Duration // Timeout for shell and interpreter executions (default: 120s)
	FetchTimeout     time.Duration // Timeout for web_fetch (default: 20s)
	SearchMaxResults int           // Results returned by web_search (default: 5)

	// Serve mode run management
	SessionMaxAge     time.Duration // How long finished runs stay queryable (default: 24h)
	CleanupInterval   time.Duration // How often expired runs are removed (default: 1h)
	MaxConcurrentRuns int           // Runs executing at the same time (default: 8)

	// Logging and debugging configuration
	LogLevel          string // debug, info, warn, error (default: "info")
	LogFormat         string // json or text (default: "json")
	LogTruncateLength int    // Truncation length for long log fields (default: 500)
	DebugMode         bool   // Print prompts and raw responses
}

var validProviders = map[string]bool{"ollama": true, "gemini": true, "openai": true}

var validMemoryTypes = map[string]bool{"none": true, "memory": true, "pgvector": true, "chroma": true, "pinecone": true}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("llm_provider", "ollama")
	v.SetDefault("ollama_endpoint", "http://localhost:11434")
	v.SetDefault("ollama_model", "qwen3")
	v.SetDefault("gemini_model", "gemini-2.0-flash")
	v.SetDefault("openai_model", "gpt-4o-mini")

	v.SetDefault("max_iterations", 50)
	v.SetDefault("max_retries", 3)
	v.SetDefault("max_critiques", 0)
	v.SetDefault("enable_critic", false)
	v.SetDefault("prompt_user", true)
	v.SetDefault("enable_planner", false)
	v.SetDefault("reject_repeats", true)
	v.SetDefault("endpoint_retries", 4)
	v.SetDefault("endpoint_backoff_ms", 500)
	v.SetDefault("request_timeout", 300)

	v.SetDefault("max_context_size", 6000)
	v.SetDefault("context_unit", "chars")
	v.SetDefault("max_memory_item_size", 2000)
	v.SetDefault("condense_observations", false)
	v.SetDefault("summarizer_chunk_size", 3000)
	v.SetDefault("recall_limit", 5)

	v.SetDefault("memory_type", "none")
	v.SetDefault("memory_namespace", "microagent")
	v.SetDefault("clear_db_on_start", false)

	v.SetDefault("shell", "bash")
	v.SetDefault("exec_timeout", 120)
	v.SetDefault("fetch_timeout", 20)
	v.SetDefault("search_max_results", 5)

	v.SetDefault("session_max_age_hours", 24)
	v.SetDefault("cleanup_interval_minutes", 60)
	v.SetDefault("max_concurrent_runs", 8)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_truncate_length", 500)
	v.SetDefault("debug_mode", false)
}

// LoadConfig reads configuration from the given YAML file (optional) and the environment.
// Environment variables override file values; invalid numeric values fall back to defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return configFromViper(v)
}

func configFromViper(v *viper.Viper) (*Config, error) {
	config := &Config{
		Port:                 v.GetString("port"),
		LLMProvider:          strings.ToLower(v.GetString("llm_provider")),
		OllamaEndpoint:       v.GetString("ollama_endpoint"),
		OllamaModel:          v.GetString("ollama_model"),
		GeminiAPIKey:         v.GetString("gemini_api_key"),
		GeminiModel:          v.GetString("gemini_model"),
		OpenAIAPIKey:         v.GetString("openai_api_key"),
		OpenAIModel:          v.GetString("openai_model"),
		OpenAIBaseURL:        v.GetString("openai_base_url"),
		SummarizerModel:      v.GetString("summarizer_model"),
		EmbeddingModel:       v.GetString("embedding_model"),
		MaxIterations:        positiveInt(v, "max_iterations"),
		MaxRetries:           nonNegativeInt(v, "max_retries"),
		MaxCritiques:         nonNegativeInt(v, "max_critiques"),
		EnableCritic:         v.GetBool("enable_critic"),
		PromptUser:           v.GetBool("prompt_user"),
		EnablePlanner:        v.GetBool("enable_planner"),
		RejectRepeats:        v.GetBool("reject_repeats"),
		EndpointRetries:      positiveInt(v, "endpoint_retries"),
		EndpointBackoff:      time.Duration(positiveInt(v, "endpoint_backoff_ms")) * time.Millisecond,
		RequestTimeout:       time.Duration(positiveInt(v, "request_timeout")) * time.Second,
		MaxContextSize:       positiveInt(v, "max_context_size"),
		ContextUnit:          strings.ToLower(v.GetString("context_unit")),
		MaxMemoryItemSize:    positiveInt(v, "max_memory_item_size"),
		CondenseObservations: v.GetBool("condense_observations"),
		SummarizerChunkSize:  positiveInt(v, "summarizer_chunk_size"),
		RecallLimit:          nonNegativeInt(v, "recall_limit"),
		MemoryType:           strings.ToLower(v.GetString("memory_type")),
		PostgresURL:          v.GetString("postgres_url"),
		ChromaURL:            v.GetString("chroma_url"),
		PineconeAPIKey:       v.GetString("pinecone_api_key"),
		PineconeHost:         v.GetString("pinecone_host"),
		MemoryNamespace:      v.GetString("memory_namespace"),
		ClearMemoryStart:     v.GetBool("clear_db_on_start"),
		WorkDir:              v.GetString("work_dir"),
		Shell:                v.GetString("shell"),
		ExecTimeout:          time.Duration(positiveInt(v, "exec_timeout")) * time.Second,
		FetchTimeout:         time.Duration(positiveInt(v, "fetch_timeout")) * time.Second,
		SearchMaxResults:     positiveInt(v, "search_max_results"),
		SessionMaxAge:        time.Duration(positiveInt(v, "session_max_age_hours")) * time.Hour,
		CleanupInterval:      time.Duration(positiveInt(v, "cleanup_interval_minutes")) * time.Minute,
		MaxConcurrentRuns:    positiveInt(v, "max_concurrent_runs"),
		LogLevel:             v.GetString("log_level"),
		LogFormat:            strings.ToLower(v.GetString("log_format")),
		LogTruncateLength:    positiveInt(v, "log_truncate_length"),
		DebugMode:            v.GetBool("debug_mode"),
	}

	if config.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		config.WorkDir = wd
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks enumerated values and provider credentials.
func (c *Config) Validate() error {
	if !validProviders[c.LLMProvider] {
		return fmt.Errorf("unknown LLM_PROVIDER %q (expected ollama, gemini or openai)", c.LLMProvider)
	}
	if c.LLMProvider == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("gemini API key is required when using gemini provider. Set GEMINI_API_KEY environment variable")
	}
	if c.LLMProvider == "openai" && c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
		return fmt.Errorf("openai API key is required when using openai provider. Set OPENAI_API_KEY environment variable")
	}
	if c.ContextUnit != "chars" && c.ContextUnit != "tokens" {
		return fmt.Errorf("unknown CONTEXT_UNIT %q (expected chars or tokens)", c.ContextUnit)
	}
	if !validMemoryTypes[c.MemoryType] {
		return fmt.Errorf("unknown MEMORY_TYPE %q", c.MemoryType)
	}
	return nil
}

// ModelName returns the model the loop talks to for the configured provider.
func (c *Config) ModelName() string {
	switch c.LLMProvider {
	case "gemini":
		return c.GeminiModel
	case "openai":
		return c.OpenAIModel
	default:
		return c.OllamaModel
	}
}

// positiveInt reads an integer key and falls back to its default when the value is not > 0.
func positiveInt(v *viper.Viper, key string) int {
	if val := v.GetInt(key); val > 0 {
		return val
	}
	return defaultInt(key)
}

func nonNegativeInt(v *viper.Viper, key string) int {
	if val := v.GetInt(key); val >= 0 {
		return val
	}
	return defaultInt(key)
}

func defaultInt(key string) int {
	d := viper.New()
	setDefaults(d)
	return d.GetInt(key)
}

// InitializeLogger configures a structured logger based on the provided configuration.
// The CLI passes stderr so the conversation on stdout stays readable.
func InitializeLogger(config *Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()

	if config.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	}

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if out == nil {
		out = os.Stdout
	}
	logger.SetOutput(out)

	// Executors log through the standard logger.
	logrus.SetFormatter(logger.Formatter)
	logrus.SetLevel(logger.Level)
	logrus.SetOutput(out)

	logger.WithFields(logrus.Fields{
		"llmProvider":       config.LLMProvider,
		"model":             config.ModelName(),
		"maxIterations":     config.MaxIterations,
		"maxRetries":        config.MaxRetries,
		"enableCritic":      config.EnableCritic,
		"promptUser":        config.PromptUser,
		"enablePlanner":     config.EnablePlanner,
		"maxContextSize":    config.MaxContextSize,
		"contextUnit":       config.ContextUnit,
		"maxMemoryItemSize": config.MaxMemoryItemSize,
		"memoryType":        config.MemoryType,
		"workDir":           config.WorkDir,
		"debugMode":         config.DebugMode,
	}).Debug("Configuration loaded")

	return logger
}
