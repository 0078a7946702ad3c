// Package config loads the fabric's runtime configuration from the
// environment. Domain tuning defaults live in domain/config; this layer
// only overrides them.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domaincfg "fabric/domain/config"
	pkgerrors "fabric/pkg/errors"
)

// GraphEndpoint describes one externally operated graph database
type GraphEndpoint struct {
	URI      string
	Username string
	Password string
	Database string
}

// Config holds all application configuration
type Config struct {
	AgentID     string `validate:"required"`
	Environment string `validate:"oneof=development staging production"`
	LogLevel    string `validate:"oneof=debug info warn error"`

	// Backend selects the store implementation: memory or neo4j
	Backend     string `validate:"oneof=memory neo4j"`
	LocalGraph  GraphEndpoint
	GlobalGraph GraphEndpoint

	// Names of the managed graphs and the default rule
	LocalKGName  string `validate:"required"`
	GlobalKGName string `validate:"required"`
	SyncRuleName string `validate:"required"`

	// Domain tuning overrides
	SyncIntervalMinutes int      `validate:"min=1"`
	PriorityNodeTypes   []string `validate:"min=1"`
	WorkerThreads       int      `validate:"min=1"`
	MaxQueueSize        int      `validate:"min=1"`
	MemoryDecayFactor   float64  `validate:"gt=0,lte=1"`
	ImportanceThreshold float64  `validate:"gte=0,lte=1"`
	ShutdownTimeout     time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	defaults := domaincfg.DefaultDomainConfig()
	cfg := &Config{
		AgentID:     getEnv("FABRIC_AGENT_ID", ""),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		Backend: getEnv("FABRIC_STORE_BACKEND", "memory"),
		LocalGraph: GraphEndpoint{
			URI:      getEnv("LOCAL_GRAPH_URI", ""),
			Username: getEnv("LOCAL_GRAPH_USER", "neo4j"),
			Password: getEnv("LOCAL_GRAPH_PASSWORD", ""),
			Database: getEnv("LOCAL_GRAPH_DATABASE", ""),
		},
		GlobalGraph: GraphEndpoint{
			URI:      getEnv("GLOBAL_GRAPH_URI", ""),
			Username: getEnv("GLOBAL_GRAPH_USER", "neo4j"),
			Password: getEnv("GLOBAL_GRAPH_PASSWORD", ""),
			Database: getEnv("GLOBAL_GRAPH_DATABASE", ""),
		},

		LocalKGName:  getEnv("LOCAL_KG_NAME", "local"),
		GlobalKGName: getEnv("GLOBAL_KG_NAME", "global"),
		SyncRuleName: getEnv("SYNC_RULE_NAME", "default-bidirectional"),

		SyncIntervalMinutes: getEnvInt("SYNC_INTERVAL_MINUTES", defaults.SyncIntervalMinutes),
		PriorityNodeTypes:   getEnvList("PRIORITY_NODE_TYPES", defaults.PriorityNodeTypes),
		WorkerThreads:       getEnvInt("WORKER_THREADS", defaults.WorkerThreads),
		MaxQueueSize:        getEnvInt("MAX_QUEUE_SIZE", defaults.MaxQueueSize),
		MemoryDecayFactor:   getEnvFloat("MEMORY_DECAY_FACTOR", defaults.MemoryDecayFactor),
		ImportanceThreshold: getEnvFloat("IMPORTANCE_THRESHOLD", defaults.ImportanceThreshold),
		ShutdownTimeout:     defaults.ShutdownTimeout,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required and bounded fields
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return pkgerrors.NewValidationError("invalid configuration: " + err.Error())
	}
	if c.Backend == "neo4j" && c.LocalGraph.URI == "" {
		return pkgerrors.NewValidationError("neo4j backend requires LOCAL_GRAPH_URI")
	}
	return nil
}

// HasGlobalGraph reports whether a shared global graph is configured.
// The memory backend always carries one; neo4j needs GLOBAL_GRAPH_URI.
func (c *Config) HasGlobalGraph() bool {
	if c.Backend == "memory" {
		return true
	}
	return c.GlobalGraph.URI != ""
}

// Domain applies the environment overrides onto the domain defaults
func (c *Config) Domain() *domaincfg.DomainConfig {
	d := domaincfg.DefaultDomainConfig()
	d.SyncIntervalMinutes = c.SyncIntervalMinutes
	d.PriorityNodeTypes = append([]string{}, c.PriorityNodeTypes...)
	d.WorkerThreads = c.WorkerThreads
	d.MaxQueueSize = c.MaxQueueSize
	d.MemoryDecayFactor = c.MemoryDecayFactor
	d.ImportanceThreshold = c.ImportanceThreshold
	d.ShutdownTimeout = c.ShutdownTimeout
	return d
}

// IsDevelopment returns true when running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
