package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/similarity"
)

const (
	defaultDatabasePath         = "suppliers.db"
	defaultPort                 = 8080
	defaultLowThreshold         = 0.60
	defaultHighThreshold        = 0.85
	defaultMergeThreshold       = 0.92
	defaultMergeInterval        = 10 * time.Minute
	defaultMergeLeaseTTL        = 5 * time.Minute
	defaultMaxMentionLength     = 512
	defaultBlockingPrefixLength = 3
	defaultBlockingMinAliases   = 2000
	defaultStoreRetryAttempts   = 5
	defaultStoreRetryDelay      = 50 * time.Millisecond
	defaultStoreRetryMaxDelay   = 2 * time.Second
	defaultBusyTimeout          = 5 * time.Second
	defaultIngestQueueSize      = 200
	defaultNumIngestWorkers     = 4
)

// DefaultSources are the mention sources accepted out of the box.
var DefaultSources = []string{"email", "po", "invoice", "erp", "manual"}

type Config struct {
	// database path
	DatabasePath string
	BusyTimeout  time.Duration

	// http
	Port               int
	CORSAllowedOrigins []string

	// decision thresholds
	LowThreshold   float64
	HighThreshold  float64
	MergeThreshold float64

	// merge passes; a zero interval disables the scheduler
	MergeInterval time.Duration
	MergeLeaseTTL time.Duration

	// ingestion rules
	MaxMentionLength     int
	Sources              []string
	LegalSuffixes        []string // nil means the normalizer defaults
	Weights              similarity.Weights
	BlockingPrefixLength int
	BlockingMinAliases   int

	// store contention
	StoreRetryAttempts     int
	StoreRetryInitialDelay time.Duration
	StoreRetryMaxDelay     time.Duration

	// worker settings
	IngestQueueSize  int
	NumIngestWorkers int

	LogLevel  string
	LogFormat string
}

// Rules is the optional YAML file named by RESOLVER_RULES_FILE.
type Rules struct {
	LegalSuffixes []string            `yaml:"legal_suffixes"`
	Sources       []string            `yaml:"sources"`
	Weights       *similarity.Weights `yaml:"weights"`
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		logging.Default().Warn().Err(err).Str("key", envVar).Str("value", valStr).Int("default", defaultVal).Msg("invalid integer, using default")
		return defaultVal
	}
	return val
}

// getEnvFloat leaves validation of the value to Validate so a bad threshold
// is reported rather than silently replaced.
func getEnvFloat(envVar string, defaultVal float64) (float64, error) {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(valStr), 64)
	if err != nil {
		return 0, apperrors.NewConfigError(envVar, fmt.Sprintf("invalid number %q", valStr), err)
	}
	return val, nil
}

func getEnvDurationOrDefault(envVar string, defaultVal time.Duration) (time.Duration, error) {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal, nil
	}
	val, err := time.ParseDuration(strings.TrimSpace(valStr))
	if err != nil || val < 0 {
		return 0, apperrors.NewConfigError(envVar, fmt.Sprintf("invalid duration %q", valStr), err)
	}
	return val, nil
}

func getEnvList(envVar string, defaultVal []string) []string {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(valStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func LoadConfig() (Config, error) {
	cfg := Config{
		DatabasePath:         getEnvOrDefault("DATABASE_PATH", defaultDatabasePath),
		Port:                 getEnvIntOrDefault("PORT", defaultPort),
		CORSAllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		MaxMentionLength:     getEnvIntOrDefault("MAX_MENTION_LENGTH", defaultMaxMentionLength),
		Sources:              getEnvList("ALIAS_SOURCES", DefaultSources),
		Weights:              similarity.DefaultWeights(),
		BlockingPrefixLength: getEnvIntOrDefault("BLOCKING_PREFIX_LENGTH", defaultBlockingPrefixLength),
		BlockingMinAliases:   getEnvIntOrDefault("BLOCKING_MIN_ALIASES", defaultBlockingMinAliases),
		StoreRetryAttempts:   getEnvIntOrDefault("STORE_RETRY_ATTEMPTS", defaultStoreRetryAttempts),
		IngestQueueSize:      getEnvIntOrDefault("INGEST_QUEUE_SIZE", defaultIngestQueueSize),
		NumIngestWorkers:     getEnvIntOrDefault("INGEST_WORKERS", defaultNumIngestWorkers),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "auto"),
	}

	var err error
	if cfg.LowThreshold, err = getEnvFloat("LOW_THRESHOLD", defaultLowThreshold); err != nil {
		return Config{}, err
	}
	if cfg.HighThreshold, err = getEnvFloat("HIGH_THRESHOLD", defaultHighThreshold); err != nil {
		return Config{}, err
	}
	if cfg.MergeThreshold, err = getEnvFloat("MERGE_THRESHOLD", defaultMergeThreshold); err != nil {
		return Config{}, err
	}

	durations := []struct {
		key  string
		def  time.Duration
		into *time.Duration
	}{
		{"MERGE_INTERVAL", defaultMergeInterval, &cfg.MergeInterval},
		{"MERGE_LEASE_TTL", defaultMergeLeaseTTL, &cfg.MergeLeaseTTL},
		{"STORE_RETRY_INITIAL_DELAY", defaultStoreRetryDelay, &cfg.StoreRetryInitialDelay},
		{"STORE_RETRY_MAX_DELAY", defaultStoreRetryMaxDelay, &cfg.StoreRetryMaxDelay},
		{"DATABASE_BUSY_TIMEOUT", defaultBusyTimeout, &cfg.BusyTimeout},
	}
	for _, d := range durations {
		if *d.into, err = getEnvDurationOrDefault(d.key, d.def); err != nil {
			return Config{}, err
		}
	}

	if path := os.Getenv("RESOLVER_RULES_FILE"); path != "" {
		rules, err := LoadRules(path)
		if err != nil {
			return Config{}, err
		}
		cfg.ApplyRules(rules)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadRules reads a YAML rules file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError("RESOLVER_RULES_FILE", fmt.Sprintf("cannot read %s", path), err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, apperrors.NewConfigError("RESOLVER_RULES_FILE", fmt.Sprintf("cannot parse %s", path), err)
	}
	return &rules, nil
}

// ApplyRules overrides the suffix list, sources and weights present in rules.
func (c *Config) ApplyRules(rules *Rules) {
	if rules == nil {
		return
	}
	if len(rules.LegalSuffixes) > 0 {
		c.LegalSuffixes = rules.LegalSuffixes
	}
	if len(rules.Sources) > 0 {
		c.Sources = rules.Sources
	}
	if rules.Weights != nil {
		c.Weights = *rules.Weights
	}
}

// Validate checks the threshold ordering 0 ≤ low ≤ high ≤ 1 and the other
// numeric ranges.
func (c Config) Validate() error {
	inUnit := func(key string, v float64) error {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return apperrors.NewConfigError(key, fmt.Sprintf("must be within [0,1], got %v", v), nil)
		}
		return nil
	}
	for _, check := range []struct {
		key string
		v   float64
	}{
		{"LOW_THRESHOLD", c.LowThreshold},
		{"HIGH_THRESHOLD", c.HighThreshold},
		{"MERGE_THRESHOLD", c.MergeThreshold},
		{"weights.exact", c.Weights.Exact},
		{"weights.token_set", c.Weights.TokenSet},
		{"weights.edit_distance", c.Weights.EditDistance},
	} {
		if err := inUnit(check.key, check.v); err != nil {
			return err
		}
	}
	if c.LowThreshold > c.HighThreshold {
		return apperrors.NewConfigError("LOW_THRESHOLD",
			fmt.Sprintf("must not exceed HIGH_THRESHOLD (%v > %v)", c.LowThreshold, c.HighThreshold), nil)
	}
	if len(c.Sources) == 0 {
		return apperrors.NewConfigError("ALIAS_SOURCES", "at least one source is required", nil)
	}
	if c.StoreRetryMaxDelay < c.StoreRetryInitialDelay {
		return apperrors.NewConfigError("STORE_RETRY_MAX_DELAY", "must not be below STORE_RETRY_INITIAL_DELAY", nil)
	}
	return nil
}
