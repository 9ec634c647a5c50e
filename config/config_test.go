package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/camden-git/supplierresolver/errors"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"LOW_THRESHOLD", "HIGH_THRESHOLD", "MERGE_THRESHOLD", "MERGE_INTERVAL", "ALIAS_SOURCES", "RESOLVER_RULES_FILE", "PORT"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.60, cfg.LowThreshold)
	assert.Equal(t, 0.85, cfg.HighThreshold)
	assert.Equal(t, 0.92, cfg.MergeThreshold)
	assert.Equal(t, 10*time.Minute, cfg.MergeInterval)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DefaultSources, cfg.Sources)
	assert.Equal(t, 1.0, cfg.Weights.Exact)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOW_THRESHOLD", "0.5")
	t.Setenv("HIGH_THRESHOLD", "0.9")
	t.Setenv("MERGE_INTERVAL", "0s")
	t.Setenv("ALIAS_SOURCES", "po, email ,")
	t.Setenv("INGEST_WORKERS", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.LowThreshold)
	assert.Equal(t, 0.9, cfg.HighThreshold)
	assert.Zero(t, cfg.MergeInterval)
	assert.Equal(t, []string{"po", "email"}, cfg.Sources)
	assert.Equal(t, defaultNumIngestWorkers, cfg.NumIngestWorkers)
}

func TestLoadConfigRejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{"low above high", map[string]string{"LOW_THRESHOLD": "0.9", "HIGH_THRESHOLD": "0.8"}, "LOW_THRESHOLD"},
		{"high above one", map[string]string{"HIGH_THRESHOLD": "1.5"}, "HIGH_THRESHOLD"},
		{"negative merge", map[string]string{"MERGE_THRESHOLD": "-0.1"}, "MERGE_THRESHOLD"},
		{"not a number", map[string]string{"LOW_THRESHOLD": "abc"}, "LOW_THRESHOLD"},
		{"NaN low", map[string]string{"LOW_THRESHOLD": "NaN"}, "LOW_THRESHOLD"},
		{"NaN high", map[string]string{"HIGH_THRESHOLD": "nan"}, "HIGH_THRESHOLD"},
		{"NaN merge", map[string]string{"MERGE_THRESHOLD": "NaN"}, "MERGE_THRESHOLD"},
		{"infinite high", map[string]string{"HIGH_THRESHOLD": "+Inf"}, "HIGH_THRESHOLD"},
		{"bad duration", map[string]string{"MERGE_LEASE_TTL": "soon"}, "MERGE_LEASE_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
			var cfgErr *apperrors.ConfigError
			require.True(t, apperrors.As(err, &cfgErr))
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
legal_suffixes: [inc, ltd, "s.a."]
sources: [po, edi]
weights:
  exact: 1.0
  token_set: 0.9
  edit_distance: 0.8
`), 0o644))
	t.Setenv("RESOLVER_RULES_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"inc", "ltd", "s.a."}, cfg.LegalSuffixes)
	assert.Equal(t, []string{"po", "edi"}, cfg.Sources)
	assert.Equal(t, 0.9, cfg.Weights.TokenSet)
	assert.Equal(t, 0.8, cfg.Weights.EditDistance)
}

func TestRulesFileMissing(t *testing.T) {
	t.Setenv("RESOLVER_RULES_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := LoadConfig()
	var cfgErr *apperrors.ConfigError
	require.True(t, apperrors.As(err, &cfgErr))
	assert.Equal(t, "RESOLVER_RULES_FILE", cfgErr.Key)
}

func TestValidateRejectsNaNWeight(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	cfg.Weights.TokenSet = math.NaN()
	err = cfg.Validate()
	var cfgErr *apperrors.ConfigError
	require.True(t, apperrors.As(err, &cfgErr))
	assert.Equal(t, "weights.token_set", cfgErr.Key)
}
