package testsupport

import (
	"path/filepath"
	"testing"

	"dramapipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Script.APIKey = "test"
	cfgVal.Voice.APIKey = "test"
	cfgVal.Publish.APIKey = "test"
	cfgVal.Workflow.IdempotencyCacheOn = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxAttempts sets the pipeline-wide attempt ceiling on the test config.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxAttempts = n
	}
}

// WithStageOverride installs per-stage limits on the test config.
func WithStageOverride(stage string, limits config.StageLimits) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Pipeline.StageOverrides == nil {
			b.cfg.Pipeline.StageOverrides = make(map[string]config.StageLimits)
		}
		b.cfg.Pipeline.StageOverrides[stage] = limits
	}
}

// WithSeries configures the daily-content series on the test config.
func WithSeries(title, genre string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Series.Title = title
		b.cfg.Series.Genre = genre
		b.cfg.Workflow.DailyContentEnabled = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
