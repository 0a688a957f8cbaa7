package config

import (
	"os"
	"strings"

	"qvet/internal/runinfo"

	"gopkg.in/yaml.v3"
)

// Config captures all runtime options for a validation session.
type Config struct {
	DSN        string             `yaml:"dsn"`
	Database   string             `yaml:"database"`
	Engine     string             `yaml:"engine"`
	Validation ValidationConfig   `yaml:"validation"`
	Benchmark  BenchmarkConfig    `yaml:"benchmark"`
	Classify   ClassifyConfig     `yaml:"classify"`
	Report     ReportConfig       `yaml:"report"`
	Storage    StorageConfig      `yaml:"storage"`
	Logging    Logging            `yaml:"logging"`
	RunInfo    *runinfo.BasicInfo `yaml:"-"`
}

// ValidationConfig tunes the structural and sampled logic tiers.
type ValidationConfig struct {
	SampleFraction    float64 `yaml:"sample_fraction"`
	SampleSeed        int64   `yaml:"sample_seed"`
	TimeoutMs         int     `yaml:"timeout_ms"`
	Workers           int     `yaml:"workers"`
	MaxDiffsPerColumn int     `yaml:"max_diffs_per_column"`
	FloatPrecision    int     `yaml:"float_precision"`
}

// BenchmarkConfig tunes the benchmark runner.
type BenchmarkConfig struct {
	TimeoutMs        int     `yaml:"timeout_ms"`
	RaceThresholdMs  int     `yaml:"race_threshold_ms"`
	RaceGrace        float64 `yaml:"race_grace"`
	TrimmedRuns      int     `yaml:"trimmed_runs"`
	TrimCount        int     `yaml:"trim_count"`
	RowCap           int     `yaml:"row_cap"`
	EstimateMs       int     `yaml:"estimate_ms"`
	PinnedTimestamp  int64   `yaml:"pinned_timestamp"`
	WarmupBeforeRace bool    `yaml:"warmup_before_race"`
}

// ClassifyConfig holds the ratio thresholds for the final verdict.
type ClassifyConfig struct {
	WinRatio      float64 `yaml:"win_ratio"`
	ImprovedRatio float64 `yaml:"improved_ratio"`
	NeutralRatio  float64 `yaml:"neutral_ratio"`
}

// ReportConfig controls session report output.
type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
	Archive   bool   `yaml:"archive"`
}

// Logging controls stdout logging behavior.
type Logging struct {
	Verbose bool `yaml:"verbose"`
}

// StorageConfig holds external storage settings.
type StorageConfig struct {
	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

// CloudEnabled reports whether any cloud storage backend is enabled.
func (s StorageConfig) CloudEnabled() bool {
	return s.GCS.Enabled || s.S3.Enabled
}

// S3Config configures S3 uploads (legacy and S3-compatible endpoints).
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// GCSConfig configures GCS uploads.
type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	Normalize(&cfg)
	cfg.RunInfo = runinfo.FromEnv()
	return cfg, nil
}

const (
	sampleFractionDefault    = 0.02
	tier2TimeoutMsDefault    = 30000
	tier2WorkersDefault      = 4
	maxDiffsPerColumnDefault = 5
	floatPrecisionDefault    = 9

	benchTimeoutMsDefault  = 60000
	raceThresholdMsDefault = 2000
	raceGraceDefault       = 0.10
	trimmedRunsDefault     = 5
	trimCountDefault       = 1
	rowCapDefault          = 10000

	winRatioDefault      = 1.10
	improvedRatioDefault = 1.05
	neutralRatioDefault  = 0.95

	// pinnedTimestampDefault is an arbitrary fixed reference instant
	// (2024-01-01T00:00:00Z) injected when pinning time-of-day functions.
	pinnedTimestampDefault = 1704067200
)

// Normalize fills invalid or missing values with defaults. A configured
// database name overrides whatever schema the DSN carries.
func Normalize(cfg *Config) {
	if cfg.Engine == "" {
		cfg.Engine = "mysql"
	}
	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))
	if cfg.Database != "" {
		cfg.DSN = UpdateDatabaseInDSN(cfg.DSN, cfg.Database)
	}
	v := &cfg.Validation
	if v.SampleFraction <= 0 || v.SampleFraction > 1 {
		v.SampleFraction = sampleFractionDefault
	}
	if v.TimeoutMs <= 0 {
		v.TimeoutMs = tier2TimeoutMsDefault
	}
	if v.Workers <= 0 {
		v.Workers = tier2WorkersDefault
	}
	if v.MaxDiffsPerColumn <= 0 {
		v.MaxDiffsPerColumn = maxDiffsPerColumnDefault
	}
	if v.FloatPrecision <= 0 {
		v.FloatPrecision = floatPrecisionDefault
	}
	b := &cfg.Benchmark
	if b.TimeoutMs <= 0 {
		b.TimeoutMs = benchTimeoutMsDefault
	}
	if b.RaceThresholdMs <= 0 {
		b.RaceThresholdMs = raceThresholdMsDefault
	}
	if b.RaceGrace <= 0 {
		b.RaceGrace = raceGraceDefault
	}
	if b.TrimmedRuns <= 0 {
		b.TrimmedRuns = trimmedRunsDefault
	}
	if b.TrimCount < 0 || b.TrimCount*2 >= b.TrimmedRuns {
		b.TrimCount = trimCountDefault
	}
	if b.RowCap <= 0 {
		b.RowCap = rowCapDefault
	}
	if b.PinnedTimestamp <= 0 {
		b.PinnedTimestamp = pinnedTimestampDefault
	}
	c := &cfg.Classify
	if c.WinRatio <= 0 {
		c.WinRatio = winRatioDefault
	}
	if c.ImprovedRatio <= 0 {
		c.ImprovedRatio = improvedRatioDefault
	}
	if c.NeutralRatio <= 0 {
		c.NeutralRatio = neutralRatioDefault
	}
	if cfg.Report.OutputDir == "" {
		cfg.Report.OutputDir = "reports"
	}
}

// UpdateDatabaseInDSN replaces the database name in the DSN path with dbName.
// It preserves query parameters, if any.
func UpdateDatabaseInDSN(dsn string, dbName string) string {
	if dsn == "" || dbName == "" {
		return dsn
	}
	slash := strings.Index(dsn, "/")
	if slash < 0 {
		return dsn
	}
	query := strings.Index(dsn[slash+1:], "?")
	if query >= 0 {
		query = slash + 1 + query
		return dsn[:slash+1] + dbName + dsn[query:]
	}
	return dsn[:slash+1] + dbName
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DSN:    "root:@tcp(127.0.0.1:4000)/",
		Engine: "mysql",
		Validation: ValidationConfig{
			SampleFraction:    sampleFractionDefault,
			TimeoutMs:         tier2TimeoutMsDefault,
			Workers:           tier2WorkersDefault,
			MaxDiffsPerColumn: maxDiffsPerColumnDefault,
			FloatPrecision:    floatPrecisionDefault,
		},
		Benchmark: BenchmarkConfig{
			TimeoutMs:       benchTimeoutMsDefault,
			RaceThresholdMs: raceThresholdMsDefault,
			RaceGrace:       raceGraceDefault,
			TrimmedRuns:     trimmedRunsDefault,
			TrimCount:       trimCountDefault,
			RowCap:          rowCapDefault,
			PinnedTimestamp: pinnedTimestampDefault,
		},
		Classify: ClassifyConfig{
			WinRatio:      winRatioDefault,
			ImprovedRatio: improvedRatioDefault,
			NeutralRatio:  neutralRatioDefault,
		},
		Report: ReportConfig{
			OutputDir: "reports",
			Archive:   true,
		},
	}
}
