// Package config loads batch settings from an optional file, MH_ environment
// variables and defaults.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lucasjlepore/mhealth-windows/window"
)

// EnvPrefix prefixes every environment override, e.g. MH_WORKERS.
const EnvPrefix = "MH"

// Processor names.
const (
	ProcessorFeatures = "features"
	ProcessorLabels   = "labels"
	ProcessorResample = "resample"
	ProcessorSummary  = "summary"
)

// DefaultOps are the feature operations computed when none are configured.
var DefaultOps = []string{"mean", "std", "max", "freq", "range", "active_perc", "activation_count", "activation_std"}

// Config holds the settings of one batch run.
type Config struct {
	Root       string   `mapstructure:"root"`
	OutDir     string   `mapstructure:"out_dir"`
	Source     string   `mapstructure:"source"`
	Kind       string   `mapstructure:"kind"`
	Processor  string   `mapstructure:"processor"`
	PID        string   `mapstructure:"pid"`
	SensorType string   `mapstructure:"sensor_type"`
	Sessions   string   `mapstructure:"sessions"`
	ClassMap   string   `mapstructure:"class_map"`
	SetName    string   `mapstructure:"set_name"`
	WindowMS   int64    `mapstructure:"window_ms"`
	StepMS     int64    `mapstructure:"step_ms"`
	Ops        []string `mapstructure:"ops"`
	Threshold  float64  `mapstructure:"threshold"`
	SubWindows int      `mapstructure:"sub_windows"`

	Rate           float64 `mapstructure:"rate"`
	GapThresholdMS int64   `mapstructure:"gap_threshold_ms"`
	Method         string  `mapstructure:"method"`
	FillGaps       bool    `mapstructure:"fill_gaps"`

	Format      string `mapstructure:"format"`
	Workers     int    `mapstructure:"workers"`
	Independent bool   `mapstructure:"independent"`
	Strict      bool   `mapstructure:"strict"`
	Metrics     string `mapstructure:"metrics"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	// ChunkOutputs writes one Derived file per chunk besides the aggregate.
	ChunkOutputs bool `mapstructure:"chunk_outputs"`
	Overwrite    bool `mapstructure:"overwrite"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", "")
	v.SetDefault("out_dir", "")
	v.SetDefault("source", "MasterSynced")
	v.SetDefault("kind", "")
	v.SetDefault("processor", ProcessorFeatures)
	v.SetDefault("pid", "")
	v.SetDefault("sensor_type", "")
	v.SetDefault("sessions", "")
	v.SetDefault("class_map", "")
	v.SetDefault("set_name", "")
	v.SetDefault("window_ms", 12800)
	v.SetDefault("step_ms", 0)
	v.SetDefault("ops", append([]string(nil), DefaultOps...))
	v.SetDefault("threshold", 0.2)
	v.SetDefault("sub_windows", 4)
	v.SetDefault("rate", 0.0)
	v.SetDefault("gap_threshold_ms", 1000)
	v.SetDefault("method", "spline")
	v.SetDefault("fill_gaps", true)
	v.SetDefault("format", "csv")
	v.SetDefault("workers", max(1, runtime.NumCPU()-1))
	v.SetDefault("independent", false)
	v.SetDefault("strict", false)
	v.SetDefault("chunk_outputs", true)
	v.SetDefault("overwrite", false)
	v.SetDefault("metrics", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads path when it is not empty, applies MH_ overrides and defaults. A zero
// step_ms follows window_ms.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.StepMS == 0 {
		cfg.StepMS = cfg.WindowMS
	}
	for i := range cfg.Ops {
		cfg.Ops[i] = strings.TrimSpace(cfg.Ops[i])
	}
	return &cfg, nil
}

// Window returns the window duration.
func (c *Config) Window() time.Duration { return time.Duration(c.WindowMS) * time.Millisecond }

// Step returns the window step.
func (c *Config) Step() time.Duration { return time.Duration(c.StepMS) * time.Millisecond }

// GapThreshold returns the resampling gap threshold.
func (c *Config) GapThreshold() time.Duration {
	return time.Duration(c.GapThresholdMS) * time.Millisecond
}

// Validate checks the settings a batch cannot start without.
func (c *Config) Validate() error {
	switch c.Processor {
	case ProcessorFeatures, ProcessorLabels, ProcessorResample, ProcessorSummary:
	default:
		return fmt.Errorf("unknown processor %q", c.Processor)
	}
	switch c.Format {
	case "csv", "parquet":
	default:
		return fmt.Errorf("unknown output format %q", c.Format)
	}
	switch c.Method {
	case "spline", "linear":
	default:
		return fmt.Errorf("unknown interpolation method %q", c.Method)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate must not be negative, got %v", c.Rate)
	}
	if c.Processor == ProcessorFeatures || c.Processor == ProcessorLabels {
		if err := window.ValidateForChunks(c.Window(), c.Step()); err != nil {
			return err
		}
	}
	return nil
}
