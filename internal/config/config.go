// Package config handles YAML configuration parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"stampede/internal/threshold"
)

// DefaultBaseURL is used when neither the flag, the environment nor the
// file names a target.
const DefaultBaseURL = "http://localhost:8080"

const (
	DefaultTimeout        = 30 * time.Second
	DefaultAcquireTimeout = 30 * time.Second
	DefaultGracefulStop   = 30 * time.Second
	DefaultCheckpoint     = 5 * time.Second
	DefaultLogEvery       = 100
)

// Config is the root configuration structure.
type Config struct {
	Name       string           `yaml:"name"`
	BaseURL    string           `yaml:"baseURL" validate:"omitempty,url"`
	Stages     []Stage          `yaml:"stages" validate:"required,min=1,dive"`
	Scenarios  []ScenarioConfig `yaml:"scenarios" validate:"required,min=1,dive"`
	Thresholds threshold.Set    `yaml:"thresholds,omitempty"`
	Execution  ExecutionConfig  `yaml:"execution,omitempty"`
	Setup      SetupConfig      `yaml:"setup,omitempty"`

	dir string
}

// Stage is one segment of the ramp profile. The VU count moves linearly
// from the previous stage's target to Target over Duration.
type Stage struct {
	Name     string        `yaml:"name"`
	Duration time.Duration `yaml:"duration"`
	Target   int           `yaml:"target" validate:"gte=0"`
	RPS      int           `yaml:"rps" validate:"gte=0"`
}

// ScenarioConfig defines one weighted request template.
type ScenarioConfig struct {
	Name         string            `yaml:"name"`
	Weight       float64           `yaml:"weight"` // defaults to 1
	Method       string            `yaml:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Path         string            `yaml:"path"`
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers"`
	Body         string            `yaml:"body"`
	ExpectStatus []int             `yaml:"expectStatus" validate:"dive,gte=100,lte=599"`
	Checks       []CheckConfig     `yaml:"checks" validate:"dive"`
	Data         *DataConfig       `yaml:"data,omitempty"`
}

// CheckConfig is a single response predicate. Exactly one kind must be set.
type CheckConfig struct {
	Name            string       `yaml:"name"`
	Status          []int        `yaml:"status" validate:"dive,gte=100,lte=599"`
	BodyContains    string       `yaml:"bodyContains"`
	BodyNotContains string       `yaml:"bodyNotContains"`
	BodyMatches     string       `yaml:"bodyMatches"`
	Header          *HeaderCheck `yaml:"header,omitempty"`
	JSON            *JSONCheck   `yaml:"json,omitempty"`
}

// HeaderCheck matches a response header.
type HeaderCheck struct {
	Name     string `yaml:"name" validate:"required"`
	Equals   string `yaml:"equals"`
	Contains string `yaml:"contains"`
}

// JSONCheck matches a JSONPath in the response body. Without Equals the
// path only has to exist.
type JSONCheck struct {
	Path   string  `yaml:"path" validate:"required"`
	Equals *string `yaml:"equals,omitempty"`
}

// DataConfig attaches a CSV or JSON parameter file to a scenario.
type DataConfig struct {
	File string `yaml:"file" validate:"required"`
	Mode string `yaml:"mode" validate:"omitempty,oneof=sequential random"`
}

// ThinkTime is the pause between iterations of one VU, drawn uniformly
// from [Min, Max].
type ThinkTime struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// ExecutionConfig controls iteration-level execution behavior.
type ExecutionConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	ThinkTime          ThinkTime     `yaml:"thinkTime"`
	PoolSize           int           `yaml:"poolSize" validate:"gte=0"`
	AcquireTimeout     time.Duration `yaml:"acquireTimeout"`
	GracefulStop       time.Duration `yaml:"gracefulStop"`
	StartVUs           int           `yaml:"startVUs" validate:"gte=0"`
	MaxIterations      int           `yaml:"maxIterations" validate:"gte=0"`
	WarmupIterations   int           `yaml:"warmupIterations" validate:"gte=0"`
	Seed               int64         `yaml:"seed"`
	CheckpointInterval time.Duration `yaml:"checkpointInterval"`
	LogEvery           *int          `yaml:"logEvery,omitempty" validate:"omitempty,gte=0"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
}

// SetupConfig configures the connectivity probe run before ramping.
type SetupConfig struct {
	Disabled     bool          `yaml:"disabled"`
	Path         string        `yaml:"path"`
	ExpectStatus []int         `yaml:"expectStatus" validate:"dive,gte=100,lte=599"`
	Timeout      time.Duration `yaml:"timeout"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads, parses, defaults and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse parses, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset execution and setup fields.
func (c *Config) ApplyDefaults() {
	e := &c.Execution
	if e.Timeout == 0 {
		e.Timeout = DefaultTimeout
	}
	if e.AcquireTimeout == 0 {
		e.AcquireTimeout = DefaultAcquireTimeout
	}
	if e.GracefulStop == 0 {
		e.GracefulStop = DefaultGracefulStop
	}
	if e.ThinkTime.Max < e.ThinkTime.Min {
		e.ThinkTime.Max = e.ThinkTime.Min
	}
	if e.CheckpointInterval == 0 && c.Thresholds.HasAbortOnFail() {
		e.CheckpointInterval = DefaultCheckpoint
	}
	if e.LogEvery == nil {
		n := DefaultLogEvery
		e.LogEvery = &n
	}

	if len(c.Setup.ExpectStatus) == 0 {
		c.Setup.ExpectStatus = []int{200}
	}
	if c.Setup.Timeout == 0 {
		c.Setup.Timeout = e.Timeout
	}
	for i := range c.Scenarios {
		if c.Scenarios[i].Weight == 0 {
			c.Scenarios[i].Weight = 1
		}
		if c.Scenarios[i].Method == "" {
			c.Scenarios[i].Method = "GET"
		}
		c.Scenarios[i].Method = strings.ToUpper(c.Scenarios[i].Method)
	}
}

// Validate checks struct tags plus the constraints tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	for i, s := range c.Stages {
		if s.Duration < 0 {
			errs = append(errs, fmt.Errorf("stages[%d]: duration must be non-negative, got %v", i, s.Duration))
		}
	}
	e := c.Execution
	durations := map[string]time.Duration{
		"execution.timeout":            e.Timeout,
		"execution.acquireTimeout":     e.AcquireTimeout,
		"execution.gracefulStop":       e.GracefulStop,
		"execution.checkpointInterval": e.CheckpointInterval,
		"execution.thinkTime.min":      e.ThinkTime.Min,
		"execution.thinkTime.max":      e.ThinkTime.Max,
		"setup.timeout":                c.Setup.Timeout,
	}
	for _, name := range sortedKeys(durations) {
		if durations[name] < 0 {
			errs = append(errs, fmt.Errorf("%s: must be non-negative, got %v", name, durations[name]))
		}
	}
	for i, sc := range c.Scenarios {
		if sc.Path != "" && sc.URL != "" {
			errs = append(errs, fmt.Errorf("scenarios[%d] %q: set either path or url, not both", i, sc.Name))
		}
	}
	return errors.Join(errs...)
}

// Dir returns the directory of the loaded file; relative data files are
// resolved against it.
func (c *Config) Dir() string {
	if c.dir == "" {
		return "."
	}
	return c.dir
}

// TotalDuration returns the sum of all stage durations.
func (c *Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		total += s.Duration
	}
	return total
}

// MaxTarget returns the peak VU target across the profile.
func (c *Config) MaxTarget() int {
	peak := c.Execution.StartVUs
	for _, s := range c.Stages {
		if s.Target > peak {
			peak = s.Target
		}
	}
	return peak
}

// OverrideDuration replaces the stage list with a constant load of vus for d.
func (c *Config) OverrideDuration(vus int, d time.Duration) {
	c.Stages = []Stage{
		{Name: "jump", Duration: 0, Target: vus},
		{Name: "constant", Duration: d, Target: vus},
	}
}

// PoolSize returns the configured pool size, defaulting to the peak target.
func (c *Config) PoolSize() int {
	if c.Execution.PoolSize > 0 {
		return c.Execution.PoolSize
	}
	if peak := c.MaxTarget(); peak > 0 {
		return peak
	}
	return 1
}
