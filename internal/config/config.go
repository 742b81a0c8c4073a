package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fxnlabs/clsgemm/internal/matrix"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger   LoggerConfig   `yaml:"logger"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Platform PlatformConfig `yaml:"platform"`
	Kernel   KernelConfig   `yaml:"kernel"`
	Matrix   MatrixConfig   `yaml:"matrix"`
	Verify   VerifyConfig   `yaml:"verify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	// Debug dumps matrix previews at debug level.
	Debug bool `yaml:"debug"`
}

type LoggerConfig struct {
	Verbosity string `yaml:"verbosity" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	Encoding  string `yaml:"encoding" validate:"oneof=json console"`
}

type RuntimeConfig struct {
	Backend string `yaml:"backend" validate:"oneof=auto opencl host"`
}

type PlatformConfig struct {
	// Name is matched as a case sensitive substring of platform names. Empty
	// matches every platform.
	Name string `yaml:"name"`
}

type KernelConfig struct {
	Path         string `yaml:"path"`
	Source       string `yaml:"source"`
	EntryPoint   string `yaml:"entryPoint" validate:"required"`
	BuildOptions string `yaml:"buildOptions"`
}

type MatrixConfig struct {
	N int        `yaml:"n" validate:"gt=0,lte=4294967295"`
	K int        `yaml:"k" validate:"gt=0,lte=4294967295"`
	M int        `yaml:"m" validate:"gt=0,lte=4294967295"`
	A FillConfig `yaml:"a"`
	B FillConfig `yaml:"b"`
}

// FillConfig describes how a host matrix is initialised.
type FillConfig struct {
	Kind  string  `yaml:"kind" validate:"oneof=ordered random zeros"`
	Start float64 `yaml:"start"`
	Step  float64 `yaml:"step"`
	Seed  int64   `yaml:"seed"`
}

type VerifyConfig struct {
	Enabled         bool    `yaml:"enabled"`
	SampleRows      int     `yaml:"sampleRows" validate:"gte=0"`
	Tolerance       float64 `yaml:"tolerance" validate:"gt=0"`
	FreivaldsRounds int     `yaml:"freivaldsRounds" validate:"gte=0"`
}

type MetricsConfig struct {
	// Textfile, when set, receives the run's metrics in the Prometheus text
	// format.
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used when no file is given: a
// 4800×1200 by 1200×3600 product on the first GPU of the first platform that
// has one.
func Default() *Config {
	return &Config{
		Logger:  LoggerConfig{Verbosity: "info", Encoding: "console"},
		Runtime: RuntimeConfig{Backend: "auto"},
		Kernel:  KernelConfig{EntryPoint: "Sgemm"},
		Matrix: MatrixConfig{
			N: 4800,
			K: 1200,
			M: 3600,
			A: FillConfig{Kind: "ordered", Start: 0.00001, Step: 0.00001},
			B: FillConfig{Kind: "ordered", Start: 0.00002, Step: 0.00002},
		},
		Verify: VerifyConfig{SampleRows: 16, Tolerance: 1e-3, FreivaldsRounds: 2},
	}
}

// LoadConfig reads the YAML file at path over the defaults and validates
// the result. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), constraint(fe), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func constraint(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// Build creates a rows×cols matrix as the fill describes.
func (f FillConfig) Build(rows, cols int) *matrix.Matrix {
	switch f.Kind {
	case "random":
		seed := f.Seed
		if seed == 0 {
			seed = matrix.DefaultSeed
		}
		return matrix.Random(rows, cols, seed)
	case "zeros":
		return matrix.Zeros(rows, cols)
	default:
		return matrix.Ordered(rows, cols, f.Start, f.Step)
	}
}
