package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := LoadConfig("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, "debug", config.Logger.Verbosity)
		assert.Equal(t, "json", config.Logger.Encoding)
		assert.Equal(t, "host", config.Runtime.Backend)
		assert.Equal(t, "NVIDIA", config.Platform.Name)
		assert.Equal(t, "./kernels/sgemm.cl", config.Kernel.Path)
		assert.Equal(t, "Sgemm", config.Kernel.EntryPoint)
		assert.Equal(t, "-cl-fast-relaxed-math", config.Kernel.BuildOptions)
		assert.Equal(t, 480, config.Matrix.N)
		assert.Equal(t, 120, config.Matrix.K)
		assert.Equal(t, 360, config.Matrix.M)
		assert.Equal(t, FillConfig{Kind: "random", Seed: 2021}, config.Matrix.A)
		assert.Equal(t, FillConfig{Kind: "ordered", Start: 0, Step: 1}, config.Matrix.B)
		assert.True(t, config.Verify.Enabled)
		assert.Equal(t, 8, config.Verify.SampleRows)
		assert.Equal(t, 0.0001, config.Verify.Tolerance)
		assert.Equal(t, 3, config.Verify.FreivaldsRounds)
		assert.Equal(t, "/tmp/clsgemm.prom", config.Metrics.Textfile)
		assert.True(t, config.Debug)
	})

	t.Run("partial config keeps defaults", func(t *testing.T) {
		config, err := LoadConfig("testdata/partial_config.yaml")
		require.NoError(t, err)

		assert.Equal(t, "AMD", config.Platform.Name)
		assert.Equal(t, 64, config.Matrix.N)
		assert.Equal(t, 1200, config.Matrix.K)
		assert.Equal(t, 3600, config.Matrix.M)
		assert.Equal(t, "auto", config.Runtime.Backend)
		assert.Equal(t, "Sgemm", config.Kernel.EntryPoint)
		assert.Equal(t, 0.00001, config.Matrix.A.Start)
	})

	t.Run("empty path", func(t *testing.T) {
		config, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, Default(), config)
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := LoadConfig("non-existent-file.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := LoadConfig("testdata/invalid_yaml.yaml")
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := LoadConfig("testdata/invalid_values.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Config.Runtime.Backend")
		assert.Contains(t, err.Error(), "Config.Matrix.N")
		assert.Contains(t, err.Error(), "Config.Matrix.A.Kind")
		assert.Contains(t, err.Error(), `"gt=0"`)
	})
}

func TestDefault(t *testing.T) {
	config := Default()
	require.NoError(t, config.Validate())

	assert.Empty(t, config.Platform.Name)
	assert.Equal(t, "auto", config.Runtime.Backend)
	assert.Equal(t, 4800, config.Matrix.N)
	assert.Equal(t, 1200, config.Matrix.K)
	assert.Equal(t, 3600, config.Matrix.M)
	assert.False(t, config.Debug)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty verbosity", mutate: func(c *Config) { c.Logger.Verbosity = "" }},
		{name: "bad verbosity", mutate: func(c *Config) { c.Logger.Verbosity = "loud" }, wantErr: "Config.Logger.Verbosity"},
		{name: "bad encoding", mutate: func(c *Config) { c.Logger.Encoding = "xml" }, wantErr: "Config.Logger.Encoding"},
		{name: "missing entry point", mutate: func(c *Config) { c.Kernel.EntryPoint = "" }, wantErr: `"required"`},
		{name: "negative k", mutate: func(c *Config) { c.Matrix.K = -1 }, wantErr: "Config.Matrix.K"},
		{name: "zero tolerance", mutate: func(c *Config) { c.Verify.Tolerance = 0 }, wantErr: "Config.Verify.Tolerance"},
		{name: "negative sample rows", mutate: func(c *Config) { c.Verify.SampleRows = -2 }, wantErr: "Config.Verify.SampleRows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFillConfig_Build(t *testing.T) {
	ordered := FillConfig{Kind: "ordered", Start: 1, Step: 2}.Build(2, 2)
	assert.Equal(t, []float32{1, 3, 5, 7}, ordered.Data)

	zeros := FillConfig{Kind: "zeros"}.Build(1, 3)
	assert.Equal(t, []float32{0, 0, 0}, zeros.Data)

	r1 := FillConfig{Kind: "random"}.Build(4, 4)
	r2 := FillConfig{Kind: "random", Seed: 12345}.Build(4, 4)
	assert.True(t, r1.Equal(r2), "seed 0 means the default seed")
}
