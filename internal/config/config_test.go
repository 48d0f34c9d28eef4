package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 80, cfg.Defaults.Quality)
	assert.Equal(t, "jpeg", cfg.Defaults.Format)
	assert.Equal(t, 100, cfg.Debounce.QualityMS)
	assert.Equal(t, 300, cfg.Debounce.DimensionMS)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Defaults.Quality = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Defaults.Quality = 101
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Defaults.Format = "bmp"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())
}

func TestValidateNormalizesZeroWindows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce.QualityMS = 0
	cfg.Debounce.DimensionMS = -1
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Debounce.QualityMS)
	assert.Equal(t, 300, cfg.Debounce.DimensionMS)
}

func TestHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(32)<<20, cfg.MaxUploadBytes())
	assert.Equal(t, 100*time.Millisecond, cfg.QualityWindow())
	assert.Equal(t, 300*time.Millisecond, cfg.DimensionWindow())
}
