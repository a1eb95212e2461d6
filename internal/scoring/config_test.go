package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWeightsSumToMax(t *testing.T) {
	var sum float64
	for _, w := range DefaultWeights().Weights {
		sum += w
	}
	assert.InDelta(t, MaxTotal, sum, 1e-9)
	require.NoError(t, ValidateWeights(DefaultWeights()))
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(WeightsConfig)
		wantErr string
	}{
		{
			"missing strategy",
			func(c WeightsConfig) { delete(c.Weights, "garage") },
			"missing weight",
		},
		{
			"unknown strategy",
			func(c WeightsConfig) { c.Weights["helipad"] = 0 },
			"unknown strategy",
		},
		{
			"negative weight",
			func(c WeightsConfig) { c.Weights["garage"] = -7; c.Weights["commute"] += 14 },
			"must be >= 0",
		},
		{
			"sum off",
			func(c WeightsConfig) { c.Weights["garage"] += 1 },
			"must sum to",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultWeights()
			tt.mutate(cfg)
			err := ValidateWeights(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWeightsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
weights:
  school_quality: 10
  commute: 8
  crime: 9
  flood_risk: 8
  lot_size: 8
  orientation: 6
  roof_condition: 7
  hvac_condition: 7
  garage: 7
  interior_visual: 8
  kitchen_visual: 8
  curb_appeal: 7
  backyard_visual: 7
`), 0o644))

	cfg, err := LoadWeightsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.Weights["school_quality"])
}

func TestLoadWeightsFileRejectsBadSum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
weights:
  school_quality: 50
`), 0o644))

	_, err := LoadWeightsFile(path)
	require.Error(t, err)
}

func TestValidateTiers(t *testing.T) {
	require.NoError(t, ValidateTiers(DefaultTiers()))

	assert.Error(t, ValidateTiers(TierThresholds{Upper: 0, Lower: 0}))
	assert.Error(t, ValidateTiers(TierThresholds{Upper: 60, Lower: 80}))
	assert.Error(t, ValidateTiers(TierThresholds{Upper: 150, Lower: 60}))
	assert.NoError(t, ValidateTiers(TierThresholds{Upper: 90, Lower: 50}))
}
