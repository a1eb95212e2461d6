package eligibility

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	// Everything in the shipped set is a kill switch.
	for _, c := range cfg.Criteria {
		assert.Equal(t, KindHard, c.Kind, c.Name)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no criteria", func(c *Config) { c.Criteria = nil }, "at least one criterion"},
		{"missing name", func(c *Config) { c.Criteria[0].Name = "" }, "name is required"},
		{"duplicate name", func(c *Config) { c.Criteria[1].Name = c.Criteria[0].Name }, "duplicate name"},
		{"missing field", func(c *Config) { c.Criteria[0].Field = "" }, "field is required"},
		{"bad kind", func(c *Config) { c.Criteria[0].Kind = "medium" }, "kind must be"},
		{"bad op", func(c *Config) { c.Criteria[0].Op = "ge" }, "unknown operator"},
		{"warn above fail", func(c *Config) { c.WarnAt = 5 }, "warn_at must be in"},
		{"hard with severity", func(c *Config) { c.Criteria[0].Severity = 2 }, "must not set severity"},
		{
			"soft without severity",
			func(c *Config) { c.Criteria[0].Kind = KindSoft; c.Criteria[0].Severity = 0 },
			"requires severity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
criteria:
  - name: beds
    field: beds
    kind: hard
    op: gte
    threshold: 3
  - name: pool
    field: has_pool
    kind: soft
    op: eq
    threshold: 1
    severity: 1.5
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.FailAt, "defaults applied")
	assert.Equal(t, 1.5, cfg.WarnAt)
	require.Len(t, cfg.Criteria, 2)
	assert.Equal(t, KindSoft, cfg.Criteria[1].Kind)
	assert.Equal(t, 1.5, cfg.Criteria[1].Severity)
}

func TestLoadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
criteria:
  - name: beds
    field: beds
    kind: hard
    op: bigger-than
`), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operator")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
