package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("bplo-manila")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "bplo-manila", cfg.Office.ID)
	assert.Equal(t, 200.0, cfg.ThresholdMeters())
	assert.Equal(t, 3*time.Second, cfg.ProximityTimeout())
	assert.True(t, cfg.HasPermission("director", "case.decide"))
	assert.False(t, cfg.HasPermission("inspector", "case.decide"))
	assert.True(t, strings.Contains(cfg.MissionOrder.Template, "[INSPECTORS]"))
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	_, err := FromYAML([]byte("office:\n  id: x\nrbac:\n  roles:\n    mayor:\n      permissions: [case.decide]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role mayor")
}

func TestValidateDrivers(t *testing.T) {
	_, err := FromYAML([]byte("office:\n  id: x\nstorage:\n  driver: s3\n"))
	assert.Error(t, err)
	_, err = FromYAML([]byte("office:\n  id: x\nnotifications:\n  enabled: true\n"))
	assert.Error(t, err)
	_, err = FromYAML([]byte("office:\n  id: x\nwebhooks:\n  - events: [case.approved]\n"))
	assert.Error(t, err)
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "inspectline.yml"), []byte(GenerateDefault("qc")), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "qc", cfg.Office.ID)
}

func TestThresholdOverride(t *testing.T) {
	cfg, err := FromYAML([]byte("office:\n  id: x\ngeofence:\n  threshold_meters: 75\n  proximity_timeout_ms: 500\n"))
	require.NoError(t, err)
	assert.Equal(t, 75.0, cfg.ThresholdMeters())
	assert.Equal(t, 500*time.Millisecond, cfg.ProximityTimeout())
}
