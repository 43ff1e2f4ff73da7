package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"aquarium_arm/hardware"
	"aquarium_arm/trajectory"
)

func TestLoadConfigDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(DataDirEnv, dataDir)

	path := filepath.Join(t.TempDir(), "server.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hardware": {"port": "/dev/ttyUSB0"}}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, 1024, cfg.BufferSize)
	assert.Equal(t, time.Second, cfg.AcceptPoll)
	assert.Equal(t, 3, cfg.HardwareInitAttempts)
	assert.Equal(t, 5*time.Second, cfg.HardwareInitDelay)
	assert.Equal(t, trajectory.IntervalFixed, cfg.IntervalMode)
	assert.Equal(t, filepath.Join(dataDir, "trajectories"), cfg.TrajectoriesDir)
	assert.Equal(t, filepath.Join(dataDir, "home.json"), cfg.HomeFile)
	assert.Equal(t, 1000000, cfg.Hardware.BaudRate)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv(DataDirEnv, t.TempDir())

	_, err := LoadConfig("")
	require.Error(t, err)

	cfg, err := LoadConfig("", func(c *Config) {
		c.Hardware.Simulate = true
		c.Port = 9100
	})
	require.NoError(t, err)
	assert.True(t, cfg.Hardware.Simulate)
	assert.Equal(t, "0.0.0.0:9100", cfg.Addr())
}

func TestConfigValidateErrors(t *testing.T) {
	t.Run("missing serial port", func(t *testing.T) {
		cfg := &Config{}
		err := cfg.Validate("server")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.hardware")
	})

	t.Run("bad interval mode", func(t *testing.T) {
		cfg := &Config{IntervalMode: "sometimes", Hardware: hardwareSim()}
		require.Error(t, cfg.Validate("server"))
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := &Config{Port: 70000, Hardware: hardwareSim()}
		require.Error(t, cfg.Validate("server"))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig("/nonexistent/server.json")
		require.Error(t, err)
	})
}

func TestHomePoseFile(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("returns fromFile=false when no file exists", func(t *testing.T) {
		pose, fromFile := LoadHomePose(filepath.Join(t.TempDir(), "home.json"), 5, logger)
		assert.False(t, fromFile)
		assert.Equal(t, DefaultHomePose(5), pose)
		assert.Equal(t, []int{2048, 2048, 2048, 2048, 2048}, pose.JointAngles)
	})

	t.Run("round trips through the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "home.json")
		want := HomePose{JointAngles: []int{1, 2, 3, 4, 5}, GripperPosition: 6}
		require.NoError(t, SaveHomePose(path, want))

		pose, fromFile := LoadHomePose(path, 5, logger)
		assert.True(t, fromFile)
		assert.Equal(t, want, pose)
	})

	t.Run("falls back when joint count differs", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "home.json")
		require.NoError(t, SaveHomePose(path, HomePose{JointAngles: []int{1, 2, 3}}))

		pose, fromFile := LoadHomePose(path, 5, logger)
		assert.False(t, fromFile)
		assert.Len(t, pose.JointAngles, 5)
	})
}

func TestClientRegistry(t *testing.T) {
	r := NewClientRegistry()
	assert.Equal(t, 1, r.Add("10.0.0.2"))
	assert.Equal(t, 2, r.Add("10.0.0.2"))
	assert.Equal(t, 1, r.Add("10.0.0.3"))
	assert.Equal(t, 3, r.Total())

	assert.Equal(t, 1, r.Remove("10.0.0.2"))
	assert.Equal(t, 0, r.Remove("10.0.0.3"))
	assert.Equal(t, 0, r.Remove("10.0.0.9"))
	assert.Equal(t, map[string]int{"10.0.0.2": 1}, r.Snapshot())
}

func hardwareSim() hardware.Config {
	return hardware.Config{Simulate: true}
}
