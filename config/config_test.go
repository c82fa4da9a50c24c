package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	require.NoError(t, Load(""))

	assert.Equal(t, 3, C.Server.LobbySize)
	assert.Equal(t, 24, C.Server.SulHertz)
	assert.Equal(t, 600000, C.Server.SulDuration)
	assert.Equal(t, "default-balance-engine", C.Server.BusTopic)
	assert.Equal(t, "queue", C.Server.QueueGroup)
	assert.True(t, C.UDP.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "server:\n  lobbySize: 4\n  busTopic: custom\nredis:\n  addr: redis:6379\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("RGS_SERVER_SULHERTZ", "30")

	require.NoError(t, Load(path))
	assert.Equal(t, 4, C.Server.LobbySize)
	assert.Equal(t, "custom", C.Server.BusTopic)
	assert.Equal(t, "redis:6379", C.Redis.Addr)
	assert.Equal(t, 30, C.Server.SulHertz)
}

func TestLoadRejectsZeroLobby(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  lobbySize: 0\n"), 0o600))

	err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadRejectsTickRateOutOfRange(t *testing.T) {
	for _, hz := range []string{"0", "1001", "2000000000"} {
		t.Setenv("RGS_SERVER_SULHERTZ", hz)
		assert.ErrorIs(t, Load(""), ErrInvalid, "sulHertz=%s", hz)
	}
	t.Setenv("RGS_SERVER_SULHERTZ", "1000")
	assert.NoError(t, Load(""))
}

func TestEnvOverridesKeysAbsentFromFile(t *testing.T) {
	t.Setenv("RGS_JWT_SECRET", "s3cret")
	t.Setenv("RGS_TELEMETRY_ENDPOINT", "http://collector:4318/v1/traces")

	require.NoError(t, Load(""))
	assert.Equal(t, "s3cret", C.JWT.Secret)
	assert.Equal(t, "http://collector:4318/v1/traces", C.Telemetry.Endpoint)
}
