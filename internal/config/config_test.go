package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"beatrice/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, ":55556", cfg.Server.Address)
	require.Equal(t, 64, cfg.Server.MaxConnections)
	require.Equal(t, 5000, cfg.Server.HandshakeTimeout)
	require.Equal(t, 5000, cfg.Server.WriteTimeout)
	require.Equal(t, "INFO", cfg.Logging.Level)
	require.False(t, cfg.Logging.Disable)
}

func TestLoadTOML(t *testing.T) {
	doc := `
[Server]
Address = "127.0.0.1:7000"
MaxConnections = 8
HandshakeTimeout = 2500
IdleAwayAfter = 60

[Logging]
Level = "DEBUG"
`
	cfg, err := config.Load([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", cfg.Server.Address)
	require.Equal(t, 8, cfg.Server.MaxConnections)
	require.Equal(t, 2500, cfg.Server.HandshakeTimeout)
	require.Equal(t, 60, cfg.Server.IdleAwayAfter)
	require.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoadRejectsBadLevel(t *testing.T) {
	_, err := config.Load([]byte("[Logging]\nLevel = \"LOUD\"\n"))
	require.Error(t, err)
}

func TestLoadRejectsNegativeTimeout(t *testing.T) {
	_, err := config.Load([]byte("[Server]\nHandshakeTimeout = -1\n"))
	require.Error(t, err)

	_, err = config.Load([]byte("[Server]\nWriteTimeout = -1\n"))
	require.Error(t, err)
}
