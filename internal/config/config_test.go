package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "nats", cfg.Transport.Mode)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Transport.NATSURL)
	assert.Equal(t, 24*time.Hour, cfg.Transport.TokenDuration)
	assert.Equal(t, "!", cfg.Bot.CommandPrefix)
	assert.Equal(t, "UTC", cfg.Bot.Timezone)
	assert.Equal(t, 60*time.Second, cfg.Bot.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.Bot.StorageTimeout)
	assert.Equal(t, "/var/lib/sprintbot/sprintbot.db", cfg.Database.Path)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
transport:
  mode: gateway
  gateway_url: wss://gateway.example/ws
  gateway_secret: hunter2
bot:
  command_prefix: "#"
  owner_ids:
    - 12345@chat
  timezone: Europe/Berlin
database:
  path: /tmp/sprints.db
`))
	require.NoError(t, err)

	assert.Equal(t, "gateway", cfg.Transport.Mode)
	assert.Equal(t, "wss://gateway.example/ws", cfg.Transport.GatewayURL)
	assert.Equal(t, "#", cfg.Bot.CommandPrefix)
	assert.Equal(t, "/tmp/sprints.db", cfg.Database.Path)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestIsOwner(t *testing.T) {
	cfg := &Config{}
	cfg.Bot.OwnerIDs = []string{"12345@chat"}

	assert.True(t, cfg.IsOwner("12345@chat"))
	assert.False(t, cfg.IsOwner("12345@chat.example"))
	assert.False(t, cfg.IsOwner("999912345@chat"))
	assert.False(t, cfg.IsOwner(""))
}

func TestSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")

	cfg := &Config{}
	cfg.Transport.Mode = "nats"
	cfg.Bot.CommandPrefix = "!"
	cfg.Database.Path = "/tmp/sprints.db"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats", loaded.Transport.Mode)
	assert.Equal(t, "/tmp/sprints.db", loaded.Database.Path)
}
