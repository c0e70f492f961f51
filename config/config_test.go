package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Timeline.DebounceDelay)
	assert.Equal(t, 200, cfg.Timeline.ChunkSize)
	assert.Equal(t, uint(3), cfg.Pipeline.RetryTries)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50.0, cfg.Server.RateLimit)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoadFrom_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timeline.yaml")
	body := `
database:
  driver: sqlite
  dsn: "file::memory:"
timeline:
  chunk_size: 40
  debounce_delay: 500ms
mute:
  keywords: ["spoiler", "giveaway"]
  user_ids: [42]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("TIMELINE_TIMELINE_PAGE_SIZE", "25")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Timeline.ChunkSize)
	assert.Equal(t, 25, cfg.Timeline.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Timeline.DebounceDelay)
	assert.Equal(t, []string{"spoiler", "giveaway"}, cfg.Mute.Keywords)
	assert.Equal(t, []int64{42}, cfg.Mute.UserIDs)
}

func TestLoadFrom_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("TIMELINE_DATABASE_DRIVER", "mysql")

	_, err := LoadFrom("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}
