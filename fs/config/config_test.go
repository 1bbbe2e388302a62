package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Empty(t, cfg.Mounts)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smashfs.conf")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = debug
poll_interval = 2s

[Work]
path = /srv/amiga/work

[Data]
path = /srv/amiga/data
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Len(t, cfg.Mounts, 2)
	assert.Equal(t, Mount{Name: "Work", Root: "/srv/amiga/work"}, cfg.Mounts[0])
	assert.Equal(t, Mount{Name: "Data", Root: "/srv/amiga/data"}, cfg.Mounts[1])
}

func TestLoadBadInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smashfs.conf")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval = soon\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadVolumeWithoutPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smashfs.conf")
	require.NoError(t, os.WriteFile(path, []byte("[Broken]\nname = x\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
