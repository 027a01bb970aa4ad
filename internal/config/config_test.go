package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.True(t, c.VCSpamFilter)
	assert.True(t, c.SecretGenerated)
	assert.NotEmpty(t, c.Secret)

	lc := c.Lounge()
	assert.Equal(t, 600*time.Second, lc.SignInterval)
	assert.Equal(t, 60*time.Second, lc.VoiceInterval)
	assert.Zero(t, lc.MediaLimitPeriod)
	assert.Zero(t, lc.AFKTimeout)
	assert.Equal(t, 24*time.Hour, c.CacheRetention())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOUNGE_ENABLE_SIGNING", "true")
	t.Setenv("LOUNGE_AFK_TIMEOUT", "30")
	t.Setenv("LOUNGE_BLACKLIST_CONTACT", "@mods")
	t.Setenv("LOUNGE_SECRET", "fixed")

	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.EnableSigning)
	assert.Equal(t, "@mods", c.BlacklistContact)
	assert.False(t, c.SecretGenerated)
	assert.Equal(t, 30*time.Minute, c.Lounge().AFKTimeout)
	assert.Equal(t, []byte("fixed"), c.Lounge().Secret)
}

func TestBadEnv(t *testing.T) {
	t.Setenv("LOUNGE_CACHE_SIZE", "lots")
	_, err := Load("")
	assert.Error(t, err)
}

func TestFileOverridesEnv(t *testing.T) {
	t.Setenv("LOUNGE_BLACKLIST_CONTACT", "@env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
blacklist_contact: "@file"
enable_signing: true
allow_remove_command: true
media_limit_period: 12
vc_spamfilter: false
sign_limit_interval: 1
afk_timeout: 90
secret: abc
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	lc := c.Lounge()
	assert.Equal(t, "@file", lc.BlacklistContact)
	assert.True(t, lc.EnableSigning)
	assert.True(t, lc.AllowRemoveCommand)
	assert.Equal(t, 12*time.Hour, lc.MediaLimitPeriod)
	assert.False(t, lc.VoiceSpamFilter)
	assert.Equal(t, time.Second, lc.SignInterval)
	assert.Equal(t, 90*time.Minute, lc.AFKTimeout)
	assert.Equal(t, 60*time.Second, lc.VoiceInterval)
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voice_interval: 0\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
