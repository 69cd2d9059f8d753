package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5900", c.Server.Listen)
	assert.Equal(t, "jpeg2vnc", c.Server.Name)
	assert.Equal(t, 640, c.Server.Width)
	assert.Equal(t, 480, c.Server.Height)
	assert.Equal(t, 0, c.Input.Index)
	assert.True(t, c.Input.Pattern)
	assert.Equal(t, 4<<20, c.Frame.MaxSize)
	assert.Equal(t, "go", c.Decode.Codec)
	assert.Equal(t, 5*time.Second, c.ShutdownTimeout)
	assert.Equal(t, "info", c.Log.Level)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("JPEG2VNC_SERVER_LISTEN", "127.0.0.1:5901")
	t.Setenv("JPEG2VNC_INPUT_INDEX", "1")
	t.Setenv("JPEG2VNC_SHUTDOWN_TIMEOUT", "250ms")

	c, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5901", c.Server.Listen)
	assert.Equal(t, 1, c.Input.Index)
	assert.Equal(t, 250*time.Millisecond, c.ShutdownTimeout)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jpeg2vnc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  name: Test Display
  password: secret
input:
  url: http://camera:8080/?action=stream
  pattern: false
shutdown_timeout: 2s
`), 0o644))

	c, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "Test Display", c.Server.Name)
	assert.Equal(t, "secret", c.Server.Password)
	assert.Equal(t, "http://camera:8080/?action=stream", c.Input.URL)
	assert.False(t, c.Input.Pattern)
	assert.Equal(t, 2*time.Second, c.ShutdownTimeout)
	assert.Equal(t, "0.0.0.0:5900", c.Server.Listen, "unset keys keep defaults")
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestFlagsOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("listen", "", "")
	fs.Int("width", 0, "")
	fs.Int("input", 0, "")
	require.NoError(t, fs.Parse([]string{"--listen", ":5999", "--input", "1"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	c, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, ":5999", c.Server.Listen)
	assert.Equal(t, 1, c.Input.Index)
	assert.Equal(t, 640, c.Server.Width, "unchanged flags keep the default")
}
