package lpstream

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lpstream.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
addr = "0.0.0.0:9000"
max_frame_size = 65536
buffer_size = 16
copy_messages = true
idle_timeout = "10s"
shutdown_timeout = "2s"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, 65536, cfg.MaxFrameSize)
	assert.Equal(t, 16, cfg.BufferSize)
	assert.True(t, cfg.CopyMessages)
	assert.Equal(t, 10*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)

	// untouched keys keep their defaults
	assert.Equal(t, defaultReadBufferSize, cfg.ReadBufferSize)
	assert.Equal(t, DefaultPoolSlots, cfg.PoolSlots)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		invalid bool
	}{
		{name: "syntax", body: `addr = `},
		{name: "unknown key", body: `frame_size = 10`, invalid: true},
		{name: "negative buffer", body: `buffer_size = -1`, invalid: true},
		{name: "empty addr", body: `addr = ""`, invalid: true},
		{name: "frame too large", body: `max_frame_size = 4294967296`, invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, ErrInvalidConfig), "error: %v", err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFrameSize = 128
	cfg.CopyMessages = true
	cfg.ShutdownTimeout = time.Second

	opts := buildOptions(cfg.Options())
	assert.Equal(t, 128, opts.maxFrameSize)
	assert.True(t, opts.copyMessages)
	assert.Equal(t, defaultIdleTimeout, opts.idleTimeout)
	require.NotNil(t, opts.pool)
	assert.Len(t, opts.pool.Acquire(PrefixLength), PrefixLength)

	s := &Server{}
	for _, o := range cfg.ServerOptions() {
		o(s)
	}
	assert.Equal(t, time.Second, s.shutdownTimeout)
}
