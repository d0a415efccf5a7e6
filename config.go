package lpstream

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// ErrInvalidConfig is returned when a configuration file fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the file form of the connection and server options.
//
//	addr = "127.0.0.1:12345"
//	max_frame_size = 1048576
//	idle_timeout = "30s"
type Config struct {
	Addr            string        `toml:"addr"`
	MaxFrameSize    int           `toml:"max_frame_size"`
	BufferSize      int           `toml:"buffer_size"`
	ReadBufferSize  int           `toml:"read_buffer_size"`
	PoolSlots       int           `toml:"pool_slots"`
	CopyMessages    bool          `toml:"copy_messages"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:12345",
		MaxFrameSize:   defaultMaxFrameSize,
		BufferSize:     defaultBufferSize,
		ReadBufferSize: defaultReadBufferSize,
		PoolSlots:      DefaultPoolSlots,
		IdleTimeout:    defaultIdleTimeout,
	}
}

// LoadConfig reads a TOML file. Keys missing from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Wrapf(ErrInvalidConfig, "unknown key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every value is usable.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.Wrap(ErrInvalidConfig, "addr is required")
	case c.MaxFrameSize < 0 || c.MaxFrameSize > MaxMessageLength:
		return errors.Wrapf(ErrInvalidConfig, "max_frame_size %d out of range", c.MaxFrameSize)
	case c.BufferSize < 0:
		return errors.Wrapf(ErrInvalidConfig, "buffer_size %d is negative", c.BufferSize)
	case c.ReadBufferSize < 0:
		return errors.Wrapf(ErrInvalidConfig, "read_buffer_size %d is negative", c.ReadBufferSize)
	case c.PoolSlots < 0:
		return errors.Wrapf(ErrInvalidConfig, "pool_slots %d is negative", c.PoolSlots)
	case c.IdleTimeout < 0 || c.ShutdownTimeout < 0:
		return errors.Wrap(ErrInvalidConfig, "timeouts must not be negative")
	}
	return nil
}

// Options converts the configuration into connection options.
// Each call creates a fresh prefix pool.
func (c Config) Options() []Option {
	return []Option{
		MaxFrameSizeOption(c.MaxFrameSize),
		BufferSizeOption(c.BufferSize),
		ReadBufferSizeOption(c.ReadBufferSize),
		CopyMessagesOption(c.CopyMessages),
		IdleTimeoutOption(c.IdleTimeout),
		PoolOption(NewLockedPool(NewPrefixPool(c.PoolSlots))),
	}
}

// ServerOptions converts the configuration into server options.
func (c Config) ServerOptions() []ServerOption {
	return []ServerOption{
		ServerShutdownTimeoutOption(c.ShutdownTimeout),
	}
}
