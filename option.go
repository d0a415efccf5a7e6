package lpstream

import (
	"time"
)

// ErrorAction defines the action to take when an error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration shared by encoders, decoders, readers and
// connections. Each constructor reads the fields it cares about.
type options struct {
	logger Logger
	pool   Allocator

	// onFrame receives decoded messages from a bare Decoder.
	onFrame func(msg []byte) error
	// onMessage receives decoded messages from a Conn.
	onMessage func(c *Conn, msg []byte) error
	// onError is called when a connection read or write fails.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction
	onAbort func(error)
	onClose func()

	maxFrameSize   int  // largest accepted payload, 0 for no limit
	copyMessages   bool // hand out owned copies instead of borrowed views
	bufferSize     int  // size of the send queue
	readBufferSize int  // bytes requested per read from the transport
	idleTimeout    time.Duration
}

// Option is a function that configures options.
type Option func(*options)

func buildOptions(opt []Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// PoolOption sets the allocator used for length prefixes.
// By default every encoder owns a private PrefixPool.
func PoolOption(pool Allocator) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// OnFrameOption sets the handler a Decoder calls for each message.
// Unless CopyMessagesOption is set, msg may alias the chunk passed to Write
// and is only valid until Write returns.
func OnFrameOption(cb func(msg []byte) error) Option {
	return func(o *options) {
		o.onFrame = cb
	}
}

// OnMessageOption sets the message handler of a connection.
// This callback is required and is invoked for each received message.
// msg is only valid until the callback returns unless CopyMessagesOption is set.
func OnMessageOption(cb func(c *Conn, msg []byte) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// OnErrorOption returns an Option that sets the connection error callback.
// The callback is invoked when a read/write error occurs.
// Return Disconnect to close the connection, or Continue to suppress the error.
// Framing errors always disconnect.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnAbortOption sets the callback fired once when a stage is terminated by
// an error. It always runs before the close callback.
func OnAbortOption(cb func(err error)) Option {
	return func(o *options) {
		o.onAbort = cb
	}
}

// OnCloseOption sets the callback fired once when a stage closes.
func OnCloseOption(cb func()) Option {
	return func(o *options) {
		o.onClose = cb
	}
}

// MaxFrameSizeOption limits the payload length of a single frame.
// Decoders treat a larger announced length as a protocol violation;
// encoders refuse to emit it.
func MaxFrameSizeOption(size int) Option {
	return func(o *options) {
		o.maxFrameSize = size
	}
}

// CopyMessagesOption makes decoders hand out messages the consumer owns,
// trading a copy per frame for a simpler lifetime.
func CopyMessagesOption(enabled bool) Option {
	return func(o *options) {
		o.copyMessages = enabled
	}
}

// BufferSizeOption returns an Option that sets the size of the send channel buffer.
// A larger buffer allows more messages to be queued before blocking.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// ReadBufferSizeOption sets how many bytes are read from the transport at a time.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// IdleTimeoutOption sets the idle interval of a connection.
// Read and write deadlines are set to twice this value.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
