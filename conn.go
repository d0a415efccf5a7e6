package lpstream

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Conn is a TCP connection carrying length-prefixed messages.
// The read loop feeds everything it receives into a Decoder; the write loop
// sends frames produced by an Encoder.
type Conn struct {
	rawConn *net.TCPConn
	logger  Logger
	opts    options

	decoder *Decoder
	readBuf []byte

	encMu   sync.Mutex
	encoder *Encoder
	frame   net.Buffers

	sendMsg chan net.Buffers
	closed  atomic.Bool

	// done is closed once the loops are stopping or Close was called.
	done     chan struct{}
	doneOnce sync.Once

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Default configuration values.
const (
	// defaultBufferSize is the default size of the message channel buffer.
	defaultBufferSize = 1
	// defaultMaxFrameSize is the default maximum size of a single message (1MB).
	defaultMaxFrameSize = 1024 * 1024
	// defaultIdleTimeout is the default idle interval of a connection.
	defaultIdleTimeout = 30 * time.Second
)

// NewConn wraps the given TCP connection.
// It applies the provided options and validates them before returning.
// Returns an error if OnMessageOption is missing.
func NewConn(conn *net.TCPConn, opt ...Option) (*Conn, error) {
	opts := buildOptions(opt)

	err := checkOptions(&opts)
	if err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// Dial connects to addr and wraps the resulting connection.
func Dial(ctx context.Context, addr string, opt ...Option) (*Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	c, err := NewConn(raw.(*net.TCPConn), opt...)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return c, nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxFrameSize <= 0 {
		opts.maxFrameSize = defaultMaxFrameSize
	}

	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.idleTimeout <= 0 {
		opts.idleTimeout = defaultIdleTimeout
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.pool == nil {
		opts.pool = NewPrefixPool(DefaultPoolSlots)
	}

	return nil
}

func newConnWithOptions(raw *net.TCPConn, opts options) *Conn {
	c := &Conn{
		rawConn: raw,
		logger:  opts.logger,
		opts:    opts,
		readBuf: make([]byte, opts.readBufferSize),
		sendMsg: make(chan net.Buffers, opts.bufferSize),
		done:    make(chan struct{}),
	}

	// Stage callbacks belong to standalone stages; a connection reports
	// through Run's return value instead.
	stageOpts := opts
	stageOpts.onAbort = nil
	stageOpts.onClose = nil

	decOpts := stageOpts
	decOpts.onFrame = func(msg []byte) error {
		return c.opts.onMessage(c, msg)
	}
	c.decoder = &Decoder{opts: decOpts, logger: opts.logger}

	sink := SinkFunc(func(chunk []byte) error {
		c.frame = append(c.frame, chunk)
		return nil
	})
	c.encoder = &Encoder{sink: sink, pool: opts.pool, logger: opts.logger, opts: stageOpts}

	return c
}

// Run starts the connection's read and write loops.
// It blocks until an error occurs or the context is canceled.
// The connection is closed when Run returns and any partially received
// frame is discarded.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "addr", c.Addr())
	c.logger.Debug("connection options", "addr", c.Addr(),
		"buffer_size", c.opts.bufferSize,
		"max_frame_size", c.opts.maxFrameSize,
		"read_buffer_size", c.opts.readBufferSize,
		"idle_timeout", c.opts.idleTimeout)

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	// A blocked Read does not observe the context; closing the socket does.
	// Writers parked on a full send queue are released through done.
	group.Go(func() error {
		<-child.Done()
		c.markDone()
		_ = c.rawConn.Close()
		return nil
	})

	err := group.Wait()
	cancel()
	c.closeConn()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Info("connection closed", "addr", c.Addr())
	}

	return err
}

// Close closes the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.markDone()

	c.encMu.Lock()
	_ = c.encoder.Close()
	c.encMu.Unlock()

	return c.rawConn.Close()
}

func (c *Conn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// ErrBufferFull is returned when the send buffer is full and cannot accept more messages.
// This error indicates backpressure - the receiver is not consuming messages fast enough.
// Recommended handling strategies:
//   - Drop the message (for non-critical data like metrics)
//   - Use WriteBlocking or WriteTimeout to wait for buffer space
//   - Implement application-level flow control
var ErrBufferFull = errors.New("send buffer full")

// Write queues msg for sending without blocking (fire-and-forget).
// msg is sent without copying, so it must not be modified afterwards.
//
// Returns:
//   - nil: message was successfully queued (not yet sent)
//   - ErrBufferFull: send buffer is full, message was NOT queued
//   - ErrConnectionClosed: connection is closed
//   - ErrFrameTooLarge: msg exceeds the maximum frame size
func (c *Conn) Write(msg []byte) error {
	frame, err := c.encode(msg)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking queues msg, blocking until there is room in the send
// buffer, the context is canceled or the connection stops.
//
// Returns:
//   - nil: message was successfully queued
//   - context.Canceled or context.DeadlineExceeded: context was canceled
//   - ErrConnectionClosed: connection is closed
//   - ErrFrameTooLarge: msg exceeds the maximum frame size
func (c *Conn) WriteBlocking(ctx context.Context, msg []byte) error {
	frame, err := c.encode(msg)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrConnectionClosed
	}
}

// WriteTimeout queues msg, waiting at most timeout for room in the send
// buffer. It returns ErrBufferFull when the timeout expires.
func (c *Conn) WriteTimeout(msg []byte, timeout time.Duration) error {
	frame, err := c.encode(msg)
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.sendMsg <- frame:
		return nil
	case <-timer.C:
		return ErrBufferFull
	case <-c.done:
		return ErrConnectionClosed
	}
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// encode frames msg. The encoder and its prefix pool are single-threaded,
// so concurrent writers take turns.
func (c *Conn) encode(msg []byte) (net.Buffers, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	c.encMu.Lock()
	defer c.encMu.Unlock()

	if c.encoder.Closed() {
		return nil, ErrConnectionClosed
	}

	c.frame = make(net.Buffers, 0, 2)
	if err := c.encoder.Encode(msg); err != nil {
		return nil, err
	}
	frame := c.frame
	c.frame = nil
	return frame, nil
}

// readLoop reads chunks from the connection and pushes them into the decoder,
// which calls the message handler for every completed frame.
// Returns when the context is canceled or an unrecoverable error occurs.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout * 2))

			n, err := c.rawConn.Read(c.readBuf)
			if n > 0 {
				if _, derr := c.decoder.Write(c.readBuf[:n]); derr != nil {
					c.logger.Debug("decode error", "addr", c.Addr(), "error", derr)
					return derr
				}
			}

			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Debug("read error", "addr", c.Addr(), "error", err)
				// End of stream and a closed socket are terminal.
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return errors.Wrap(err, "read")
				}
				if c.opts.onError(err) == Disconnect {
					return errors.Wrap(err, "read")
				}
			}
		}
	}
}

// writeLoop sends queued frames until the context is canceled or a write fails.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-c.sendMsg:
			if err := c.write(frame); err != nil {
				return err
			}
		}
	}
}

// write sends one frame with a single vectored write.
// If the error callback returns Continue, the error is suppressed.
func (c *Conn) write(frame net.Buffers) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.idleTimeout * 2))

	_, err := frame.WriteTo(c.rawConn)

	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}

// closeConn marks the connection closed and drops decoder state.
// Only called once both loops have stopped.
func (c *Conn) closeConn() {
	_ = c.decoder.Close()
	_ = c.Close()
}
