package lpstream

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Encoder turns messages into frames and pushes them to a Sink.
// Every Encode call pushes exactly two chunks, the length prefix and then
// the message itself, without copying the message.
//
// An Encoder is not safe for concurrent use.
type Encoder struct {
	sink   Sink
	pool   Allocator
	logger Logger
	opts   options

	closed bool
}

// NewEncoder creates an encoder writing to sink.
func NewEncoder(sink Sink, opt ...Option) (*Encoder, error) {
	if sink == nil {
		return nil, ErrInvalidSink
	}

	opts := buildOptions(opt)
	if opts.pool == nil {
		opts.pool = NewPrefixPool(DefaultPoolSlots)
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return &Encoder{
		sink:   sink,
		pool:   opts.pool,
		logger: opts.logger,
		opts:   opts,
	}, nil
}

// Encode pushes one frame carrying msg. The caller must not modify msg
// until the sink is done with it.
//
// Encode on a closed encoder drops the message and returns nil.
func (e *Encoder) Encode(msg []byte) error {
	if e.closed {
		return nil
	}
	if e.opts.maxFrameSize > 0 && len(msg) > e.opts.maxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "encode %d bytes", len(msg))
	}

	prefix := e.pool.Acquire(PrefixLength)
	binary.LittleEndian.PutUint32(prefix, uint32(len(msg)))

	if err := e.sink.Push(prefix); err != nil {
		return e.fail(errors.Wrap(err, "push prefix"))
	}
	if err := e.sink.Push(msg); err != nil {
		return e.fail(errors.Wrap(err, "push payload"))
	}
	return nil
}

// Close closes the encoder. Safe to call multiple times.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.opts.onClose != nil {
		e.opts.onClose()
	}
	return nil
}

// CloseWithError terminates the encoder with err. The abort callback fires
// once, followed by the close callback. Later calls are ignored.
func (e *Encoder) CloseWithError(err error) {
	if e.closed {
		return
	}
	e.logger.Debug("encoder aborted", "error", err)
	if e.opts.onAbort != nil {
		e.opts.onAbort(err)
	}
	_ = e.Close()
}

// Closed reports whether the encoder has been closed.
func (e *Encoder) Closed() bool {
	return e.closed
}

func (e *Encoder) fail(err error) error {
	e.CloseWithError(err)
	return err
}
