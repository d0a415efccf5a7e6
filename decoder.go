package lpstream

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Decoder rebuilds messages from a byte stream delivered in chunks of any
// size. Each Write drains the whole chunk, calling the frame handler once
// per completed frame in stream order.
//
// A frame that lies entirely inside one chunk is handed out as a slice of
// that chunk; frames spanning chunks are assembled in a buffer sized to the
// announced length. Closing discards any partial frame.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	opts   options
	logger Logger

	// missing is the number of payload bytes still expected. Zero means the
	// decoder is scanning for a prefix.
	missing int
	// ptr counts prefix bytes held in prefix while scanning, or payload
	// bytes held in message while accumulating.
	ptr     int
	prefix  [PrefixLength]byte
	message []byte

	closed bool
}

// NewDecoder creates a decoder. OnFrameOption is required.
func NewDecoder(opt ...Option) (*Decoder, error) {
	opts := buildOptions(opt)
	if opts.onFrame == nil {
		return nil, ErrInvalidOnFrame
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return &Decoder{opts: opts, logger: opts.logger}, nil
}

// Write feeds chunk into the decoder. It returns len(chunk) once every byte
// has been consumed. If the frame handler fails or a frame is too large,
// the decoder is aborted and Write returns the error together with the
// number of bytes consumed up to that point.
//
// Writes to a closed decoder are ignored.
func (d *Decoder) Write(chunk []byte) (int, error) {
	off := 0
	for !d.closed && off < len(chunk) {
		var err error
		if d.missing > 0 {
			off, err = d.parseMessage(chunk, off)
		} else {
			off, err = d.parseLength(chunk, off)
		}
		if err != nil {
			d.CloseWithError(err)
			return off, err
		}
	}
	return len(chunk), nil
}

// Close closes the decoder, dropping any partially received frame.
// Safe to call multiple times.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.message = nil
	d.ptr = 0
	d.missing = 0
	if d.opts.onClose != nil {
		d.opts.onClose()
	}
	return nil
}

// CloseWithError aborts the decoder with err. The abort callback fires once,
// followed by the close callback. Later calls are ignored.
func (d *Decoder) CloseWithError(err error) {
	if d.closed {
		return
	}
	d.logger.Debug("decoder aborted", "buffered", d.Buffered(), "error", err)
	if d.opts.onAbort != nil {
		d.opts.onAbort(err)
	}
	_ = d.Close()
}

// Closed reports whether the decoder has been closed.
func (d *Decoder) Closed() bool {
	return d.closed
}

// Buffered returns how many bytes of the frame in progress are held by the
// decoder, prefix bytes while scanning or payload bytes while accumulating.
func (d *Decoder) Buffered() int {
	return d.ptr
}

func (d *Decoder) inFrame() bool {
	return d.missing > 0 || d.ptr > 0
}

func (d *Decoder) parseLength(chunk []byte, off int) (int, error) {
	if d.ptr == 0 && len(chunk)-off >= PrefixLength {
		n := binary.LittleEndian.Uint32(chunk[off:])
		return off + PrefixLength, d.begin(n)
	}

	n := copy(d.prefix[d.ptr:], chunk[off:])
	d.ptr += n
	off += n

	if d.ptr == PrefixLength {
		d.ptr = 0
		return off, d.begin(binary.LittleEndian.Uint32(d.prefix[:]))
	}
	return off, nil
}

func (d *Decoder) begin(length uint32) error {
	if length > MaxMessageLength ||
		(d.opts.maxFrameSize > 0 && int64(length) > int64(d.opts.maxFrameSize)) {
		return errors.Wrapf(ErrFrameTooLarge, "announced length %d", length)
	}
	if length == 0 {
		return d.emit([]byte{})
	}
	d.missing = int(length)
	return nil
}

func (d *Decoder) parseMessage(chunk []byte, start int) (int, error) {
	free := len(chunk) - start
	missing := d.missing

	if d.ptr == 0 && missing <= free {
		end := start + missing
		msg := chunk[start:end:end]
		if d.opts.copyMessages {
			msg = bytes.Clone(msg)
		}
		d.missing = 0
		return end, d.emit(msg)
	}

	if d.ptr == 0 {
		d.message = make([]byte, missing)
	}

	if missing > free {
		copy(d.message[d.ptr:], chunk[start:])
		d.missing -= free
		d.ptr += free
		return len(chunk), nil
	}

	end := start + missing
	copy(d.message[d.ptr:], chunk[start:end])
	msg := d.message
	d.message = nil
	d.ptr = 0
	d.missing = 0
	return end, d.emit(msg)
}

func (d *Decoder) emit(msg []byte) error {
	return d.opts.onFrame(msg)
}
