package lpstream

import (
	"io"
	"iter"

	"github.com/pkg/errors"
)

const (
	defaultReadBufferSize = 4096
	// maxConsecutiveEmptyReads bounds reads returning no data and no error.
	maxConsecutiveEmptyReads = 100
)

// Reader pulls messages from an io.Reader one at a time.
// Messages returned by Next are owned by the caller.
type Reader struct {
	r       io.Reader
	dec     *Decoder
	buf     []byte
	pending [][]byte
	err     error
}

// NewReader returns a Reader decoding frames from r. MaxFrameSizeOption,
// ReadBufferSizeOption and LoggerOption are honoured.
func NewReader(r io.Reader, opt ...Option) *Reader {
	opts := buildOptions(opt)
	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	rd := &Reader{r: r, buf: make([]byte, opts.readBufferSize)}

	// The read buffer is reused, so queued messages must be copies.
	opt = append(opt[:len(opt):len(opt)],
		CopyMessagesOption(true),
		OnFrameOption(func(msg []byte) error {
			rd.pending = append(rd.pending, msg)
			return nil
		}),
	)
	// NewDecoder only fails without a frame handler.
	rd.dec, _ = NewDecoder(opt...)
	return rd
}

// Next returns the next message. It returns io.EOF when the source ends on
// a frame boundary and io.ErrUnexpectedEOF when it ends inside a frame.
func (r *Reader) Next() ([]byte, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		r.fill()
	}

	msg := r.pending[0]
	r.pending[0] = nil
	r.pending = r.pending[1:]
	return msg, nil
}

// Frames returns an iterator over the remaining messages. Iteration stops
// after the first error; a clean end of stream yields no error.
func (r *Reader) Frames() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			msg, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(msg, err) || err != nil {
				return
			}
		}
	}
}

func (r *Reader) fill() {
	var (
		n   int
		err error
	)
	for i := 0; n == 0 && err == nil; i++ {
		if i == maxConsecutiveEmptyReads {
			r.err = io.ErrNoProgress
			r.dec.CloseWithError(r.err)
			return
		}
		n, err = r.r.Read(r.buf)
	}

	if n > 0 {
		if _, derr := r.dec.Write(r.buf[:n]); derr != nil {
			r.err = derr
			return
		}
	}

	switch {
	case err == io.EOF:
		if r.dec.inFrame() {
			r.err = io.ErrUnexpectedEOF
		} else {
			r.err = io.EOF
		}
		_ = r.dec.Close()
	case err != nil:
		r.err = errors.Wrap(err, "read frame")
		r.dec.CloseWithError(r.err)
	}
}
