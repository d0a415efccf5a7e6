// Package lpstream implements length-prefixed message framing over byte
// streams. Each frame is a 4-byte little-endian length followed by that many
// payload bytes; a stream is frames back to back with nothing in between.
//
// The Encoder and Decoder are push-based stages driven by their caller. The
// Reader, Conn and Server types build pull-based and TCP transports on top.
package lpstream

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const (
	// PrefixLength is the size of the length header in bytes.
	PrefixLength = 4
	// MaxMessageLength is the largest payload a frame may carry.
	MaxMessageLength = math.MaxInt32
)

// Errors returned by the framing stages.
var (
	// ErrInvalidSink is returned when an encoder is created without a sink.
	ErrInvalidSink = errors.New("invalid sink")
	// ErrInvalidOnFrame is returned when a decoder has no frame handler.
	ErrInvalidOnFrame = errors.New("invalid on frame callback")
	// ErrFrameTooLarge is returned when a frame length exceeds the limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Sink receives encoded chunks in stream order. Chunks alias pool memory and
// the caller's message; a Sink that keeps them must not modify them.
type Sink interface {
	Push(chunk []byte) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(chunk []byte) error

// Push calls f(chunk).
func (f SinkFunc) Push(chunk []byte) error {
	return f(chunk)
}

type writerSink struct {
	w io.Writer
}

// WriterSink returns a Sink that writes every chunk to w.
func WriterSink(w io.Writer) Sink {
	return writerSink{w: w}
}

func (s writerSink) Push(chunk []byte) error {
	_, err := s.w.Write(chunk)
	return err
}

// AppendFrame appends the framed form of msg to dst and returns the
// extended slice.
func AppendFrame(dst, msg []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(msg)))
	return append(dst, msg...)
}
