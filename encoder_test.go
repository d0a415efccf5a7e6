package lpstream

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEncoder_MissingSink(t *testing.T) {
	_, err := NewEncoder(nil)
	assert.Equal(t, ErrInvalidSink, err)
}

func TestEncoder_Encode(t *testing.T) {
	var chunks [][]byte
	enc, err := NewEncoder(SinkFunc(func(chunk []byte) error {
		chunks = append(chunks, chunk)
		return nil
	}))
	require.NoError(t, err)

	msg := []byte("hello")
	require.NoError(t, enc.Encode(msg))

	require.Len(t, chunks, 2)
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x00}, chunks[0])
	assert.Equal(t, msg, chunks[1])
	// payload is pushed without copying
	assert.Same(t, &msg[0], &chunks[1][0])
}

func TestEncoder_EmptyMessage(t *testing.T) {
	var out bytes.Buffer
	enc, err := NewEncoder(WriterSink(&out))
	require.NoError(t, err)

	require.NoError(t, enc.Encode(nil))
	require.NoError(t, enc.Encode([]byte{}))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, out.Bytes())
}

func TestEncoder_MatchesAppendFrame(t *testing.T) {
	var out bytes.Buffer
	enc, err := NewEncoder(WriterSink(&out))
	require.NoError(t, err)

	require.NoError(t, enc.Encode([]byte("ab")))
	require.NoError(t, enc.Encode([]byte("cd")))
	assert.Equal(t, frames("ab", "cd"), out.Bytes())
}

func TestEncoder_CloseIsIdempotent(t *testing.T) {
	var out bytes.Buffer
	closed := 0
	enc, err := NewEncoder(WriterSink(&out), OnCloseOption(func() { closed++ }))
	require.NoError(t, err)

	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())
	assert.Equal(t, 1, closed)
	assert.True(t, enc.Closed())

	// dropped, not an error
	require.NoError(t, enc.Encode([]byte("late")))
	assert.Zero(t, out.Len())
}

func TestEncoder_CloseWithError(t *testing.T) {
	var events []string
	enc, err := NewEncoder(WriterSink(&bytes.Buffer{}),
		OnAbortOption(func(err error) { events = append(events, "error:"+err.Error()) }),
		OnCloseOption(func() { events = append(events, "close") }),
	)
	require.NoError(t, err)

	enc.CloseWithError(errors.New("boom"))
	enc.CloseWithError(errors.New("again"))
	require.NoError(t, enc.Close())

	assert.Equal(t, []string{"error:boom", "close"}, events)
}

func TestEncoder_SinkError(t *testing.T) {
	sinkErr := errors.New("sink broken")
	var aborted error
	enc, err := NewEncoder(
		SinkFunc(func([]byte) error { return sinkErr }),
		OnAbortOption(func(err error) { aborted = err }),
	)
	require.NoError(t, err)

	err = enc.Encode([]byte("x"))
	assert.True(t, errors.Is(err, sinkErr))
	assert.True(t, errors.Is(aborted, sinkErr))
	assert.True(t, enc.Closed())
	assert.NoError(t, enc.Encode([]byte("y")))
}

func TestEncoder_MaxFrameSize(t *testing.T) {
	var out bytes.Buffer
	enc, err := NewEncoder(WriterSink(&out), MaxFrameSizeOption(3))
	require.NoError(t, err)

	err = enc.Encode([]byte("toolong"))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
	assert.Zero(t, out.Len())
	assert.False(t, enc.Closed())

	require.NoError(t, enc.Encode([]byte("ok")))
	assert.Equal(t, frames("ok"), out.Bytes())
}

func TestEncoder_PrefixesSurvivePoolRollover(t *testing.T) {
	// Retain every chunk and decode only at the end: if a prefix region were
	// reused after a block rollover, earlier frames would be corrupted.
	var chunks [][]byte
	enc, err := NewEncoder(
		SinkFunc(func(chunk []byte) error {
			chunks = append(chunks, chunk)
			return nil
		}),
		PoolOption(NewPrefixPool(2)),
	)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 25; i++ {
		msg := bytes.Repeat([]byte{byte('a' + i)}, i)
		want = append(want, string(msg))
		require.NoError(t, enc.Encode(msg))
	}

	dec, rec := newRecordingDecoder(t)
	for _, c := range chunks {
		_, err := dec.Write(c)
		require.NoError(t, err)
	}

	got := make([]string, len(rec.msgs))
	for i, m := range rec.msgs {
		got[i] = string(m)
	}
	assert.Equal(t, want, got)
}
