package datasource

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *Reader) []Message {
	t.Helper()
	var out []Message
	for {
		msg, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestReaderParsesDatafileAndPing(t *testing.T) {
	input := `{"type":"datafile","data":{"environment":"production","configUpdatedAt":1}}` + "\n" +
		`{"type":"ping"}` + "\n"
	r := NewReader(strings.NewReader(input), nil)
	msgs := readAll(t, r)
	require.Len(t, msgs, 2)
	assert.Equal(t, MessageDatafile, msgs[0].Type)
	assert.Equal(t, "production", msgs[0].Data.Environment)
	assert.Equal(t, MessagePing, msgs[1].Type)
}

func TestReaderSkipsBlankLinesAndUnknownTypes(t *testing.T) {
	input := "\n" + `{"type":"datafile","data":{"environment":"e"}}` + "\n\n" +
		`{"type":"unknown-future-type"}` + "\n"
	r := NewReader(strings.NewReader(input), nil)
	msgs := readAll(t, r)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageDatafile, msgs[0].Type)
}

func TestReaderDiscardsUnparsableLinesWithoutFailingTheStream(t *testing.T) {
	input := `not json at all` + "\n" + `{"type":"ping"}` + "\n"
	r := NewReader(strings.NewReader(input), nil)
	msgs := readAll(t, r)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessagePing, msgs[0].Type)
}

// TestReaderHandlesArbitraryChunkBoundaries feeds the same message sequence
// through a reader one byte at a time, two bytes at a time, and so on, via a
// io.Reader that only ever returns up to n bytes per Read call. The parsed
// sequence must be identical to reading the whole buffer in one shot.
func TestReaderHandlesArbitraryChunkBoundaries(t *testing.T) {
	input := []byte(
		`{"type":"datafile","data":{"environment":"a","configUpdatedAt":1}}` + "\n" +
			`{"type":"ping"}` + "\n" +
			`{"type":"datafile","data":{"environment":"b","configUpdatedAt":2}}` + "\n",
	)

	for chunkSize := 1; chunkSize <= len(input); chunkSize++ {
		r := NewReader(&slowReader{data: input, chunkSize: chunkSize}, nil)
		msgs := readAll(t, r)
		require.Lenf(t, msgs, 3, "chunk size %d", chunkSize)
		assert.Equal(t, "a", msgs[0].Data.Environment)
		assert.Equal(t, MessagePing, msgs[1].Type)
		assert.Equal(t, "b", msgs[2].Data.Environment)
	}
}

func TestReaderHandlesConcatenatedMessagesInOneChunk(t *testing.T) {
	input := `{"type":"ping"}` + "\n" + `{"type":"ping"}` + "\n" + `{"type":"ping"}` + "\n"
	r := NewReader(bytes.NewBufferString(input), nil)
	msgs := readAll(t, r)
	assert.Len(t, msgs, 3)
}

// slowReader returns at most chunkSize bytes per Read call, to exercise the
// reader's buffering across arbitrary chunk boundaries.
type slowReader struct {
	data      []byte
	chunkSize int
	pos       int
}

func (s *slowReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := s.chunkSize
	if n > len(p) {
		n = len(p)
	}
	remaining := len(s.data) - s.pos
	if n > remaining {
		n = remaining
	}
	copy(p, s.data[s.pos:s.pos+n])
	s.pos += n
	return n, nil
}
