// Package datasource implements the three ways a Datafile can be obtained
// from outside the process: a long-lived NDJSON push stream, periodic
// polling, and a build-time-bundled snapshot, plus Fetch, a one-shot
// authenticated GET with retries. The stream and polling sources build
// their own requests and do not go through Fetch.
package datasource

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/vercel/flags-go/internal"
	"github.com/vercel/flags-go/internal/corelog"
)

// MessageType is the discriminator on a parsed NDJSON line.
type MessageType string

// The recognized NDJSON message shapes; any other type value is ignored.
const (
	MessageDatafile MessageType = "datafile"
	MessagePing     MessageType = "ping"
)

// Message is one parsed line of the stream protocol.
type Message struct {
	Type MessageType
	Data internal.Datafile
}

type wireMessage struct {
	Type MessageType      `json:"type"`
	Data *internal.Datafile `json:"data,omitempty"`
}

// Reader parses an NDJSON byte stream into a sequence of Messages,
// buffering partial lines across chunk boundaries.
type Reader struct {
	scanner *bufio.Scanner
	loggers *corelog.Loggers
}

// NewReader wraps r, reading lines delimited by '\n'. loggers may be nil.
func NewReader(r io.Reader, loggers *corelog.Loggers) *Reader {
	scanner := bufio.NewScanner(r)
	// A datafile line can be large; give the scanner generous headroom
	// instead of inheriting bufio's small default token limit.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)
	return &Reader{scanner: scanner, loggers: loggers}
}

// Next reads and parses the next non-empty line, skipping blank lines and
// lines that fail to parse as JSON (logging them rather than failing the
// whole stream). It returns io.EOF once the underlying reader is exhausted.
func (r *Reader) Next() (Message, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var wm wireMessage
		if err := json.Unmarshal(line, &wm); err != nil {
			if r.loggers != nil {
				r.loggers.Warnf("discarding unparsable stream line: %s", err)
			}
			continue
		}
		msg := Message{Type: wm.Type}
		if wm.Data != nil {
			msg.Data = *wm.Data
		}
		switch msg.Type {
		case MessageDatafile, MessagePing:
			return msg, nil
		default:
			continue
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}
