// Package framer serializes and deserializes protocol messages over a byte
// stream using Content-Length framing. It carries no protocol semantics.
package framer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
	"github.com/jaredhancock31/multilspy/src/multilspy/model"
)

const _headerContentLength = "content-length"

// Codec frames messages over a duplex byte stream. Writes are serialized so
// messages submitted in order appear on the wire in order.
type Codec struct {
	reader *bufio.Reader
	writer io.Writer

	writeMu sync.Mutex
}

// NewCodec returns a Codec reading frames from r and writing frames to w.
// Exactly one Codec must be bound to a connection for its entire lifetime.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
	}
}

// Write marshals msg and writes one complete frame. Safe for concurrent use;
// concurrent writers never interleave header and body bytes.
func (c *Codec) Write(msg interface{}) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := fmt.Fprintf(c.writer, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return &errors.TransportError{Err: fmt.Errorf("write header: %w", err)}
	}
	if _, err := c.writer.Write(body); err != nil {
		return &errors.TransportError{Err: fmt.Errorf("write body: %w", err)}
	}
	return nil
}

// Read blocks until a full frame is available and returns the decoded
// message. It accumulates bytes as needed; a single underlying read is never
// assumed to return a complete message. Any malformed header or unparsable
// body is returned as a TransportError: byte alignment cannot be
// reestablished afterwards, so the connection must be torn down, not retried.
// A cleanly closed stream surfaces as io.EOF.
func (c *Codec) Read() (*model.Message, error) {
	contentLength := -1
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" && contentLength < 0 {
				return nil, io.EOF
			}
			return nil, &errors.TransportError{Err: fmt.Errorf("read header: %w", err)}
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break // blank line ends the header block
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, &errors.TransportError{Err: fmt.Errorf("malformed header line %q", line)}
		}
		if strings.ToLower(strings.TrimSpace(name)) != _headerContentLength {
			continue // Content-Type and friends are ignored
		}
		contentLength, err = strconv.Atoi(strings.TrimSpace(value))
		if err != nil || contentLength < 0 {
			return nil, &errors.TransportError{Err: fmt.Errorf("invalid Content-Length %q", value)}
		}
	}

	if contentLength < 0 {
		return nil, &errors.TransportError{Err: errors.New("missing Content-Length header")}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, &errors.TransportError{Err: fmt.Errorf("read body: %w", err)}
	}

	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, &errors.TransportError{Err: fmt.Errorf("decode message: %w", err)}
	}
	return &msg, nil
}
