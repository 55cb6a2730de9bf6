package bridge

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// maxFrameBytes bounds a single frame line. Snapshots and captures travel as
// base64 payloadJSON, so individual lines can get large.
const maxFrameBytes = 8 * 1024 * 1024

// Encoder writes frames as single-line JSON objects. Writes are serialized
// through an internal mutex so concurrent senders never interleave bytes on
// the wire.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals f and writes it followed by a single newline.
func (e *Encoder) Encode(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("bridge: encode %s frame: %w", f.Type, err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("bridge: write frame: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited frames from a stream, buffering the
// trailing partial line across reads. Blank lines, lines that fail to parse
// as a JSON object, and frames with an unrecognized type are dropped with a
// debug log line. They never terminate the stream.
type Decoder struct {
	sc     *bufio.Scanner
	logger *slog.Logger
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	return &Decoder{sc: sc, logger: logger}
}

// Next returns the next well-formed frame, or io.EOF when the stream ends.
func (d *Decoder) Next() (*Frame, error) {
	for d.sc.Scan() {
		line := bytes.TrimSpace(d.sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			d.logger.Debug("dropping unparsable frame", "error", err)
			continue
		}
		if !f.Type.Valid() {
			d.logger.Debug("dropping frame with unknown type", "type", string(f.Type))
			continue
		}
		return &f, nil
	}
	if err := d.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
