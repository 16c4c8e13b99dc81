// Package decode implements the JSONL Decoder (C2): streaming decompression
// of a gzip-compressed newline-delimited JSON object into a lazy sequence of
// findings, tolerant of per-line corruption.
package decode

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
)

// maxLineSize bounds a single JSONL line; GuardDuty findings are small
// (well under a megabyte), so a generous ceiling catches runaway/corrupt
// input without the scanner's default 64KiB buffer silently truncating.
const maxLineSize = 8 * 1024 * 1024

// Decoder streams findings out of one gzip-compressed JSONL object. It is
// single-use: once exhausted (or discarded), it cannot be restarted except
// by re-fetching the object and constructing a new Decoder.
type Decoder struct {
	scanner   *bufio.Scanner
	gz        *gzip.Reader
	parsed    int
	malformed int
	empty     bool // true once the gzip stream yielded zero bytes (empty object)
}

// New wraps r, a gzip-compressed NDJSON stream, for line-by-line decoding.
// An empty stream (zero-length object) is not an error: Next will simply
// report end of stream (nil, false, nil) immediately.
func New(r io.Reader) (*Decoder, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		if err == io.EOF {
			// Zero-length object: valid, gzip.NewReader can't even read a
			// header. Treat as an already-exhausted decoder.
			return &Decoder{empty: true}, nil
		}
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	return &Decoder{scanner: scanner, gz: gz}, nil
}

// Next returns the next well-formed finding, skipping blank lines silently
// and counting malformed ones. It returns (nil, false, nil) at end of
// stream, and a non-nil error only for the decompression stream itself
// failing outright (corrupt gzip framing, not a bad JSON line).
func (d *Decoder) Next() (*engine.Finding, bool, error) {
	if d.empty || d.scanner == nil {
		return nil, false, nil
	}

	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var generic map[string]json.RawMessage
		if err := json.Unmarshal(line, &generic); err != nil {
			d.malformed++
			continue
		}
		idRaw, ok := generic["id"]
		if !ok {
			d.malformed++
			continue
		}
		var id string
		if err := json.Unmarshal(idRaw, &id); err != nil || id == "" {
			d.malformed++
			continue
		}

		finding := &engine.Finding{Raw: append([]byte(nil), line...)}
		if err := json.Unmarshal(line, finding); err != nil {
			// Has a valid "id" but the rest doesn't match the expected
			// shape closely enough to unmarshal; still malformed.
			d.malformed++
			continue
		}
		d.parsed++
		return finding, true, nil
	}

	if err := d.scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("read decompressed stream: %w", err)
	}
	return nil, false, nil
}

// Stats returns the running counts of successfully parsed vs. malformed
// lines, for the controller's aggregate metrics.
func (d *Decoder) Stats() (parsed, malformed int) {
	return d.parsed, d.malformed
}

// Close releases the underlying gzip reader.
func (d *Decoder) Close() error {
	if d.gz == nil {
		return nil
	}
	return d.gz.Close()
}
