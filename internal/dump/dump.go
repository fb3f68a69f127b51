// Package dump writes per-frame header records as JSON lines, optionally
// zstd-compressed.
package dump

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/rcarmo/go-vp8/internal/framing"
	"github.com/rcarmo/go-vp8/internal/session"
)

// Compression selects the trace encoding.
type Compression string

const (
	CompressNone Compression = "none"
	CompressZstd Compression = "zstd"
)

// ParseCompression maps a name to a Compression. The empty string is none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(s)); c {
	case "", CompressNone:
		return CompressNone, nil
	case CompressZstd:
		return c, nil
	default:
		return "", fmt.Errorf("dump: unknown compression %q", s)
	}
}

// Record is one line of a trace.
type Record struct {
	Index     int    `json:"index"`
	Timestamp uint64 `json:"timestamp"`
	Size      int    `json:"size"`
	Lost      int    `json:"lost,omitempty"`

	Result *session.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	// Dropped marks frames skipped before the first key frame.
	Dropped bool `json:"dropped,omitempty"`
}

// NewRecord describes the outcome of decoding frame f.
func NewRecord(index int, f *framing.Frame, r *session.Result, err error) *Record {
	rec := &Record{
		Index:     index,
		Timestamp: f.Timestamp,
		Size:      len(f.Data),
		Lost:      f.Lost,
		Result:    r,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.Dropped = session.IsDropped(err)
	}
	return rec
}

// Writer encodes records one per line.
type Writer struct {
	enc *json.Encoder
	zw  *zstd.Encoder
	n   int
}

// NewWriter returns a writer over w.
func NewWriter(w io.Writer, c Compression) (*Writer, error) {
	out := &Writer{}
	switch c {
	case CompressNone, "":
	case CompressZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("dump: zstd: %w", err)
		}
		out.zw = zw
		w = zw
	default:
		return nil, fmt.Errorf("dump: unknown compression %q", c)
	}
	out.enc = json.NewEncoder(w)
	return out, nil
}

// Write appends one record.
func (w *Writer) Write(r *Record) error {
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("dump: record %d: %w", r.Index, err)
	}
	w.n++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int { return w.n }

// Close flushes the compressor. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.zw != nil {
		return w.zw.Close()
	}
	return nil
}

// Reader decodes a trace written by Writer.
type Reader struct {
	dec *json.Decoder
	zr  *zstd.Decoder
}

// NewReader returns a reader over r.
func NewReader(r io.Reader, c Compression) (*Reader, error) {
	out := &Reader{}
	if c == CompressZstd {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("dump: zstd: %w", err)
		}
		out.zr = zr
		r = zr
	}
	out.dec = json.NewDecoder(r)
	return out, nil
}

// Next decodes the next record into v, returning io.EOF at the end.
func (r *Reader) Next(v any) error {
	err := r.dec.Decode(v)
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}

// Close releases the decompressor.
func (r *Reader) Close() {
	if r.zr != nil {
		r.zr.Close()
	}
}
