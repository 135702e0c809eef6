// Package container reads and writes motion-capture containers: single files
// holding a time-ordered sequence of topic records.
//
// Layout: an 8-byte magic, a little-endian uint16 format version, then
// records framed as a little-endian uint32 length followed by a protobuf
// wire message {1: topic, 2: timestamp_ns, 3: payload}.
package container

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/mocap"
)

// FileExtension is the conventional extension for container files.
const FileExtension = ".mocaplog"

// FormatVersion is written after the magic and checked on open.
const FormatVersion uint16 = 1

// MaxRecordSize bounds a single framed record. Larger lengths are treated
// as corruption rather than allocated.
const MaxRecordSize = 64 << 20

var magic = [8]byte{'M', 'O', 'C', 'A', 'P', 'L', 'O', 'G'}

var (
	// ErrNotContainer is returned when a file does not start with the magic.
	ErrNotContainer = errors.New("not a mocap container")
	// ErrCorrupt is returned for truncated or undecodable records.
	ErrCorrupt = errors.New("corrupt container")
	// ErrOutOfOrder is returned when a record would break timestamp order.
	ErrOutOfOrder = errors.New("record timestamp out of order")
	// ErrClosed is returned when writing to a closed Writer.
	ErrClosed = errors.New("container writer is closed")
)

const (
	fieldTopic     protowire.Number = 1
	fieldTimestamp protowire.Number = 2
	fieldPayload   protowire.Number = 3
)

// Writer appends records to a container.
type Writer struct {
	dst io.Writer
	buf *bufio.Writer

	count   uint64
	startNs int64
	endNs   int64

	mu     sync.Mutex
	closed bool
}

// NewWriter writes the container header to w and returns a Writer. If w is
// an io.Closer it is closed by Close.
func NewWriter(w io.Writer) (*Writer, error) {
	cw := &Writer{dst: w, buf: bufio.NewWriter(w)}

	var hdr [10]byte
	copy(hdr[:8], magic[:])
	binary.LittleEndian.PutUint16(hdr[8:], FormatVersion)
	if _, err := cw.buf.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return cw, nil
}

// Create creates (or truncates) the container at path, making parent
// directories as needed.
func Create(fsys fsutil.FileSystem, path string) (*Writer, error) {
	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Write appends a record. Timestamps must be non-decreasing.
func (w *Writer) Write(rec mocap.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.count > 0 && rec.TimestampNanos < w.endNs {
		return fmt.Errorf("%w: %d after %d", ErrOutOfOrder, rec.TimestampNanos, w.endNs)
	}

	data := encodeRecord(rec)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.buf.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write record length: %w", err)
	}
	if _, err := w.buf.Write(data); err != nil {
		return fmt.Errorf("failed to write record data: %w", err)
	}

	if w.count == 0 {
		w.startNs = rec.TimestampNanos
	}
	w.endNs = rec.TimestampNanos
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Span returns the first and last timestamps written.
func (w *Writer) Span() (startNs, endNs int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startNs, w.endNs
}

// Close flushes buffered records and closes the destination.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.buf.Flush()
	if c, ok := w.dst.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("failed to close container: %w", err)
	}
	return nil
}

func encodeRecord(rec mocap.Record) []byte {
	b := make([]byte, 0, len(rec.Topic)+len(rec.Payload)+24)
	b = protowire.AppendTag(b, fieldTopic, protowire.BytesType)
	b = protowire.AppendString(b, rec.Topic)
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.TimestampNanos))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, rec.Payload)
	return b
}

func decodeRecord(b []byte) (mocap.Record, error) {
	var rec mocap.Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rec, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldTopic && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(b)
			rec.Topic = s
		case num == fieldTimestamp && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			rec.TimestampNanos = int64(v)
		case num == fieldPayload && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			rec.Payload = append([]byte(nil), v...)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return rec, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return rec, nil
}
