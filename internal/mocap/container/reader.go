package container

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/mocap"
)

// Reader reads records sequentially, optionally restricted to a set of
// topics.
type Reader struct {
	src    io.Reader
	buf    *bufio.Reader
	topics map[string]bool

	offset int64
	read   uint64
}

// NewReader validates the container header on r. When topics are given,
// Next skips records on any other topic.
func NewReader(r io.Reader, topics ...string) (*Reader, error) {
	cr := &Reader{src: r, buf: bufio.NewReader(r)}
	if len(topics) > 0 {
		cr.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			cr.topics[t] = true
		}
	}

	var hdr [10]byte
	if _, err := io.ReadFull(cr.buf, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short header", ErrNotContainer)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if [8]byte(hdr[:8]) != magic {
		return nil, ErrNotContainer
	}
	if v := binary.LittleEndian.Uint16(hdr[8:]); v != FormatVersion {
		return nil, fmt.Errorf("unsupported container version %d", v)
	}
	cr.offset = int64(len(hdr))
	return cr, nil
}

// Open opens the container at path for reading.
func Open(fsys fsutil.FileSystem, path string, topics ...string) (*Reader, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	r, err := NewReader(f, topics...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Next returns the next matching record, or io.EOF at the end of the
// container.
func (r *Reader) Next() (mocap.Record, error) {
	for {
		rec, err := r.readOne()
		if err != nil {
			return mocap.Record{}, err
		}
		if r.topics == nil || r.topics[rec.Topic] {
			return rec, nil
		}
	}
}

// RecordsRead returns how many records were decoded, including skipped ones.
func (r *Reader) RecordsRead() uint64 {
	return r.read
}

func (r *Reader) readOne() (mocap.Record, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.buf, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return mocap.Record{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return mocap.Record{}, fmt.Errorf("%w: truncated length at offset %d", ErrCorrupt, r.offset)
		}
		return mocap.Record{}, err
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxRecordSize {
		return mocap.Record{}, fmt.Errorf("%w: record length %d at offset %d exceeds limit", ErrCorrupt, n, r.offset)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r.buf, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return mocap.Record{}, fmt.Errorf("%w: truncated record at offset %d", ErrCorrupt, r.offset)
		}
		return mocap.Record{}, err
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return mocap.Record{}, fmt.Errorf("%w: record at offset %d: %v", ErrCorrupt, r.offset, err)
	}

	r.offset += int64(4 + n)
	r.read++
	return rec, nil
}

// Close closes the underlying source if it is an io.Closer.
func (r *Reader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadAll drains r into a slice.
func ReadAll(r *Reader) ([]mocap.Record, error) {
	var out []mocap.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
