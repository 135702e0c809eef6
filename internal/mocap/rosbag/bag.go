// Package rosbag reads ROS bag (format 2.0) recordings of the NatNet bridge
// and yields their tracking messages as mocap records.
//
// The reader walks the file sequentially and ignores the index section, so
// messages come out in the order they were recorded. Chunks may be
// uncompressed or bz2-compressed.
package rosbag

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/mocap"
)

// FileExtension is the conventional extension for bag files.
const FileExtension = ".bag"

// Magic is the first line of every version 2.0 bag.
const Magic = "#ROSBAG V2.0\n"

// maxRecordPart bounds one record header or data block.
const maxRecordPart = 256 << 20

// Record op codes.
const (
	opMessageData = 0x02
	opBagHeader   = 0x03
	opIndexData   = 0x04
	opChunk       = 0x05
	opChunkInfo   = 0x06
	opConnection  = 0x07
)

var (
	// ErrNotBag is returned when a file does not start with Magic.
	ErrNotBag = errors.New("not a version 2.0 rosbag")
	// ErrCorrupt is returned for truncated or undecodable records.
	ErrCorrupt = errors.New("corrupt rosbag")
	// ErrUnsupportedCompression is returned for chunk codecs other than
	// none and bz2.
	ErrUnsupportedCompression = errors.New("unsupported chunk compression")
)

type connection struct {
	topic   string
	msgType string
	decoder *messageDecoder
}

// Reader yields messages on one tracking topic. Each message is converted
// to a mocap.Frame and re-encoded, so callers see the same record payloads
// a container holds.
type Reader struct {
	src   io.Reader
	buf   *bufio.Reader
	topic string

	conns map[uint32]*connection

	// pending holds the records of the chunk being drained.
	pending *bufio.Reader

	read   uint64
	frames uint64
}

// NewReader validates the bag magic on r. Messages on topics other than
// topic are skipped; an empty topic selects mocap.FrameTopic.
func NewReader(r io.Reader, topic string) (*Reader, error) {
	if topic == "" {
		topic = mocap.FrameTopic
	}
	br := &Reader{
		src:   r,
		buf:   bufio.NewReader(r),
		topic: topic,
		conns: make(map[uint32]*connection),
	}

	hdr := make([]byte, len(Magic))
	if _, err := io.ReadFull(br.buf, hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short header", ErrNotBag)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if string(hdr) != Magic {
		return nil, ErrNotBag
	}
	return br, nil
}

// Open opens the bag at path for reading.
func Open(fsys fsutil.FileSystem, path, topic string) (*Reader, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bag: %w", err)
	}
	r, err := NewReader(f, topic)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Next returns the next tracking message as a record, or io.EOF at the end
// of the bag.
func (r *Reader) Next() (mocap.Record, error) {
	for {
		op, hdr, data, err := r.nextRecord()
		if err != nil {
			return mocap.Record{}, err
		}
		r.read++

		switch op {
		case opChunk:
			if err := r.openChunk(hdr, data); err != nil {
				return mocap.Record{}, err
			}
		case opConnection:
			if err := r.addConnection(hdr, data); err != nil {
				return mocap.Record{}, err
			}
		case opMessageData:
			rec, ok, err := r.message(hdr, data)
			if err != nil {
				return mocap.Record{}, err
			}
			if ok {
				r.frames++
				return rec, nil
			}
		case opBagHeader, opIndexData, opChunkInfo:
		default:
			return mocap.Record{}, fmt.Errorf("%w: unknown op 0x%02x", ErrCorrupt, op)
		}
	}
}

// RecordsRead returns how many bag records were decoded, chunk contents and
// skipped topics included.
func (r *Reader) RecordsRead() uint64 {
	return r.read
}

// FramesRead returns how many tracking messages Next has returned.
func (r *Reader) FramesRead() uint64 {
	return r.frames
}

// Close closes the underlying source if it is an io.Closer.
func (r *Reader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// nextRecord reads from the current chunk first, falling back to the file
// once the chunk is drained.
func (r *Reader) nextRecord() (byte, map[string][]byte, []byte, error) {
	if r.pending != nil {
		op, hdr, data, err := readRecord(r.pending)
		if err == nil {
			return op, hdr, data, nil
		}
		if !errors.Is(err, io.EOF) {
			return 0, nil, nil, fmt.Errorf("chunk: %w", err)
		}
		r.pending = nil
	}
	return readRecord(r.buf)
}

func (r *Reader) openChunk(hdr map[string][]byte, data []byte) error {
	compression := string(hdr["compression"])
	switch compression {
	case "", "none":
		r.pending = bufio.NewReader(bytes.NewReader(data))
	case "bz2":
		r.pending = bufio.NewReader(bzip2.NewReader(bytes.NewReader(data)))
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCompression, compression)
	}
	return nil
}

func (r *Reader) addConnection(hdr map[string][]byte, data []byte) error {
	id, err := headerUint32(hdr, "conn")
	if err != nil {
		return err
	}
	if _, ok := r.conns[id]; ok {
		// Connections are repeated in the index section.
		return nil
	}

	fields, err := parseFields(data)
	if err != nil {
		return fmt.Errorf("connection %d: %w", id, err)
	}
	c := &connection{
		topic:   string(hdr["topic"]),
		msgType: string(fields["type"]),
	}
	if c.topic == "" {
		c.topic = string(fields["topic"])
	}
	if c.topic == r.topic {
		c.decoder, err = newMessageDecoder(c.msgType, string(fields["message_definition"]))
		if err != nil {
			return fmt.Errorf("connection %d (%s): %w", id, c.topic, err)
		}
	}
	r.conns[id] = c
	return nil
}

func (r *Reader) message(hdr map[string][]byte, data []byte) (mocap.Record, bool, error) {
	id, err := headerUint32(hdr, "conn")
	if err != nil {
		return mocap.Record{}, false, err
	}
	c, ok := r.conns[id]
	if !ok {
		return mocap.Record{}, false, fmt.Errorf("%w: message on unknown connection %d", ErrCorrupt, id)
	}
	if c.topic != r.topic {
		return mocap.Record{}, false, nil
	}

	t, ok := hdr["time"]
	if !ok || len(t) != 8 {
		return mocap.Record{}, false, fmt.Errorf("%w: message without time", ErrCorrupt)
	}
	ts := int64(binary.LittleEndian.Uint32(t[:4]))*1e9 + int64(binary.LittleEndian.Uint32(t[4:]))

	msg, err := c.decoder.decode(data)
	if err != nil {
		return mocap.Record{}, false, fmt.Errorf("message at %d ns: %w", ts, err)
	}
	frame, err := frameFromMessage(msg, r.frames+1)
	if err != nil {
		return mocap.Record{}, false, fmt.Errorf("message at %d ns: %w", ts, err)
	}
	rec := mocap.NewFrameRecord(ts, frame)
	rec.Topic = c.topic
	return rec, true, nil
}

// readRecord reads one header_len/header/data_len/data record.
func readRecord(rd io.Reader) (byte, map[string][]byte, []byte, error) {
	hdrBytes, err := readBlock(rd)
	if err != nil {
		return 0, nil, nil, err
	}
	data, err := readBlock(rd)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: record without data", ErrCorrupt)
		}
		return 0, nil, nil, err
	}
	hdr, err := parseFields(hdrBytes)
	if err != nil {
		return 0, nil, nil, err
	}
	op, ok := hdr["op"]
	if !ok || len(op) != 1 {
		return 0, nil, nil, fmt.Errorf("%w: record without op", ErrCorrupt)
	}
	return op[0], hdr, data, nil
}

func readBlock(rd io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(rd, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated length", ErrCorrupt)
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxRecordPart {
		return nil, fmt.Errorf("%w: block length %d exceeds limit", ErrCorrupt, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rd, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated block", ErrCorrupt)
		}
		return nil, err
	}
	return b, nil
}

// parseFields splits a sequence of length-prefixed name=value fields.
func parseFields(b []byte) (map[string][]byte, error) {
	fields := make(map[string][]byte)
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, fmt.Errorf("%w: truncated field length", ErrCorrupt)
		}
		n := binary.LittleEndian.Uint32(b)
		b = b[4:]
		if uint64(n) > uint64(len(b)) {
			return nil, fmt.Errorf("%w: field length %d overruns header", ErrCorrupt, n)
		}
		name, value, ok := bytes.Cut(b[:n], []byte{'='})
		if !ok {
			return nil, fmt.Errorf("%w: field without '='", ErrCorrupt)
		}
		fields[string(name)] = value
		b = b[n:]
	}
	return fields, nil
}

func headerUint32(hdr map[string][]byte, name string) (uint32, error) {
	v, ok := hdr[name]
	if !ok || len(v) != 4 {
		return 0, fmt.Errorf("%w: missing %s", ErrCorrupt, name)
	}
	return binary.LittleEndian.Uint32(v), nil
}
