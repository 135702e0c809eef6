package testutil

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/mocap"
)

// NatNetType is the message type BagWriter records tracking frames as.
const NatNetType = "natnet_msgs/Frame"

// NatNetDefinition is the full message definition of NatNetType.
const NatNetDefinition = `uint64 frame_number
RigidBody[] rigid_bodies
================================================================================
MSG: natnet_msgs/RigidBody
string name
int32 id
geometry_msgs/Pose pose
float64 error  # mean marker error
================================================================================
MSG: geometry_msgs/Pose
Point position
Quaternion orientation
================================================================================
MSG: geometry_msgs/Point
float64 x
float64 y
float64 z
================================================================================
MSG: geometry_msgs/Quaternion
float64 x
float64 y
float64 z
float64 w
`

// BagWriter builds version 2.0 rosbag fixtures in memory.
type BagWriter struct {
	buf bytes.Buffer
}

// NewBagWriter returns a writer holding the magic and a bag header record.
func NewBagWriter() *BagWriter {
	b := &BagWriter{}
	b.buf.WriteString("#ROSBAG V2.0\n")
	b.Record(map[string][]byte{
		"op":          {0x03},
		"index_pos":   make([]byte, 8),
		"conn_count":  make([]byte, 4),
		"chunk_count": make([]byte, 4),
	}, nil)
	return b
}

// Record appends one raw record.
func (b *BagWriter) Record(header map[string][]byte, data []byte) {
	var hdr bytes.Buffer
	for name, value := range header {
		binary.Write(&hdr, binary.LittleEndian, uint32(len(name)+1+len(value)))
		hdr.WriteString(name)
		hdr.WriteByte('=')
		hdr.Write(value)
	}
	binary.Write(&b.buf, binary.LittleEndian, uint32(hdr.Len()))
	b.buf.Write(hdr.Bytes())
	binary.Write(&b.buf, binary.LittleEndian, uint32(len(data)))
	b.buf.Write(data)
}

// Connection appends a connection record.
func (b *BagWriter) Connection(id uint32, topic, msgType, definition string) {
	var data bytes.Buffer
	for _, f := range [][2]string{
		{"topic", topic},
		{"type", msgType},
		{"md5sum", "*"},
		{"message_definition", definition},
	} {
		binary.Write(&data, binary.LittleEndian, uint32(len(f[0])+1+len(f[1])))
		data.WriteString(f[0] + "=" + f[1])
	}
	b.Record(map[string][]byte{
		"op":    {0x07},
		"conn":  le32(id),
		"topic": []byte(topic),
	}, data.Bytes())
}

// Message appends a message data record on connection id.
func (b *BagWriter) Message(id uint32, tsNanos int64, data []byte) {
	t := make([]byte, 8)
	binary.LittleEndian.PutUint32(t, uint32(tsNanos/1e9))
	binary.LittleEndian.PutUint32(t[4:], uint32(tsNanos%1e9))
	b.Record(map[string][]byte{
		"op":   {0x02},
		"conn": le32(id),
		"time": t,
	}, data)
}

// Chunk appends an uncompressed chunk holding the records inner writes.
func (b *BagWriter) Chunk(inner func(*BagWriter)) {
	c := &BagWriter{}
	inner(c)
	b.Record(map[string][]byte{
		"op":          {0x05},
		"compression": []byte("none"),
		"size":        le32(uint32(c.buf.Len())),
	}, c.buf.Bytes())
}

// Bytes returns the bag written so far.
func (b *BagWriter) Bytes() []byte {
	return b.buf.Bytes()
}

// NatNetMessage serialises frame according to NatNetDefinition.
func NatNetMessage(frame *mocap.Frame) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, frame.FrameNumber)
	binary.Write(&b, binary.LittleEndian, uint32(len(frame.RigidBodies)))
	for _, rb := range frame.RigidBodies {
		binary.Write(&b, binary.LittleEndian, uint32(len(rb.Name)))
		b.WriteString(rb.Name)
		binary.Write(&b, binary.LittleEndian, rb.ID)
		var x, y, z float64
		if p := rb.Pose.Position; p != nil {
			x, y, z = p.X, p.Y, p.Z
		}
		q := rb.Pose.Orientation
		for _, v := range []float64{x, y, z, q.X, q.Y, q.Z, q.W, rb.Error} {
			binary.Write(&b, binary.LittleEndian, math.Float64bits(v))
		}
	}
	return b.Bytes()
}

// WriteNatNetBag writes records to a bag at path on fsys inside one chunk.
// Records on mocap.FrameTopic must carry frame payloads and are recorded
// as NatNetType messages; other topics are recorded with their raw payload.
func WriteNatNetBag(t testing.TB, fsys fsutil.FileSystem, path string, records ...mocap.Record) {
	t.Helper()
	b := NewBagWriter()
	b.Chunk(func(c *BagWriter) {
		conns := map[string]uint32{}
		for _, rec := range records {
			id, ok := conns[rec.Topic]
			if !ok {
				id = uint32(len(conns))
				conns[rec.Topic] = id
				if rec.Topic == mocap.FrameTopic {
					c.Connection(id, rec.Topic, NatNetType, NatNetDefinition)
				} else {
					c.Connection(id, rec.Topic, "std_msgs/Empty", "")
				}
			}
			data := rec.Payload
			if rec.Topic == mocap.FrameTopic {
				frame, err := mocap.UnmarshalFrame(rec.Payload)
				AssertNoError(t, err)
				data = NatNetMessage(frame)
			}
			c.Message(id, rec.TimestampNanos, data)
		}
	})
	AssertNoError(t, fsys.WriteFile(path, b.Bytes(), 0644))
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
