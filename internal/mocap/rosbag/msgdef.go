package rosbag

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrBadDefinition is returned when a connection's message definition
// cannot be parsed or references an undefined type.
var ErrBadDefinition = errors.New("bad message definition")

// maxNesting bounds type resolution depth.
const maxNesting = 32

type fieldDef struct {
	name string
	// typ is the primitive type name, empty when msg is set.
	typ string
	msg *msgDef

	array bool
	// fixed is the element count of a fixed-size array, -1 when variable.
	fixed int
}

type msgDef struct {
	name   string
	fields []fieldDef
}

// messageDecoder decodes ROS1-serialised messages of one type into nested
// maps keyed by field name. Integers decode to int64 or uint64, floats to
// float64, time and duration to int64 nanoseconds.
type messageDecoder struct {
	root *msgDef
}

type rawField struct {
	typ, name string
}

func newMessageDecoder(msgType, definition string) (*messageDecoder, error) {
	sections := make(map[string][]rawField)
	name := msgType
	var cur []rawField
	flush := func() {
		sections[name] = cur
		cur = nil
	}
	for _, line := range strings.Split(definition, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "=====") && strings.Trim(line, "=") == "" {
			flush()
			name = ""
			continue
		}
		if rest, ok := strings.CutPrefix(line, "MSG:"); ok {
			name = strings.TrimSpace(rest)
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: %q", ErrBadDefinition, line)
		}
		if strings.Contains(line, "=") {
			continue // constant
		}
		cur = append(cur, rawField{typ: parts[0], name: parts[1]})
	}
	flush()

	b := &defBuilder{sections: sections, built: make(map[string]*msgDef)}
	root, err := b.build(msgType, 0)
	if err != nil {
		return nil, err
	}
	return &messageDecoder{root: root}, nil
}

type defBuilder struct {
	sections map[string][]rawField
	built    map[string]*msgDef
}

func (b *defBuilder) build(name string, depth int) (*msgDef, error) {
	if d, ok := b.built[name]; ok {
		return d, nil
	}
	if depth > maxNesting {
		return nil, fmt.Errorf("%w: %s nests too deeply", ErrBadDefinition, name)
	}
	raw, ok := b.sections[name]
	if !ok {
		return nil, fmt.Errorf("%w: type %s not defined", ErrBadDefinition, name)
	}

	pkg, _, _ := strings.Cut(name, "/")
	d := &msgDef{name: name}
	for _, rf := range raw {
		f := fieldDef{name: rf.name, fixed: -1}
		base := rf.typ
		if i := strings.IndexByte(base, '['); i >= 0 {
			f.array = true
			n := strings.TrimSuffix(base[i+1:], "]")
			base = base[:i]
			if n != "" {
				c, err := strconv.Atoi(n)
				if err != nil || c < 0 {
					return nil, fmt.Errorf("%w: bad array size in %s", ErrBadDefinition, rf.typ)
				}
				f.fixed = c
			}
		}
		if isPrimitive(base) {
			f.typ = base
		} else {
			nested, err := b.build(b.resolve(pkg, base), depth+1)
			if err != nil {
				return nil, err
			}
			f.msg = nested
		}
		d.fields = append(d.fields, f)
	}
	b.built[name] = d
	return d, nil
}

// resolve maps a field type to a section name: Header is std_msgs/Header,
// bare names resolve in the enclosing package and then by suffix.
func (b *defBuilder) resolve(pkg, typ string) string {
	if strings.Contains(typ, "/") {
		return typ
	}
	if typ == "Header" {
		return "std_msgs/Header"
	}
	if _, ok := b.sections[pkg+"/"+typ]; ok {
		return pkg + "/" + typ
	}
	for name := range b.sections {
		if strings.HasSuffix(name, "/"+typ) {
			return name
		}
	}
	return typ
}

func isPrimitive(t string) bool {
	switch t {
	case "bool", "int8", "uint8", "byte", "char",
		"int16", "uint16", "int32", "uint32", "int64", "uint64",
		"float32", "float64", "string", "time", "duration":
		return true
	}
	return false
}

func (d *messageDecoder) decode(data []byte) (map[string]any, error) {
	c := &cursor{b: data}
	msg, err := c.message(d.root)
	if err != nil {
		return nil, err
	}
	if len(c.b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %s", ErrCorrupt, len(c.b), d.root.name)
	}
	return msg, nil
}

type cursor struct {
	b []byte
}

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || n > len(c.b) {
		return nil, fmt.Errorf("%w: message truncated", ErrCorrupt)
	}
	v := c.b[:n]
	c.b = c.b[n:]
	return v, nil
}

func (c *cursor) message(d *msgDef) (map[string]any, error) {
	out := make(map[string]any, len(d.fields))
	for _, f := range d.fields {
		v, err := c.field(f)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.name, f.name, err)
		}
		out[f.name] = v
	}
	return out, nil
}

func (c *cursor) field(f fieldDef) (any, error) {
	if !f.array {
		return c.value(f)
	}
	n := f.fixed
	if n < 0 {
		b, err := c.take(4)
		if err != nil {
			return nil, err
		}
		n = int(binary.LittleEndian.Uint32(b))
		if n > len(c.b) {
			// Every element occupies at least one byte.
			return nil, fmt.Errorf("%w: array length %d overruns message", ErrCorrupt, n)
		}
	}
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := c.value(f)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *cursor) value(f fieldDef) (any, error) {
	if f.msg != nil {
		return c.message(f.msg)
	}
	switch f.typ {
	case "bool":
		b, err := c.take(1)
		if err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case "int8":
		b, err := c.take(1)
		if err != nil {
			return nil, err
		}
		return int64(int8(b[0])), nil
	case "uint8", "byte", "char":
		b, err := c.take(1)
		if err != nil {
			return nil, err
		}
		return uint64(b[0]), nil
	case "int16":
		b, err := c.take(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case "uint16":
		b, err := c.take(2)
		if err != nil {
			return nil, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case "int32":
		b, err := c.take(4)
		if err != nil {
			return nil, err
		}
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	case "uint32":
		b, err := c.take(4)
		if err != nil {
			return nil, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case "int64":
		b, err := c.take(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	case "uint64":
		b, err := c.take(8)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint64(b), nil
	case "float32":
		b, err := c.take(4)
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case "float64":
		b, err := c.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case "string":
		b, err := c.take(4)
		if err != nil {
			return nil, err
		}
		s, err := c.take(int(binary.LittleEndian.Uint32(b)))
		if err != nil {
			return nil, err
		}
		return string(s), nil
	case "time":
		b, err := c.take(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint32(b[:4]))*1e9 + int64(binary.LittleEndian.Uint32(b[4:])), nil
	case "duration":
		b, err := c.take(8)
		if err != nil {
			return nil, err
		}
		return int64(int32(binary.LittleEndian.Uint32(b[:4])))*1e9 + int64(int32(binary.LittleEndian.Uint32(b[4:]))), nil
	}
	return nil, fmt.Errorf("%w: unknown type %s", ErrBadDefinition, f.typ)
}
