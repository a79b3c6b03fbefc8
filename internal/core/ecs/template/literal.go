package template

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// literalSize maps a component literal type to its byte size. "bytes" is
// sized by its value.
var literalSize = map[string]int{
	"tag":  0,
	"bool": 1,
	"u8":   1,
	"u16":  2,
	"u32":  4,
	"i32":  4,
	"f32":  4,
	"u64":  8,
	"i64":  8,
	"f64":  8,
	"vec2": 8,
	"vec3": 12,
	"vec4": 16,
}

// encodeLiteral turns a typed YAML value into little-endian component bytes.
// A missing value encodes as zeroes.
func encodeLiteral(typ string, node *yaml.Node) ([]byte, error) {
	if typ == "bytes" {
		var s string
		if node.Kind != 0 {
			if err := node.Decode(&s); err != nil {
				return nil, err
			}
		}
		return hex.DecodeString(s)
	}

	size, ok := literalSize[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLiteral, typ)
	}
	out := make([]byte, size)
	if node.Kind == 0 || size == 0 {
		return out, nil
	}

	switch typ {
	case "bool":
		var v bool
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		if v {
			out[0] = 1
		}
	case "u8":
		var v uint8
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		out[0] = v
	case "u16":
		var v uint16
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint16(out, v)
	case "u32":
		var v uint32
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(out, v)
	case "i32":
		var v int32
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(out, uint32(v))
	case "f32":
		var v float32
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(out, math.Float32bits(v))
	case "u64":
		var v uint64
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint64(out, v)
	case "i64":
		var v int64
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint64(out, uint64(v))
	case "f64":
		var v float64
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint64(out, math.Float64bits(v))
	default: // vecN
		var v []float32
		if err := node.Decode(&v); err != nil {
			return nil, err
		}
		if len(v)*4 != size {
			return nil, fmt.Errorf("%s wants %d values, got %d", typ, size/4, len(v))
		}
		for i, f := range v {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
		}
	}
	return out, nil
}
