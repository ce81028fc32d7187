// Package codec provides an order-preserving binary encoding for typed
// tuples. Rows encoded here compare with bytes.Compare exactly as the typed
// tuples compare, which is what the arrangement index order requires.
//
// The engine itself never interprets row bytes; this package exists so that
// tests, plans, and the CLI can construct rows with a known order.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tessera-db/tessera/ivm"
)

// Value is one tuple element. Valid types:
// - nil (NULL, ordered below everything)
// - int64
// - float64
// - string
type Value interface{}

// Type tags, chosen so that tag order equals type order: NULL sorts below
// numbers, numbers below strings.
const (
	tagNull   byte = 0x01
	tagInt    byte = 0x02
	tagFloat  byte = 0x03
	tagString byte = 0x04
)

// String terminator and escape. A 0x00 byte inside a string is escaped as
// 0x00 0xFF; the terminator 0x00 0x01 then sorts below any continuation, so
// prefixes order before extensions.
const (
	escape     byte = 0x00
	escapedFF  byte = 0xFF
	terminator byte = 0x01
)

// Encode appends the order-preserving encoding of each value in turn and
// returns the row.
func Encode(values ...Value) ivm.Row {
	var buf []byte
	for _, v := range values {
		buf = appendValue(buf, v)
	}
	return buf
}

func appendValue(buf []byte, v Value) []byte {
	switch val := v.(type) {
	case nil:
		return append(buf, tagNull)
	case int:
		return appendInt(buf, int64(val))
	case int64:
		return appendInt(buf, val)
	case float64:
		buf = append(buf, tagFloat)
		bits := math.Float64bits(val)
		if val >= 0 || bits == 0 {
			bits |= 1 << 63
		} else {
			bits = ^bits
		}
		return binary.BigEndian.AppendUint64(buf, bits)
	case string:
		buf = append(buf, tagString)
		for i := 0; i < len(val); i++ {
			if val[i] == escape {
				buf = append(buf, escape, escapedFF)
			} else {
				buf = append(buf, val[i])
			}
		}
		return append(buf, escape, terminator)
	default:
		panic(fmt.Sprintf("codec: unsupported value type %T", v))
	}
}

func appendInt(buf []byte, v int64) []byte {
	buf = append(buf, tagInt)
	// Flip the sign bit so negative values sort below positive ones.
	return binary.BigEndian.AppendUint64(buf, uint64(v)^(1<<63))
}

// Decode parses every value out of a row encoded with Encode.
func Decode(row ivm.Row) ([]Value, error) {
	var out []Value
	rest := []byte(row)
	for len(rest) > 0 {
		var (
			v   Value
			err error
		)
		v, rest, err = decodeOne(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeOne(buf []byte) (Value, []byte, error) {
	switch buf[0] {
	case tagNull:
		return nil, buf[1:], nil
	case tagInt:
		if len(buf) < 9 {
			return nil, nil, fmt.Errorf("codec: truncated int encoding")
		}
		bits := binary.BigEndian.Uint64(buf[1:9])
		return int64(bits ^ (1 << 63)), buf[9:], nil
	case tagFloat:
		if len(buf) < 9 {
			return nil, nil, fmt.Errorf("codec: truncated float encoding")
		}
		bits := binary.BigEndian.Uint64(buf[1:9])
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), buf[9:], nil
	case tagString:
		var s []byte
		rest := buf[1:]
		for {
			if len(rest) < 2 && (len(rest) == 0 || rest[0] == escape) {
				return nil, nil, fmt.Errorf("codec: unterminated string encoding")
			}
			if rest[0] != escape {
				s = append(s, rest[0])
				rest = rest[1:]
				continue
			}
			switch rest[1] {
			case escapedFF:
				s = append(s, escape)
				rest = rest[2:]
			case terminator:
				return string(s), rest[2:], nil
			default:
				return nil, nil, fmt.Errorf("codec: bad string escape 0x%02x", rest[1])
			}
		}
	default:
		return nil, nil, fmt.Errorf("codec: unknown type tag 0x%02x", buf[0])
	}
}

// IsNull reports whether the row is a single encoded NULL.
func IsNull(row ivm.Row) bool {
	return len(row) == 1 && row[0] == tagNull
}

// Nulls returns a row of n encoded NULL values, the payload synthesized
// rows carry in outer joins.
func Nulls(n int) ivm.Row {
	row := make(ivm.Row, n)
	for i := range row {
		row[i] = tagNull
	}
	return row
}
