package storage

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Column is a named value.
type Column struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Key is an ordered list of key columns.
type Key []Column

// NewKey builds a key from its columns.
func NewKey(cols ...Column) Key { return Key(cols) }

// Col is shorthand for a Column literal.
func Col(name string, v Value) Column { return Column{Name: name, Value: v} }

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, c := range k {
		parts[i] = c.Name + "=" + c.Value.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Columns maps column names to values.
type Columns map[string]Value

// Clone returns a shallow copy of c. Blob payloads are shared.
func (c Columns) Clone() Columns {
	if c == nil {
		return nil
	}
	out := make(Columns, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

const (
	signMask     uint64 = 0x8000000000000000
	encGroupSize        = 8
	encMarker           = byte(0xFF)
)

var pads = make([]byte, encGroupSize)

// EncodeKey encodes k so that the byte order of two encodings equals the column-wise order of
// the keys. Every column encoding is self-delimiting, so the encoding of a key prefix is a
// byte prefix of the encoding of the full key.
func EncodeKey(k Key) ([]byte, error) {
	var buf []byte
	for _, c := range k {
		if c.Value.Null {
			return nil, errors.Wrapf(ErrIllegalArgument, "key column %s is null", c.Name)
		}
		switch c.Value.Type {
		case TypeBoolean:
			if c.Value.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case TypeInt, TypeBigInt:
			buf = binary.BigEndian.AppendUint64(buf, uint64(c.Value.Int)^signMask)
		case TypeFloat, TypeDouble:
			bits := math.Float64bits(c.Value.Float)
			if c.Value.Float >= 0 {
				bits |= signMask
			} else {
				bits = ^bits
			}
			buf = binary.BigEndian.AppendUint64(buf, bits)
		case TypeText:
			buf = encodeBytes(buf, []byte(c.Value.Text))
		case TypeBlob:
			buf = encodeBytes(buf, c.Value.Blob)
		default:
			return nil, errors.Wrapf(ErrIllegalArgument, "key column %s has invalid type %v", c.Name, c.Value.Type)
		}
	}
	return buf, nil
}

// EncodeRecordKey encodes the storage position of a record.
func EncodeRecordKey(partition, clustering Key) ([]byte, error) {
	p, err := EncodeKey(partition)
	if err != nil {
		return nil, err
	}
	c, err := EncodeKey(clustering)
	if err != nil {
		return nil, err
	}
	return append(p, c...), nil
}

// encodeBytes appends the memcomparable encoding of data:
//
//	[group1][marker1]...[groupN][markerN]
//
// group is 8 bytes padded with 0, marker is 0xFF minus the pad count.
func encodeBytes(buf, data []byte) []byte {
	dLen := len(data)
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			buf = append(buf, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			buf = append(buf, data[idx:]...)
			buf = append(buf, pads[:padCount]...)
		}
		buf = append(buf, encMarker-byte(padCount))
	}
	return buf
}

// PrefixNext returns the smallest byte string greater than every string with prefix p, or nil
// when no such string exists (p is all 0xFF).
func PrefixNext(p []byte) []byte {
	next := append([]byte(nil), p...)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			return next[:i+1]
		}
	}
	return nil
}

// checkKey verifies that k names exactly the columns in names, in order. A prefix is accepted
// when allowPrefix is set.
func checkKey(kind string, k Key, names []string, allowPrefix bool) error {
	if len(k) > len(names) || (!allowPrefix && len(k) != len(names)) {
		return errors.Wrapf(ErrIllegalArgument, "%s key %v does not match %v", kind, k, names)
	}
	for i, c := range k {
		if c.Name != names[i] {
			return errors.Wrapf(ErrIllegalArgument, "%s key column %d is %s, expected %s", kind, i, c.Name, names[i])
		}
	}
	return nil
}
