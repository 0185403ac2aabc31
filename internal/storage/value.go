// Package storage defines the generic storage abstraction every backend implements.
// The transaction layer is written against these types only, so a backend never has to
// expose engine-specific errors or records.
package storage

import (
	"bytes"
	"fmt"
	"strings"
)

// DataType is the type of a column.
type DataType int

const (
	TypeBoolean DataType = iota + 1
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDouble
	TypeText
	TypeBlob
)

var dataTypeNames = map[DataType]string{
	TypeBoolean: "BOOLEAN",
	TypeInt:     "INT",
	TypeBigInt:  "BIGINT",
	TypeFloat:   "FLOAT",
	TypeDouble:  "DOUBLE",
	TypeText:    "TEXT",
	TypeBlob:    "BLOB",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(t))
}

// ParseDataType parses the upper- or lower-case name of a data type.
func ParseDataType(s string) (DataType, error) {
	for t, name := range dataTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// Value is a typed, nullable column value. Integer types use Int, floating point types use
// Float. The zero Value is invalid.
type Value struct {
	Type  DataType `json:"type"`
	Null  bool     `json:"null,omitempty"`
	Int   int64    `json:"int,omitempty"`
	Float float64  `json:"float,omitempty"`
	Text  string   `json:"text,omitempty"`
	Bool  bool     `json:"bool,omitempty"`
	Blob  []byte   `json:"blob,omitempty"`
}

func BoolValue(b bool) Value      { return Value{Type: TypeBoolean, Bool: b} }
func IntValue(i int32) Value      { return Value{Type: TypeInt, Int: int64(i)} }
func BigIntValue(i int64) Value   { return Value{Type: TypeBigInt, Int: i} }
func FloatValue(f float32) Value  { return Value{Type: TypeFloat, Float: float64(f)} }
func DoubleValue(f float64) Value { return Value{Type: TypeDouble, Float: f} }
func TextValue(s string) Value    { return Value{Type: TypeText, Text: s} }
func NullValue(t DataType) Value  { return Value{Type: t, Null: true} }
func BlobValue(b []byte) Value {
	return Value{Type: TypeBlob, Blob: append([]byte(nil), b...)}
}

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool { return v.Null }

// Equal reports whether a and b have the same type and payload. Two nulls of the same type
// are equal.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || v.Null != o.Null {
		return false
	}
	if v.Null {
		return true
	}
	return v.Compare(o) == 0
}

// Compare orders values of the same type. Null sorts before every non-null value.
func (v Value) Compare(o Value) int {
	switch {
	case v.Null && o.Null:
		return 0
	case v.Null:
		return -1
	case o.Null:
		return 1
	}
	switch v.Type {
	case TypeBoolean:
		switch {
		case v.Bool == o.Bool:
			return 0
		case !v.Bool:
			return -1
		default:
			return 1
		}
	case TypeInt, TypeBigInt:
		switch {
		case v.Int < o.Int:
			return -1
		case v.Int > o.Int:
			return 1
		}
		return 0
	case TypeFloat, TypeDouble:
		switch {
		case v.Float < o.Float:
			return -1
		case v.Float > o.Float:
			return 1
		}
		return 0
	case TypeText:
		return strings.Compare(v.Text, o.Text)
	case TypeBlob:
		return bytes.Compare(v.Blob, o.Blob)
	}
	return 0
}

func (v Value) String() string {
	if v.Null {
		return "NULL"
	}
	switch v.Type {
	case TypeBoolean:
		return fmt.Sprintf("%t", v.Bool)
	case TypeInt, TypeBigInt:
		return fmt.Sprintf("%d", v.Int)
	case TypeFloat, TypeDouble:
		return fmt.Sprintf("%g", v.Float)
	case TypeText:
		return fmt.Sprintf("%q", v.Text)
	case TypeBlob:
		return fmt.Sprintf("0x%x", v.Blob)
	}
	return "<invalid>"
}
