package sparkplug

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/thepwizard/unifiednamespace/errors"
)

// Value is the closed set of metric value variants. Exactly one variant is
// populated per metric, selected by the datatype tag; a nil Value together
// with IsNull models the explicit absent-value marker.
type Value interface {
	// Type returns the datatype tag this value encodes under.
	Type() DataType
	isValue()
}

// Scalar variants.
type (
	Int8Value    int8
	Int16Value   int16
	Int32Value   int32
	Int64Value   int64
	UInt8Value   uint8
	UInt16Value  uint16
	UInt32Value  uint32
	UInt64Value  uint64
	FloatValue   float32
	DoubleValue  float64
	BooleanValue bool
	StringValue  string
	TextValue    string
	UUIDValue    string
	// DateTimeValue is milliseconds since the Unix epoch.
	DateTimeValue int64
	BytesValue    []byte
	FileValue     []byte
)

// Array variants, stored on the wire as little-endian packed blobs.
type (
	Int8ArrayValue     []int8
	Int16ArrayValue    []int16
	Int32ArrayValue    []int32
	Int64ArrayValue    []int64
	UInt8ArrayValue    []uint8
	UInt16ArrayValue   []uint16
	UInt32ArrayValue   []uint32
	UInt64ArrayValue   []uint64
	FloatArrayValue    []float32
	DoubleArrayValue   []float64
	BooleanArrayValue  []bool
	StringArrayValue   []string
	DateTimeArrayValue []int64
)

func (Int8Value) Type() DataType     { return DataTypeInt8 }
func (Int16Value) Type() DataType    { return DataTypeInt16 }
func (Int32Value) Type() DataType    { return DataTypeInt32 }
func (Int64Value) Type() DataType    { return DataTypeInt64 }
func (UInt8Value) Type() DataType    { return DataTypeUInt8 }
func (UInt16Value) Type() DataType   { return DataTypeUInt16 }
func (UInt32Value) Type() DataType   { return DataTypeUInt32 }
func (UInt64Value) Type() DataType   { return DataTypeUInt64 }
func (FloatValue) Type() DataType    { return DataTypeFloat }
func (DoubleValue) Type() DataType   { return DataTypeDouble }
func (BooleanValue) Type() DataType  { return DataTypeBoolean }
func (StringValue) Type() DataType   { return DataTypeString }
func (TextValue) Type() DataType     { return DataTypeText }
func (UUIDValue) Type() DataType     { return DataTypeUUID }
func (DateTimeValue) Type() DataType { return DataTypeDateTime }
func (BytesValue) Type() DataType    { return DataTypeBytes }
func (FileValue) Type() DataType     { return DataTypeFile }

func (Int8ArrayValue) Type() DataType     { return DataTypeInt8Array }
func (Int16ArrayValue) Type() DataType    { return DataTypeInt16Array }
func (Int32ArrayValue) Type() DataType    { return DataTypeInt32Array }
func (Int64ArrayValue) Type() DataType    { return DataTypeInt64Array }
func (UInt8ArrayValue) Type() DataType    { return DataTypeUInt8Array }
func (UInt16ArrayValue) Type() DataType   { return DataTypeUInt16Array }
func (UInt32ArrayValue) Type() DataType   { return DataTypeUInt32Array }
func (UInt64ArrayValue) Type() DataType   { return DataTypeUInt64Array }
func (FloatArrayValue) Type() DataType    { return DataTypeFloatArray }
func (DoubleArrayValue) Type() DataType   { return DataTypeDoubleArray }
func (BooleanArrayValue) Type() DataType  { return DataTypeBooleanArray }
func (StringArrayValue) Type() DataType   { return DataTypeStringArray }
func (DateTimeArrayValue) Type() DataType { return DataTypeDateTimeArray }

func (Int8Value) isValue()     {}
func (Int16Value) isValue()    {}
func (Int32Value) isValue()    {}
func (Int64Value) isValue()    {}
func (UInt8Value) isValue()    {}
func (UInt16Value) isValue()   {}
func (UInt32Value) isValue()   {}
func (UInt64Value) isValue()   {}
func (FloatValue) isValue()    {}
func (DoubleValue) isValue()   {}
func (BooleanValue) isValue()  {}
func (StringValue) isValue()   {}
func (TextValue) isValue()     {}
func (UUIDValue) isValue()     {}
func (DateTimeValue) isValue() {}
func (BytesValue) isValue()    {}
func (FileValue) isValue()     {}

func (Int8ArrayValue) isValue()     {}
func (Int16ArrayValue) isValue()    {}
func (Int32ArrayValue) isValue()    {}
func (Int64ArrayValue) isValue()    {}
func (UInt8ArrayValue) isValue()    {}
func (UInt16ArrayValue) isValue()   {}
func (UInt32ArrayValue) isValue()   {}
func (UInt64ArrayValue) isValue()   {}
func (FloatArrayValue) isValue()    {}
func (DoubleArrayValue) isValue()   {}
func (BooleanArrayValue) isValue()  {}
func (StringArrayValue) isValue()   {}
func (DateTimeArrayValue) isValue() {}

// Composite variants are declared alongside their codecs: DataSetValue in
// dataset.go, TemplateValue in template.go, PropertySetValue and
// PropertySetListValue in propertyset.go.

// encodeSigned maps a signed logical value onto its unsigned wire counterpart:
// negative values gain 2^bits. Exact and invertible for the full width.
func encodeSigned(v int64, bits uint) uint64 {
	if bits >= 64 {
		return uint64(v)
	}
	return uint64(v) & (1<<bits - 1)
}

// decodeSigned inverts encodeSigned: wire values beyond the signed range of
// the width lose 2^bits.
func decodeSigned(w uint64, bits uint) int64 {
	if bits >= 64 {
		return int64(w)
	}
	w &= 1<<bits - 1
	if w >= 1<<(bits-1) {
		return int64(w) - int64(1)<<bits
	}
	return int64(w)
}

// packArray encodes an array variant into its little-endian packed wire blob.
func packArray(v Value) ([]byte, error) {
	switch a := v.(type) {
	case Int8ArrayValue:
		out := make([]byte, len(a))
		for i, e := range a {
			out[i] = byte(e)
		}
		return out, nil
	case Int16ArrayValue:
		out := make([]byte, 2*len(a))
		for i, e := range a {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(e))
		}
		return out, nil
	case Int32ArrayValue:
		out := make([]byte, 4*len(a))
		for i, e := range a {
			binary.LittleEndian.PutUint32(out[4*i:], uint32(e))
		}
		return out, nil
	case Int64ArrayValue:
		out := make([]byte, 8*len(a))
		for i, e := range a {
			binary.LittleEndian.PutUint64(out[8*i:], uint64(e))
		}
		return out, nil
	case UInt8ArrayValue:
		out := make([]byte, len(a))
		copy(out, a)
		return out, nil
	case UInt16ArrayValue:
		out := make([]byte, 2*len(a))
		for i, e := range a {
			binary.LittleEndian.PutUint16(out[2*i:], e)
		}
		return out, nil
	case UInt32ArrayValue:
		out := make([]byte, 4*len(a))
		for i, e := range a {
			binary.LittleEndian.PutUint32(out[4*i:], e)
		}
		return out, nil
	case UInt64ArrayValue:
		out := make([]byte, 8*len(a))
		for i, e := range a {
			binary.LittleEndian.PutUint64(out[8*i:], e)
		}
		return out, nil
	case FloatArrayValue:
		out := make([]byte, 4*len(a))
		for i, e := range a {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(e))
		}
		return out, nil
	case DoubleArrayValue:
		out := make([]byte, 8*len(a))
		for i, e := range a {
			binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(e))
		}
		return out, nil
	case DateTimeArrayValue:
		out := make([]byte, 8*len(a))
		for i, e := range a {
			binary.LittleEndian.PutUint64(out[8*i:], uint64(e))
		}
		return out, nil
	case BooleanArrayValue:
		// 4-byte little-endian element count, then bits packed MSB-first.
		out := make([]byte, 4+(len(a)+7)/8)
		binary.LittleEndian.PutUint32(out, uint32(len(a)))
		for i, e := range a {
			if e {
				out[4+i/8] |= 0x80 >> (i % 8)
			}
		}
		return out, nil
	case StringArrayValue:
		var out []byte
		for _, s := range a {
			out = append(out, s...)
			out = append(out, 0)
		}
		return out, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s is not an array type", errors.ErrValueTypeMismatch, v.Type()),
			"sparkplug", "packArray", "array encoding")
	}
}

// unpackArray decodes a little-endian packed wire blob into the array variant
// selected by the datatype tag.
func unpackArray(dt DataType, b []byte) (Value, error) {
	badLen := func(unit int) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s blob of %d bytes is not a multiple of %d",
				errors.ErrTruncatedPayload, dt, len(b), unit),
			"sparkplug", "unpackArray", "array decoding")
	}

	switch dt {
	case DataTypeInt8Array:
		out := make(Int8ArrayValue, len(b))
		for i := range b {
			out[i] = int8(b[i])
		}
		return out, nil
	case DataTypeInt16Array:
		if len(b)%2 != 0 {
			return nil, badLen(2)
		}
		out := make(Int16ArrayValue, len(b)/2)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
		}
		return out, nil
	case DataTypeInt32Array:
		if len(b)%4 != 0 {
			return nil, badLen(4)
		}
		out := make(Int32ArrayValue, len(b)/4)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
		}
		return out, nil
	case DataTypeInt64Array:
		if len(b)%8 != 0 {
			return nil, badLen(8)
		}
		out := make(Int64ArrayValue, len(b)/8)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(b[8*i:]))
		}
		return out, nil
	case DataTypeUInt8Array:
		out := make(UInt8ArrayValue, len(b))
		copy(out, b)
		return out, nil
	case DataTypeUInt16Array:
		if len(b)%2 != 0 {
			return nil, badLen(2)
		}
		out := make(UInt16ArrayValue, len(b)/2)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(b[2*i:])
		}
		return out, nil
	case DataTypeUInt32Array:
		if len(b)%4 != 0 {
			return nil, badLen(4)
		}
		out := make(UInt32ArrayValue, len(b)/4)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(b[4*i:])
		}
		return out, nil
	case DataTypeUInt64Array:
		if len(b)%8 != 0 {
			return nil, badLen(8)
		}
		out := make(UInt64ArrayValue, len(b)/8)
		for i := range out {
			out[i] = binary.LittleEndian.Uint64(b[8*i:])
		}
		return out, nil
	case DataTypeFloatArray:
		if len(b)%4 != 0 {
			return nil, badLen(4)
		}
		out := make(FloatArrayValue, len(b)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
		return out, nil
	case DataTypeDoubleArray:
		if len(b)%8 != 0 {
			return nil, badLen(8)
		}
		out := make(DoubleArrayValue, len(b)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
		}
		return out, nil
	case DataTypeDateTimeArray:
		if len(b)%8 != 0 {
			return nil, badLen(8)
		}
		out := make(DateTimeArrayValue, len(b)/8)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(b[8*i:]))
		}
		return out, nil
	case DataTypeBooleanArray:
		if len(b) < 4 {
			return nil, badLen(4)
		}
		count := int(binary.LittleEndian.Uint32(b))
		if (count+7)/8 > len(b)-4 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: boolean array count %d exceeds blob size %d",
					errors.ErrTruncatedPayload, count, len(b)),
				"sparkplug", "unpackArray", "boolean array decoding")
		}
		out := make(BooleanArrayValue, count)
		for i := 0; i < count; i++ {
			out[i] = b[4+i/8]&(0x80>>(i%8)) != 0
		}
		return out, nil
	case DataTypeStringArray:
		out := StringArrayValue{}
		start := 0
		for i, c := range b {
			if c == 0 {
				out = append(out, string(b[start:i]))
				start = i + 1
			}
		}
		if start != len(b) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: string array blob missing terminator", errors.ErrTruncatedPayload),
				"sparkplug", "unpackArray", "string array decoding")
		}
		return out, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d", errors.ErrUnknownDataType, uint32(dt)),
			"sparkplug", "unpackArray", "array decoding")
	}
}
