package sparkplug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thepwizard/unifiednamespace/errors"
)

func TestSignedWireTransform(t *testing.T) {
	tests := []struct {
		name string
		v    int64
		bits uint
		wire uint64
	}{
		{"int8 negative one", -1, 8, 255},
		{"int8 min", -128, 8, 128},
		{"int8 max", 127, 8, 127},
		{"int16 negative one", -1, 16, 65535},
		{"int16 min", -32768, 16, 32768},
		{"int32 negative one", -1, 32, 4294967295},
		{"int32 min", -2147483648, 32, 2147483648},
		{"int64 negative one", -1, 64, 18446744073709551615},
		{"zero", 0, 8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wire, encodeSigned(tt.v, tt.bits))
			assert.Equal(t, tt.v, decodeSigned(tt.wire, tt.bits))
		})
	}
}

func TestSignedRoundTripExtremes(t *testing.T) {
	for _, bits := range []uint{8, 16, 32, 64} {
		lo := -(int64(1) << (bits - 1))
		hi := int64(1)<<(bits-1) - 1
		if bits == 64 {
			lo = -9223372036854775808
			hi = 9223372036854775807
		}
		for _, v := range []int64{lo, lo + 1, -1, 0, 1, hi - 1, hi} {
			assert.Equal(t, v, decodeSigned(encodeSigned(v, bits), bits), "bits=%d v=%d", bits, v)
		}
	}
}

func TestPackArrayRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"int8", Int8ArrayValue{-1, 0, 127, -128}},
		{"int16", Int16ArrayValue{-1, 32767, -32768}},
		{"int32", Int32ArrayValue{-1, 2147483647}},
		{"int64", Int64ArrayValue{-1, 9223372036854775807}},
		{"uint8", UInt8ArrayValue{0, 255}},
		{"uint16", UInt16ArrayValue{0, 65535}},
		{"uint32", UInt32ArrayValue{0, 4294967295}},
		{"uint64", UInt64ArrayValue{0, 18446744073709551615}},
		{"float", FloatArrayValue{1.5, -2.25, 0}},
		{"double", DoubleArrayValue{3.14159, -1e100}},
		{"datetime", DateTimeArrayValue{1609459200000, 0}},
		{"string", StringArrayValue{"abc", "", "def"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := packArray(tt.v)
			require.NoError(t, err)
			got, err := unpackArray(tt.v.Type(), blob)
			require.NoError(t, err)
			assert.Equal(t, tt.v, got)
		})
	}
}

func TestBooleanArrayPacking(t *testing.T) {
	v := BooleanArrayValue{true, false, true, true, false, false, false, true, true}
	blob, err := packArray(v)
	require.NoError(t, err)

	// 4-byte little-endian count, then bits MSB-first.
	require.Len(t, blob, 6)
	assert.Equal(t, byte(9), blob[0])
	assert.Equal(t, byte(0xB1), blob[4])
	assert.Equal(t, byte(0x80), blob[5])

	got, err := unpackArray(DataTypeBooleanArray, blob)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestUnpackArrayRejectsBadLengths(t *testing.T) {
	tests := []struct {
		name string
		dt   DataType
		blob []byte
	}{
		{"int16 odd bytes", DataTypeInt16Array, []byte{1, 2, 3}},
		{"int32 misaligned", DataTypeInt32Array, []byte{1, 2, 3, 4, 5}},
		{"double misaligned", DataTypeDoubleArray, []byte{1, 2, 3, 4, 5, 6, 7}},
		{"boolean count too large", DataTypeBooleanArray, []byte{200, 0, 0, 0, 0xFF}},
		{"boolean header short", DataTypeBooleanArray, []byte{1, 0}},
		{"string missing terminator", DataTypeStringArray, []byte("abc\x00def")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := unpackArray(tt.dt, tt.blob)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestValueTypeTags(t *testing.T) {
	assert.Equal(t, DataTypeInt8, Int8Value(1).Type())
	assert.Equal(t, DataTypeDateTime, DateTimeValue(0).Type())
	assert.Equal(t, DataTypeUUID, UUIDValue("").Type())
	assert.Equal(t, DataTypeStringArray, StringArrayValue{}.Type())
	assert.Equal(t, DataTypeDataSet, DataSetValue{}.Type())
	assert.Equal(t, DataTypeTemplate, TemplateValue{}.Type())
	assert.Equal(t, DataTypePropertySet, PropertySetValue{}.Type())
	assert.Equal(t, DataTypePropertySetList, PropertySetListValue{}.Type())
}
