package sparkplug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/thepwizard/unifiednamespace/errors"
)

func seqPtr(v uint64) *uint64 { return &v }

func TestPayloadRoundTripScalars(t *testing.T) {
	p := &Payload{
		Timestamp: 1671554024644,
		Seq:       seqPtr(5),
		Metrics: []Metric{
			{Name: "Temperature", DataType: DataTypeInt32, Value: Int32Value(-273)},
			{Name: "Pressure", DataType: DataTypeDouble, Value: DoubleValue(101.325)},
			{Name: "Running", DataType: DataTypeBoolean, Value: BooleanValue(true)},
			{Name: "Serial", DataType: DataTypeString, Value: StringValue("EN-042")},
			{Name: "Count", DataType: DataTypeUInt64, Value: UInt64Value(18446744073709551615)},
			{Name: "Sampled", DataType: DataTypeDateTime, Value: DateTimeValue(1671554024000)},
		},
	}

	b, err := p.MarshalBinary()
	require.NoError(t, err)

	got, err := DecodePayload(b)
	require.NoError(t, err)
	assert.Equal(t, p.Timestamp, got.Timestamp)
	require.NotNil(t, got.Seq)
	assert.Equal(t, uint64(5), *got.Seq)
	require.Len(t, got.Metrics, len(p.Metrics))
	for i := range p.Metrics {
		assert.Equal(t, p.Metrics[i].Name, got.Metrics[i].Name)
		assert.Equal(t, p.Metrics[i].DataType, got.Metrics[i].DataType)
		assert.Equal(t, p.Metrics[i].Value, got.Metrics[i].Value)
	}
}

func TestPayloadRoundTripSignedWidths(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"int8 min", Int8Value(-128)},
		{"int8 max", Int8Value(127)},
		{"int16 min", Int16Value(-32768)},
		{"int32 negative", Int32Value(-1)},
		{"int64 min", Int64Value(-9223372036854775808)},
		{"uint8 max", UInt8Value(255)},
		{"uint16 max", UInt16Value(65535)},
		{"uint32 max", UInt32Value(4294967295)},
		{"float", FloatValue(-1.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Payload{Metrics: []Metric{{Name: "m", DataType: tt.v.Type(), Value: tt.v}}}
			b, err := p.MarshalBinary()
			require.NoError(t, err)
			got, err := DecodePayload(b)
			require.NoError(t, err)
			require.Len(t, got.Metrics, 1)
			assert.Equal(t, tt.v, got.Metrics[0].Value)
		})
	}
}

func TestPayloadRoundTripArrays(t *testing.T) {
	p := &Payload{
		Metrics: []Metric{
			{Name: "samples", DataType: DataTypeInt16Array, Value: Int16ArrayValue{-1, 500, -500}},
			{Name: "flags", DataType: DataTypeBooleanArray, Value: BooleanArrayValue{true, false, true}},
			{Name: "tags", DataType: DataTypeStringArray, Value: StringArrayValue{"a", "b"}},
		},
	}

	b, err := p.MarshalBinary()
	require.NoError(t, err)
	got, err := DecodePayload(b)
	require.NoError(t, err)
	require.Len(t, got.Metrics, 3)
	assert.Equal(t, Int16ArrayValue{-1, 500, -500}, got.Metrics[0].Value)
	assert.Equal(t, BooleanArrayValue{true, false, true}, got.Metrics[1].Value)
	assert.Equal(t, StringArrayValue{"a", "b"}, got.Metrics[2].Value)
}

func TestNullMetricDecodesToNilValue(t *testing.T) {
	p := &Payload{
		Metrics: []Metric{{Name: "gone", DataType: DataTypeInt32, IsNull: true}},
	}
	b, err := p.MarshalBinary()
	require.NoError(t, err)

	got, err := DecodePayload(b)
	require.NoError(t, err)
	require.Len(t, got.Metrics, 1)
	assert.True(t, got.Metrics[0].IsNull)
	assert.Nil(t, got.Metrics[0].Value)
}

func TestUnknownDataTypeFailsDecode(t *testing.T) {
	var mb []byte
	mb = protowire.AppendTag(mb, fMetricName, protowire.BytesType)
	mb = protowire.AppendString(mb, "bad")
	mb = protowire.AppendTag(mb, fMetricDataType, protowire.VarintType)
	mb = protowire.AppendVarint(mb, 99)
	mb = protowire.AppendTag(mb, fMetricIntValue, protowire.VarintType)
	mb = protowire.AppendVarint(mb, 7)

	var b []byte
	b = protowire.AppendTag(b, fPayloadMetrics, protowire.BytesType)
	b = protowire.AppendBytes(b, mb)

	_, err := DecodePayload(b)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrUnknownDataType)
}

func TestValueDataTypeMismatchFailsEncode(t *testing.T) {
	p := &Payload{
		Metrics: []Metric{{Name: "m", DataType: DataTypeInt32, Value: StringValue("oops")}},
	}
	_, err := p.MarshalBinary()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrValueTypeMismatch)
}

func TestTruncatedPayloadFailsDecode(t *testing.T) {
	p := &Payload{
		Timestamp: 1,
		Metrics:   []Metric{{Name: "m", DataType: DataTypeString, Value: StringValue("hello")}},
	}
	b, err := p.MarshalBinary()
	require.NoError(t, err)

	_, err = DecodePayload(b[:len(b)-3])
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	p := &Payload{Metrics: []Metric{{Name: "m", DataType: DataTypeBoolean, Value: BooleanValue(true)}}}
	b, err := p.MarshalBinary()
	require.NoError(t, err)

	// Trailing field from a future schema revision.
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)

	got, err := DecodePayload(b)
	require.NoError(t, err)
	require.Len(t, got.Metrics, 1)
	assert.Equal(t, BooleanValue(true), got.Metrics[0].Value)
}

func TestMetricFlagsAndMetadataRoundTrip(t *testing.T) {
	alias := uint64(42)
	p := &Payload{
		UUID: "0d0ccf4e-1a3c-4f6b-8d3a-111111111111",
		Body: []byte{0xDE, 0xAD},
		Metrics: []Metric{{
			Name:         "firmware",
			Alias:        &alias,
			Timestamp:    1700000000000,
			DataType:     DataTypeBytes,
			IsHistorical: true,
			IsTransient:  true,
			Metadata: &MetaData{
				IsMultiPart: true,
				ContentType: "application/octet-stream",
				Size:        2048,
				Seq:         3,
				FileName:    "fw.bin",
				MD5:         "d41d8cd98f00b204e9800998ecf8427e",
			},
			Value: BytesValue{0x01, 0x02},
		}},
	}

	b, err := p.MarshalBinary()
	require.NoError(t, err)
	got, err := DecodePayload(b)
	require.NoError(t, err)

	assert.Equal(t, p.UUID, got.UUID)
	assert.Equal(t, p.Body, got.Body)
	require.Len(t, got.Metrics, 1)
	m := got.Metrics[0]
	require.NotNil(t, m.Alias)
	assert.Equal(t, alias, *m.Alias)
	assert.True(t, m.IsHistorical)
	assert.True(t, m.IsTransient)
	require.NotNil(t, m.Metadata)
	assert.Equal(t, *p.Metrics[0].Metadata, *m.Metadata)
	assert.Equal(t, BytesValue{0x01, 0x02}, m.Value)
}

func TestDataSetRoundTrip(t *testing.T) {
	ds := &DataSet{
		Columns: []string{"Int8s", "Int16s", "Labels"},
		Types:   []DataType{DataTypeInt8, DataTypeInt16, DataTypeString},
		Rows: [][]Value{
			{Int8Value(-1), Int16Value(-500), StringValue("x")},
			{Int8Value(127), Int16Value(32767), StringValue("y")},
		},
	}
	p := &Payload{Metrics: []Metric{{Name: "table", DataType: DataTypeDataSet, Value: DataSetValue{DataSet: ds}}}}

	b, err := p.MarshalBinary()
	require.NoError(t, err)
	got, err := DecodePayload(b)
	require.NoError(t, err)

	require.Len(t, got.Metrics, 1)
	dv, ok := got.Metrics[0].Value.(DataSetValue)
	require.True(t, ok)
	assert.Equal(t, ds.Columns, dv.DataSet.Columns)
	assert.Equal(t, ds.Types, dv.DataSet.Types)
	assert.Equal(t, ds.Rows, dv.DataSet.Rows)
}

func TestDataSetRowWidthMismatchFailsEncode(t *testing.T) {
	ds := &DataSet{
		Columns: []string{"a", "b"},
		Types:   []DataType{DataTypeInt32, DataTypeInt32},
		Rows:    [][]Value{{Int32Value(1)}},
	}
	p := &Payload{Metrics: []Metric{{Name: "table", DataType: DataTypeDataSet, Value: DataSetValue{DataSet: ds}}}}

	_, err := p.MarshalBinary()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRowWidthMismatch)
}

func TestTemplateRoundTrip(t *testing.T) {
	tpl := &Template{
		Version:      "v1.2",
		TemplateRef:  "Motor",
		IsDefinition: false,
		Metrics: []Metric{
			{Name: "RPM", DataType: DataTypeDouble, Value: DoubleValue(1780.5)},
			{Name: "Fault", DataType: DataTypeBoolean, Value: BooleanValue(false)},
		},
		Parameters: []Parameter{
			{Name: "Rating", Type: DataTypeInt32, Value: Int32Value(-10)},
			{Name: "Model", Type: DataTypeString, Value: StringValue("M200")},
		},
	}
	p := &Payload{Metrics: []Metric{{Name: "motor1", DataType: DataTypeTemplate, Value: TemplateValue{Template: tpl}}}}

	b, err := p.MarshalBinary()
	require.NoError(t, err)
	got, err := DecodePayload(b)
	require.NoError(t, err)

	require.Len(t, got.Metrics, 1)
	tv, ok := got.Metrics[0].Value.(TemplateValue)
	require.True(t, ok)
	assert.Equal(t, tpl.Version, tv.Template.Version)
	assert.Equal(t, tpl.TemplateRef, tv.Template.TemplateRef)
	require.Len(t, tv.Template.Metrics, 2)
	assert.Equal(t, DoubleValue(1780.5), tv.Template.Metrics[0].Value)
	require.Len(t, tv.Template.Parameters, 2)
	assert.Equal(t, Int32Value(-10), tv.Template.Parameters[0].Value)
	assert.Equal(t, StringValue("M200"), tv.Template.Parameters[1].Value)
}

func TestPropertySetRoundTrip(t *testing.T) {
	props := &PropertySet{
		Keys: []string{"engUnit", "quality", "detail"},
		Values: []PropertyValue{
			{Type: DataTypeString, Value: StringValue("degC")},
			{Type: DataTypeInt32, Value: Int32Value(192)},
			{Type: DataTypePropertySet, Value: PropertySetValue{PropertySet: &PropertySet{
				Keys:   []string{"source"},
				Values: []PropertyValue{{Type: DataTypeString, Value: StringValue("plc4")}},
			}}},
		},
	}
	p := &Payload{Metrics: []Metric{{
		Name:       "Temperature",
		DataType:   DataTypeDouble,
		Properties: props,
		Value:      DoubleValue(21.5),
	}}}

	b, err := p.MarshalBinary()
	require.NoError(t, err)
	got, err := DecodePayload(b)
	require.NoError(t, err)

	require.Len(t, got.Metrics, 1)
	ps := got.Metrics[0].Properties
	require.NotNil(t, ps)
	assert.Equal(t, props.Keys, ps.Keys)
	require.Len(t, ps.Values, 3)
	assert.Equal(t, StringValue("degC"), ps.Values[0].Value)
	assert.Equal(t, Int32Value(192), ps.Values[1].Value)
	nested, ok := ps.Values[2].Value.(PropertySetValue)
	require.True(t, ok)
	assert.Equal(t, []string{"source"}, nested.PropertySet.Keys)
}

func TestNullPropertyValue(t *testing.T) {
	props := &PropertySet{
		Keys:   []string{"unset"},
		Values: []PropertyValue{{Type: DataTypeString, IsNull: true}},
	}
	p := &Payload{Metrics: []Metric{{Name: "m", DataType: DataTypeBoolean, Properties: props, Value: BooleanValue(true)}}}

	b, err := p.MarshalBinary()
	require.NoError(t, err)
	got, err := DecodePayload(b)
	require.NoError(t, err)

	vals := got.Metrics[0].Properties.Values
	require.Len(t, vals, 1)
	assert.True(t, vals[0].IsNull)
	assert.Nil(t, vals[0].Value)
}

func TestDeeplyNestedPropertySetFailsDecode(t *testing.T) {
	// Build nesting deeper than the codec's recursion limit by hand.
	var inner []byte
	inner = protowire.AppendTag(inner, fPropertySetKeys, protowire.BytesType)
	inner = protowire.AppendString(inner, "leaf")
	var vb []byte
	vb = protowire.AppendTag(vb, fPropValueType, protowire.VarintType)
	vb = protowire.AppendVarint(vb, uint64(DataTypeString))
	vb = protowire.AppendTag(vb, fPropValueString, protowire.BytesType)
	vb = protowire.AppendString(vb, "v")
	inner = protowire.AppendTag(inner, fPropertySetValues, protowire.BytesType)
	inner = protowire.AppendBytes(inner, vb)

	for i := 0; i < maxNestingDepth+2; i++ {
		var pv []byte
		pv = protowire.AppendTag(pv, fPropValueType, protowire.VarintType)
		pv = protowire.AppendVarint(pv, uint64(DataTypePropertySet))
		pv = protowire.AppendTag(pv, fPropValuePropertySet, protowire.BytesType)
		pv = protowire.AppendBytes(pv, inner)

		var outer []byte
		outer = protowire.AppendTag(outer, fPropertySetKeys, protowire.BytesType)
		outer = protowire.AppendString(outer, "nested")
		outer = protowire.AppendTag(outer, fPropertySetValues, protowire.BytesType)
		outer = protowire.AppendBytes(outer, pv)
		inner = outer
	}

	var mb []byte
	mb = protowire.AppendTag(mb, fMetricName, protowire.BytesType)
	mb = protowire.AppendString(mb, "m")
	mb = protowire.AppendTag(mb, fMetricDataType, protowire.VarintType)
	mb = protowire.AppendVarint(mb, uint64(DataTypeBoolean))
	mb = protowire.AppendTag(mb, fMetricProperties, protowire.BytesType)
	mb = protowire.AppendBytes(mb, inner)
	mb = protowire.AppendTag(mb, fMetricBooleanValue, protowire.VarintType)
	mb = protowire.AppendVarint(mb, 1)

	var b []byte
	b = protowire.AppendTag(b, fPayloadMetrics, protowire.BytesType)
	b = protowire.AppendBytes(b, mb)

	_, err := DecodePayload(b)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDepthExceeded)
}

func TestFieldOrderIndependence(t *testing.T) {
	// Value slot before the datatype tag must still decode correctly.
	var mb []byte
	mb = protowire.AppendTag(mb, fMetricIntValue, protowire.VarintType)
	mb = protowire.AppendVarint(mb, 255)
	mb = protowire.AppendTag(mb, fMetricName, protowire.BytesType)
	mb = protowire.AppendString(mb, "late-type")
	mb = protowire.AppendTag(mb, fMetricDataType, protowire.VarintType)
	mb = protowire.AppendVarint(mb, uint64(DataTypeInt8))

	var b []byte
	b = protowire.AppendTag(b, fPayloadMetrics, protowire.BytesType)
	b = protowire.AppendBytes(b, mb)

	got, err := DecodePayload(b)
	require.NoError(t, err)
	require.Len(t, got.Metrics, 1)
	assert.Equal(t, Int8Value(-1), got.Metrics[0].Value)
}
