package sparkplug

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/thepwizard/unifiednamespace/errors"
)

// Sparkplug B protobuf field numbers. These are fixed by the published
// spBv1.0 schema and must never change.
const (
	fPayloadTimestamp = 1
	fPayloadMetrics   = 2
	fPayloadSeq       = 3
	fPayloadUUID      = 4
	fPayloadBody      = 5

	fMetricName          = 1
	fMetricAlias         = 2
	fMetricTimestamp     = 3
	fMetricDataType      = 4
	fMetricIsHistorical  = 5
	fMetricIsTransient   = 6
	fMetricIsNull        = 7
	fMetricMetadata      = 8
	fMetricProperties    = 9
	fMetricIntValue      = 10
	fMetricLongValue     = 11
	fMetricFloatValue    = 12
	fMetricDoubleValue   = 13
	fMetricBooleanValue  = 14
	fMetricStringValue   = 15
	fMetricBytesValue    = 16
	fMetricDataSetValue  = 17
	fMetricTemplateValue = 18

	fMetaIsMultiPart = 1
	fMetaContentType = 2
	fMetaSize        = 3
	fMetaSeq         = 4
	fMetaFileName    = 5
	fMetaFileType    = 6
	fMetaMD5         = 7
	fMetaDescription = 8
)

// maxNestingDepth bounds recursive decoding of templates and property sets.
// The wire contract itself is unbounded; the limit guards against adversarial
// payloads exhausting the stack.
const maxNestingDepth = 64

// Payload is a decoded Sparkplug B payload.
type Payload struct {
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp uint64
	Metrics   []Metric
	// Seq is the message sequence number (0-255). Nil when absent, which is
	// only legal for NDEATH payloads.
	Seq  *uint64
	UUID string
	Body []byte
}

// MetaData carries optional file/multipart metadata on a metric.
type MetaData struct {
	IsMultiPart bool
	ContentType string
	Size        uint64
	Seq         uint64
	FileName    string
	FileType    string
	MD5         string
	Description string
}

// Metric is one named value inside a payload.
type Metric struct {
	Name      string
	Alias     *uint64
	Timestamp uint64
	DataType  DataType

	IsHistorical bool
	IsTransient  bool
	// IsNull marks an explicitly absent value. When set, Value is nil
	// regardless of what occupied the wire value slot.
	IsNull bool

	Metadata   *MetaData
	Properties *PropertySet

	// Value holds exactly one variant matching DataType, or nil when IsNull.
	Value Value
}

// wireSlots collects the sibling optional value fields as decoded off the
// wire, before the datatype tag selects which one is meaningful.
type wireSlots struct {
	intVal      uint64
	longVal     uint64
	floatVal    float32
	doubleVal   float64
	boolVal     bool
	stringVal   string
	bytesVal    []byte
	datasetRaw  []byte
	templateRaw []byte

	hasInt      bool
	hasLong     bool
	hasFloat    bool
	hasDouble   bool
	hasBool     bool
	hasString   bool
	hasBytes    bool
	hasDataSet  bool
	hasTemplate bool
}

// MarshalBinary encodes the payload into Sparkplug B wire format.
func (p *Payload) MarshalBinary() ([]byte, error) {
	var b []byte
	if p.Timestamp != 0 {
		b = protowire.AppendTag(b, fPayloadTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, p.Timestamp)
	}
	for i := range p.Metrics {
		mb, err := appendMetric(nil, &p.Metrics[i], 0)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fPayloadMetrics, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}
	if p.Seq != nil {
		b = protowire.AppendTag(b, fPayloadSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, *p.Seq)
	}
	if p.UUID != "" {
		b = protowire.AppendTag(b, fPayloadUUID, protowire.BytesType)
		b = protowire.AppendString(b, p.UUID)
	}
	if len(p.Body) > 0 {
		b = protowire.AppendTag(b, fPayloadBody, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Body)
	}
	return b, nil
}

// DecodePayload parses a Sparkplug B wire payload.
func DecodePayload(b []byte) (*Payload, error) {
	p := &Payload{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, truncated("DecodePayload")
		}
		b = b[n:]

		switch num {
		case fPayloadTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("DecodePayload")
			}
			p.Timestamp = v
			b = b[n:]
		case fPayloadMetrics:
			mb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("DecodePayload")
			}
			m, err := decodeMetric(mb, 0)
			if err != nil {
				return nil, err
			}
			p.Metrics = append(p.Metrics, *m)
			b = b[n:]
		case fPayloadSeq:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("DecodePayload")
			}
			seq := v
			p.Seq = &seq
			b = b[n:]
		case fPayloadUUID:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("DecodePayload")
			}
			p.UUID = s
			b = b[n:]
		case fPayloadBody:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("DecodePayload")
			}
			p.Body = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("DecodePayload")
			}
			b = b[n:]
		}
	}
	return p, nil
}

func truncated(op string) error {
	return errors.WrapInvalid(errors.ErrTruncatedPayload, "sparkplug", op, "wire parsing")
}

func appendMetric(b []byte, m *Metric, depth int) ([]byte, error) {
	if depth > maxNestingDepth {
		return nil, errors.WrapInvalid(errors.ErrDepthExceeded, "sparkplug", "appendMetric", "metric encoding")
	}

	if m.Name != "" {
		b = protowire.AppendTag(b, fMetricName, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	if m.Alias != nil {
		b = protowire.AppendTag(b, fMetricAlias, protowire.VarintType)
		b = protowire.AppendVarint(b, *m.Alias)
	}
	if m.Timestamp != 0 {
		b = protowire.AppendTag(b, fMetricTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Timestamp)
	}
	b = protowire.AppendTag(b, fMetricDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.DataType))
	if m.IsHistorical {
		b = protowire.AppendTag(b, fMetricIsHistorical, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.IsTransient {
		b = protowire.AppendTag(b, fMetricIsTransient, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.IsNull {
		b = protowire.AppendTag(b, fMetricIsNull, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.Metadata != nil {
		b = protowire.AppendTag(b, fMetricMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, appendMetaData(nil, m.Metadata))
	}
	if m.Properties != nil {
		pb, err := appendPropertySet(nil, m.Properties, depth+1)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fMetricProperties, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}

	if m.IsNull || m.Value == nil {
		return b, nil
	}
	if m.Value.Type() != m.DataType {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: metric %q declares %s but value is %s",
				errors.ErrValueTypeMismatch, m.Name, m.DataType, m.Value.Type()),
			"sparkplug", "appendMetric", "value encoding")
	}
	return appendMetricValue(b, m.Value, depth)
}

// appendMetricValue writes the single wire slot selected by the value variant.
func appendMetricValue(b []byte, v Value, depth int) ([]byte, error) {
	switch val := v.(type) {
	case Int8Value:
		b = protowire.AppendTag(b, fMetricIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(val), 8)), nil
	case Int16Value:
		b = protowire.AppendTag(b, fMetricIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(val), 16)), nil
	case Int32Value:
		b = protowire.AppendTag(b, fMetricIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(val), 32)), nil
	case Int64Value:
		b = protowire.AppendTag(b, fMetricLongValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(val), 64)), nil
	case UInt8Value:
		b = protowire.AppendTag(b, fMetricIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(val)), nil
	case UInt16Value:
		b = protowire.AppendTag(b, fMetricIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(val)), nil
	case UInt32Value:
		b = protowire.AppendTag(b, fMetricIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(val)), nil
	case UInt64Value:
		b = protowire.AppendTag(b, fMetricLongValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(val)), nil
	case DateTimeValue:
		b = protowire.AppendTag(b, fMetricLongValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(val)), nil
	case FloatValue:
		b = protowire.AppendTag(b, fMetricFloatValue, protowire.Fixed32Type)
		return protowire.AppendFixed32(b, math.Float32bits(float32(val))), nil
	case DoubleValue:
		b = protowire.AppendTag(b, fMetricDoubleValue, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(float64(val))), nil
	case BooleanValue:
		b = protowire.AppendTag(b, fMetricBooleanValue, protowire.VarintType)
		if val {
			return protowire.AppendVarint(b, 1), nil
		}
		return protowire.AppendVarint(b, 0), nil
	case StringValue:
		b = protowire.AppendTag(b, fMetricStringValue, protowire.BytesType)
		return protowire.AppendString(b, string(val)), nil
	case TextValue:
		b = protowire.AppendTag(b, fMetricStringValue, protowire.BytesType)
		return protowire.AppendString(b, string(val)), nil
	case UUIDValue:
		b = protowire.AppendTag(b, fMetricStringValue, protowire.BytesType)
		return protowire.AppendString(b, string(val)), nil
	case BytesValue:
		b = protowire.AppendTag(b, fMetricBytesValue, protowire.BytesType)
		return protowire.AppendBytes(b, val), nil
	case FileValue:
		b = protowire.AppendTag(b, fMetricBytesValue, protowire.BytesType)
		return protowire.AppendBytes(b, val), nil
	case DataSetValue:
		db, err := appendDataSet(nil, val.DataSet)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fMetricDataSetValue, protowire.BytesType)
		return protowire.AppendBytes(b, db), nil
	case TemplateValue:
		tb, err := appendTemplate(nil, val.Template, depth+1)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fMetricTemplateValue, protowire.BytesType)
		return protowire.AppendBytes(b, tb), nil
	default:
		if v.Type().IsArray() {
			blob, err := packArray(v)
			if err != nil {
				return nil, err
			}
			b = protowire.AppendTag(b, fMetricBytesValue, protowire.BytesType)
			return protowire.AppendBytes(b, blob), nil
		}
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s has no metric wire slot", errors.ErrValueTypeMismatch, v.Type()),
			"sparkplug", "appendMetricValue", "value encoding")
	}
}

func decodeMetric(b []byte, depth int) (*Metric, error) {
	if depth > maxNestingDepth {
		return nil, errors.WrapInvalid(errors.ErrDepthExceeded, "sparkplug", "decodeMetric", "metric decoding")
	}

	m := &Metric{}
	var slots wireSlots

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, truncated("decodeMetric")
		}
		b = b[n:]

		switch num {
		case fMetricName:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			m.Name = s
			b = b[n:]
		case fMetricAlias:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			alias := v
			m.Alias = &alias
			b = b[n:]
		case fMetricTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			m.Timestamp = v
			b = b[n:]
		case fMetricDataType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			m.DataType = DataType(v)
			b = b[n:]
		case fMetricIsHistorical:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			m.IsHistorical = v != 0
			b = b[n:]
		case fMetricIsTransient:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			m.IsTransient = v != 0
			b = b[n:]
		case fMetricIsNull:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			m.IsNull = v != 0
			b = b[n:]
		case fMetricMetadata:
			mb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			md, err := decodeMetaData(mb)
			if err != nil {
				return nil, err
			}
			m.Metadata = md
			b = b[n:]
		case fMetricProperties:
			pb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			ps, err := decodePropertySet(pb, depth+1)
			if err != nil {
				return nil, err
			}
			m.Properties = ps
			b = b[n:]
		case fMetricIntValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			slots.intVal, slots.hasInt = v, true
			b = b[n:]
		case fMetricLongValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			slots.longVal, slots.hasLong = v, true
			b = b[n:]
		case fMetricFloatValue:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			slots.floatVal, slots.hasFloat = math.Float32frombits(v), true
			b = b[n:]
		case fMetricDoubleValue:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			slots.doubleVal, slots.hasDouble = math.Float64frombits(v), true
			b = b[n:]
		case fMetricBooleanValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			slots.boolVal, slots.hasBool = v != 0, true
			b = b[n:]
		case fMetricStringValue:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			slots.stringVal, slots.hasString = s, true
			b = b[n:]
		case fMetricBytesValue:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			slots.bytesVal, slots.hasBytes = append([]byte(nil), v...), true
			b = b[n:]
		case fMetricDataSetValue:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			slots.datasetRaw, slots.hasDataSet = append([]byte(nil), v...), true
			b = b[n:]
		case fMetricTemplateValue:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			slots.templateRaw, slots.hasTemplate = append([]byte(nil), v...), true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("decodeMetric")
			}
			b = b[n:]
		}
	}

	// An explicit null decodes to the absence of a value regardless of what
	// occupied the wire value slot.
	if m.IsNull {
		m.Value = nil
		return m, nil
	}

	v, err := valueFromSlots(m.DataType, &slots, depth)
	if err != nil {
		return nil, err
	}
	m.Value = v
	return m, nil
}

// valueFromSlots selects and converts the wire slot governed by the datatype
// tag. A tag the codec does not recognize fails decoding; it is never
// silently coerced.
func valueFromSlots(dt DataType, s *wireSlots, depth int) (Value, error) {
	switch dt {
	case DataTypeInt8:
		if !s.hasInt {
			return nil, nil
		}
		return Int8Value(decodeSigned(s.intVal, 8)), nil
	case DataTypeInt16:
		if !s.hasInt {
			return nil, nil
		}
		return Int16Value(decodeSigned(s.intVal, 16)), nil
	case DataTypeInt32:
		if !s.hasInt {
			return nil, nil
		}
		return Int32Value(decodeSigned(s.intVal, 32)), nil
	case DataTypeInt64:
		if !s.hasLong {
			return nil, nil
		}
		return Int64Value(decodeSigned(s.longVal, 64)), nil
	case DataTypeUInt8:
		if !s.hasInt {
			return nil, nil
		}
		return UInt8Value(s.intVal), nil
	case DataTypeUInt16:
		if !s.hasInt {
			return nil, nil
		}
		return UInt16Value(s.intVal), nil
	case DataTypeUInt32:
		if !s.hasInt {
			return nil, nil
		}
		return UInt32Value(s.intVal), nil
	case DataTypeUInt64:
		if !s.hasLong {
			return nil, nil
		}
		return UInt64Value(s.longVal), nil
	case DataTypeDateTime:
		if !s.hasLong {
			return nil, nil
		}
		return DateTimeValue(s.longVal), nil
	case DataTypeFloat:
		if !s.hasFloat {
			return nil, nil
		}
		return FloatValue(s.floatVal), nil
	case DataTypeDouble:
		if !s.hasDouble {
			return nil, nil
		}
		return DoubleValue(s.doubleVal), nil
	case DataTypeBoolean:
		if !s.hasBool {
			return nil, nil
		}
		return BooleanValue(s.boolVal), nil
	case DataTypeString:
		if !s.hasString {
			return nil, nil
		}
		return StringValue(s.stringVal), nil
	case DataTypeText:
		if !s.hasString {
			return nil, nil
		}
		return TextValue(s.stringVal), nil
	case DataTypeUUID:
		if !s.hasString {
			return nil, nil
		}
		return UUIDValue(s.stringVal), nil
	case DataTypeBytes:
		if !s.hasBytes {
			return nil, nil
		}
		return BytesValue(s.bytesVal), nil
	case DataTypeFile:
		if !s.hasBytes {
			return nil, nil
		}
		return FileValue(s.bytesVal), nil
	case DataTypeDataSet:
		if !s.hasDataSet {
			return nil, nil
		}
		ds, err := decodeDataSet(s.datasetRaw)
		if err != nil {
			return nil, err
		}
		return DataSetValue{DataSet: ds}, nil
	case DataTypeTemplate:
		if !s.hasTemplate {
			return nil, nil
		}
		tpl, err := decodeTemplate(s.templateRaw, depth+1)
		if err != nil {
			return nil, err
		}
		return TemplateValue{Template: tpl}, nil
	default:
		if dt.IsArray() {
			if !s.hasBytes {
				return nil, nil
			}
			return unpackArray(dt, s.bytesVal)
		}
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d", errors.ErrUnknownDataType, uint32(dt)),
			"sparkplug", "valueFromSlots", "value decoding")
	}
}

func appendMetaData(b []byte, md *MetaData) []byte {
	if md.IsMultiPart {
		b = protowire.AppendTag(b, fMetaIsMultiPart, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if md.ContentType != "" {
		b = protowire.AppendTag(b, fMetaContentType, protowire.BytesType)
		b = protowire.AppendString(b, md.ContentType)
	}
	if md.Size != 0 {
		b = protowire.AppendTag(b, fMetaSize, protowire.VarintType)
		b = protowire.AppendVarint(b, md.Size)
	}
	if md.Seq != 0 {
		b = protowire.AppendTag(b, fMetaSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, md.Seq)
	}
	if md.FileName != "" {
		b = protowire.AppendTag(b, fMetaFileName, protowire.BytesType)
		b = protowire.AppendString(b, md.FileName)
	}
	if md.FileType != "" {
		b = protowire.AppendTag(b, fMetaFileType, protowire.BytesType)
		b = protowire.AppendString(b, md.FileType)
	}
	if md.MD5 != "" {
		b = protowire.AppendTag(b, fMetaMD5, protowire.BytesType)
		b = protowire.AppendString(b, md.MD5)
	}
	if md.Description != "" {
		b = protowire.AppendTag(b, fMetaDescription, protowire.BytesType)
		b = protowire.AppendString(b, md.Description)
	}
	return b
}

func decodeMetaData(b []byte) (*MetaData, error) {
	md := &MetaData{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, truncated("decodeMetaData")
		}
		b = b[n:]

		switch num {
		case fMetaIsMultiPart:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetaData")
			}
			md.IsMultiPart = v != 0
			b = b[n:]
		case fMetaContentType, fMetaFileName, fMetaFileType, fMetaMD5, fMetaDescription:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodeMetaData")
			}
			switch num {
			case fMetaContentType:
				md.ContentType = s
			case fMetaFileName:
				md.FileName = s
			case fMetaFileType:
				md.FileType = s
			case fMetaMD5:
				md.MD5 = s
			case fMetaDescription:
				md.Description = s
			}
			b = b[n:]
		case fMetaSize, fMetaSeq:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeMetaData")
			}
			if num == fMetaSize {
				md.Size = v
			} else {
				md.Seq = v
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("decodeMetaData")
			}
			b = b[n:]
		}
	}
	return md, nil
}
