package sparkplug

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/thepwizard/unifiednamespace/errors"
)

const (
	fTemplateVersion      = 1
	fTemplateMetrics      = 2
	fTemplateParameters   = 3
	fTemplateRef          = 4
	fTemplateIsDefinition = 5

	fParamName         = 1
	fParamType         = 2
	fParamIntValue     = 3
	fParamLongValue    = 4
	fParamFloatValue   = 5
	fParamDoubleValue  = 6
	fParamBooleanValue = 7
	fParamStringValue  = 8
)

// Template is a user-defined type: a named group of member metrics with
// optional parameters. A definition (IsDefinition true) is published in births;
// instances reference their definition through TemplateRef.
type Template struct {
	Version      string
	Metrics      []Metric
	Parameters   []Parameter
	TemplateRef  string
	IsDefinition bool
}

// Parameter is a scalar-valued template argument.
type Parameter struct {
	Name string
	Type DataType
	// Value holds a scalar variant matching Type, or nil when unset.
	Value Value
}

// TemplateValue is the metric value variant carrying a Template.
type TemplateValue struct {
	Template *Template
}

func (TemplateValue) Type() DataType { return DataTypeTemplate }
func (TemplateValue) isValue()       {}

func appendTemplate(b []byte, t *Template, depth int) ([]byte, error) {
	if t == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: nil template", errors.ErrValueTypeMismatch),
			"sparkplug", "appendTemplate", "template encoding")
	}
	if depth > maxNestingDepth {
		return nil, errors.WrapInvalid(errors.ErrDepthExceeded, "sparkplug", "appendTemplate", "template encoding")
	}

	if t.Version != "" {
		b = protowire.AppendTag(b, fTemplateVersion, protowire.BytesType)
		b = protowire.AppendString(b, t.Version)
	}
	for i := range t.Metrics {
		mb, err := appendMetric(nil, &t.Metrics[i], depth+1)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fTemplateMetrics, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}
	for i := range t.Parameters {
		pb, err := appendParameter(nil, &t.Parameters[i])
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fTemplateParameters, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	if t.TemplateRef != "" {
		b = protowire.AppendTag(b, fTemplateRef, protowire.BytesType)
		b = protowire.AppendString(b, t.TemplateRef)
	}
	if t.IsDefinition {
		b = protowire.AppendTag(b, fTemplateIsDefinition, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

func appendParameter(b []byte, p *Parameter) ([]byte, error) {
	if p.Name != "" {
		b = protowire.AppendTag(b, fParamName, protowire.BytesType)
		b = protowire.AppendString(b, p.Name)
	}
	b = protowire.AppendTag(b, fParamType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Type))

	if p.Value == nil {
		return b, nil
	}
	if p.Value.Type() != p.Type {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: parameter %q declares %s but value is %s",
				errors.ErrValueTypeMismatch, p.Name, p.Type, p.Value.Type()),
			"sparkplug", "appendParameter", "parameter encoding")
	}

	switch v := p.Value.(type) {
	case Int8Value:
		b = protowire.AppendTag(b, fParamIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 8)), nil
	case Int16Value:
		b = protowire.AppendTag(b, fParamIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 16)), nil
	case Int32Value:
		b = protowire.AppendTag(b, fParamIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 32)), nil
	case UInt8Value:
		b = protowire.AppendTag(b, fParamIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case UInt16Value:
		b = protowire.AppendTag(b, fParamIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case UInt32Value:
		b = protowire.AppendTag(b, fParamIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case Int64Value:
		b = protowire.AppendTag(b, fParamLongValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 64)), nil
	case UInt64Value:
		b = protowire.AppendTag(b, fParamLongValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case DateTimeValue:
		b = protowire.AppendTag(b, fParamLongValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case FloatValue:
		b = protowire.AppendTag(b, fParamFloatValue, protowire.Fixed32Type)
		return protowire.AppendFixed32(b, math.Float32bits(float32(v))), nil
	case DoubleValue:
		b = protowire.AppendTag(b, fParamDoubleValue, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(float64(v))), nil
	case BooleanValue:
		b = protowire.AppendTag(b, fParamBooleanValue, protowire.VarintType)
		if v {
			return protowire.AppendVarint(b, 1), nil
		}
		return protowire.AppendVarint(b, 0), nil
	case StringValue:
		b = protowire.AppendTag(b, fParamStringValue, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	case TextValue:
		b = protowire.AppendTag(b, fParamStringValue, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	case UUIDValue:
		b = protowire.AppendTag(b, fParamStringValue, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s cannot be a template parameter", errors.ErrValueTypeMismatch, p.Value.Type()),
			"sparkplug", "appendParameter", "parameter encoding")
	}
}

func decodeTemplate(b []byte, depth int) (*Template, error) {
	if depth > maxNestingDepth {
		return nil, errors.WrapInvalid(errors.ErrDepthExceeded, "sparkplug", "decodeTemplate", "template decoding")
	}

	t := &Template{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, truncated("decodeTemplate")
		}
		b = b[n:]

		switch num {
		case fTemplateVersion:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodeTemplate")
			}
			t.Version = s
			b = b[n:]
		case fTemplateMetrics:
			mb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodeTemplate")
			}
			m, err := decodeMetric(mb, depth+1)
			if err != nil {
				return nil, err
			}
			t.Metrics = append(t.Metrics, *m)
			b = b[n:]
		case fTemplateParameters:
			pb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodeTemplate")
			}
			p, err := decodeParameter(pb)
			if err != nil {
				return nil, err
			}
			t.Parameters = append(t.Parameters, *p)
			b = b[n:]
		case fTemplateRef:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodeTemplate")
			}
			t.TemplateRef = s
			b = b[n:]
		case fTemplateIsDefinition:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeTemplate")
			}
			t.IsDefinition = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("decodeTemplate")
			}
			b = b[n:]
		}
	}
	return t, nil
}

func decodeParameter(b []byte) (*Parameter, error) {
	p := &Parameter{}
	var (
		intVal, longVal     uint64
		floatVal            float32
		doubleVal           float64
		boolVal             bool
		stringVal           string
		hasInt, hasLong     bool
		hasFloat, hasDouble bool
		hasBool, hasString  bool
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, truncated("decodeParameter")
		}
		b = b[n:]

		switch num {
		case fParamName:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodeParameter")
			}
			p.Name = s
			b = b[n:]
		case fParamType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeParameter")
			}
			p.Type = DataType(v)
			b = b[n:]
		case fParamIntValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeParameter")
			}
			intVal, hasInt = v, true
			b = b[n:]
		case fParamLongValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeParameter")
			}
			longVal, hasLong = v, true
			b = b[n:]
		case fParamFloatValue:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, truncated("decodeParameter")
			}
			floatVal, hasFloat = math.Float32frombits(v), true
			b = b[n:]
		case fParamDoubleValue:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, truncated("decodeParameter")
			}
			doubleVal, hasDouble = math.Float64frombits(v), true
			b = b[n:]
		case fParamBooleanValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeParameter")
			}
			boolVal, hasBool = v != 0, true
			b = b[n:]
		case fParamStringValue:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodeParameter")
			}
			stringVal, hasString = s, true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("decodeParameter")
			}
			b = b[n:]
		}
	}

	switch p.Type {
	case DataTypeInt8:
		if hasInt {
			p.Value = Int8Value(decodeSigned(intVal, 8))
		}
	case DataTypeInt16:
		if hasInt {
			p.Value = Int16Value(decodeSigned(intVal, 16))
		}
	case DataTypeInt32:
		if hasInt {
			p.Value = Int32Value(decodeSigned(intVal, 32))
		}
	case DataTypeUInt8:
		if hasInt {
			p.Value = UInt8Value(intVal)
		}
	case DataTypeUInt16:
		if hasInt {
			p.Value = UInt16Value(intVal)
		}
	case DataTypeUInt32:
		if hasInt {
			p.Value = UInt32Value(intVal)
		}
	case DataTypeInt64:
		if hasLong {
			p.Value = Int64Value(decodeSigned(longVal, 64))
		}
	case DataTypeUInt64:
		if hasLong {
			p.Value = UInt64Value(longVal)
		}
	case DataTypeDateTime:
		if hasLong {
			p.Value = DateTimeValue(longVal)
		}
	case DataTypeFloat:
		if hasFloat {
			p.Value = FloatValue(floatVal)
		}
	case DataTypeDouble:
		if hasDouble {
			p.Value = DoubleValue(doubleVal)
		}
	case DataTypeBoolean:
		if hasBool {
			p.Value = BooleanValue(boolVal)
		}
	case DataTypeString:
		if hasString {
			p.Value = StringValue(stringVal)
		}
	case DataTypeText:
		if hasString {
			p.Value = TextValue(stringVal)
		}
	case DataTypeUUID:
		if hasString {
			p.Value = UUIDValue(stringVal)
		}
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d as template parameter type", errors.ErrUnknownDataType, uint32(p.Type)),
			"sparkplug", "decodeParameter", "parameter decoding")
	}
	return p, nil
}
