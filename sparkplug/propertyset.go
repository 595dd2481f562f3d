package sparkplug

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/thepwizard/unifiednamespace/errors"
)

const (
	fPropertySetKeys   = 1
	fPropertySetValues = 2

	fPropValueType         = 1
	fPropValueIsNull       = 2
	fPropValueInt          = 3
	fPropValueLong         = 4
	fPropValueFloat        = 5
	fPropValueDouble       = 6
	fPropValueBoolean      = 7
	fPropValueString       = 8
	fPropValuePropertySet  = 9
	fPropValuePropertySets = 10

	fPropertySetListSets = 1
)

// PropertySet is an ordered map of property names to typed values, attached to
// metrics for quality, engineering units and similar annotations. Keys and
// Values are parallel and must be the same length.
type PropertySet struct {
	Keys   []string
	Values []PropertyValue
}

// PropertyValue is one typed property. IsNull marks an explicitly absent
// value; otherwise Value holds the variant matching Type.
type PropertyValue struct {
	Type   DataType
	IsNull bool
	Value  Value
}

// PropertySetValue is the value variant carrying a nested PropertySet.
type PropertySetValue struct {
	PropertySet *PropertySet
}

// PropertySetListValue is the value variant carrying a list of PropertySets.
type PropertySetListValue struct {
	PropertySets []*PropertySet
}

func (PropertySetValue) Type() DataType     { return DataTypePropertySet }
func (PropertySetValue) isValue()           {}
func (PropertySetListValue) Type() DataType { return DataTypePropertySetList }
func (PropertySetListValue) isValue()       {}

func appendPropertySet(b []byte, ps *PropertySet, depth int) ([]byte, error) {
	if ps == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: nil property set", errors.ErrValueTypeMismatch),
			"sparkplug", "appendPropertySet", "property encoding")
	}
	if depth > maxNestingDepth {
		return nil, errors.WrapInvalid(errors.ErrDepthExceeded, "sparkplug", "appendPropertySet", "property encoding")
	}
	if len(ps.Keys) != len(ps.Values) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d keys but %d values",
				errors.ErrRowWidthMismatch, len(ps.Keys), len(ps.Values)),
			"sparkplug", "appendPropertySet", "property encoding")
	}

	for _, k := range ps.Keys {
		b = protowire.AppendTag(b, fPropertySetKeys, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for i := range ps.Values {
		vb, err := appendPropertyValue(nil, &ps.Values[i], depth)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fPropertySetValues, protowire.BytesType)
		b = protowire.AppendBytes(b, vb)
	}
	return b, nil
}

func appendPropertyValue(b []byte, pv *PropertyValue, depth int) ([]byte, error) {
	b = protowire.AppendTag(b, fPropValueType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(pv.Type))
	if pv.IsNull || pv.Value == nil {
		b = protowire.AppendTag(b, fPropValueIsNull, protowire.VarintType)
		return protowire.AppendVarint(b, 1), nil
	}
	if pv.Value.Type() != pv.Type {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: property declares %s but value is %s",
				errors.ErrValueTypeMismatch, pv.Type, pv.Value.Type()),
			"sparkplug", "appendPropertyValue", "property encoding")
	}

	switch v := pv.Value.(type) {
	case Int8Value:
		b = protowire.AppendTag(b, fPropValueInt, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 8)), nil
	case Int16Value:
		b = protowire.AppendTag(b, fPropValueInt, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 16)), nil
	case Int32Value:
		b = protowire.AppendTag(b, fPropValueInt, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 32)), nil
	case UInt8Value:
		b = protowire.AppendTag(b, fPropValueInt, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case UInt16Value:
		b = protowire.AppendTag(b, fPropValueInt, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case UInt32Value:
		b = protowire.AppendTag(b, fPropValueInt, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case Int64Value:
		b = protowire.AppendTag(b, fPropValueLong, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 64)), nil
	case UInt64Value:
		b = protowire.AppendTag(b, fPropValueLong, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case DateTimeValue:
		b = protowire.AppendTag(b, fPropValueLong, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case FloatValue:
		b = protowire.AppendTag(b, fPropValueFloat, protowire.Fixed32Type)
		return protowire.AppendFixed32(b, math.Float32bits(float32(v))), nil
	case DoubleValue:
		b = protowire.AppendTag(b, fPropValueDouble, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(float64(v))), nil
	case BooleanValue:
		b = protowire.AppendTag(b, fPropValueBoolean, protowire.VarintType)
		if v {
			return protowire.AppendVarint(b, 1), nil
		}
		return protowire.AppendVarint(b, 0), nil
	case StringValue:
		b = protowire.AppendTag(b, fPropValueString, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	case TextValue:
		b = protowire.AppendTag(b, fPropValueString, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	case UUIDValue:
		b = protowire.AppendTag(b, fPropValueString, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	case PropertySetValue:
		sb, err := appendPropertySet(nil, v.PropertySet, depth+1)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fPropValuePropertySet, protowire.BytesType)
		return protowire.AppendBytes(b, sb), nil
	case PropertySetListValue:
		var lb []byte
		for _, set := range v.PropertySets {
			sb, err := appendPropertySet(nil, set, depth+1)
			if err != nil {
				return nil, err
			}
			lb = protowire.AppendTag(lb, fPropertySetListSets, protowire.BytesType)
			lb = protowire.AppendBytes(lb, sb)
		}
		b = protowire.AppendTag(b, fPropValuePropertySets, protowire.BytesType)
		return protowire.AppendBytes(b, lb), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s cannot be a property value", errors.ErrValueTypeMismatch, pv.Value.Type()),
			"sparkplug", "appendPropertyValue", "property encoding")
	}
}

func decodePropertySet(b []byte, depth int) (*PropertySet, error) {
	if depth > maxNestingDepth {
		return nil, errors.WrapInvalid(errors.ErrDepthExceeded, "sparkplug", "decodePropertySet", "property decoding")
	}

	ps := &PropertySet{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, truncated("decodePropertySet")
		}
		b = b[n:]

		switch num {
		case fPropertySetKeys:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodePropertySet")
			}
			ps.Keys = append(ps.Keys, s)
			b = b[n:]
		case fPropertySetValues:
			vb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodePropertySet")
			}
			pv, err := decodePropertyValue(vb, depth)
			if err != nil {
				return nil, err
			}
			ps.Values = append(ps.Values, *pv)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("decodePropertySet")
			}
			b = b[n:]
		}
	}

	if len(ps.Keys) != len(ps.Values) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d keys but %d values",
				errors.ErrRowWidthMismatch, len(ps.Keys), len(ps.Values)),
			"sparkplug", "decodePropertySet", "property decoding")
	}
	return ps, nil
}

func decodePropertyValue(b []byte, depth int) (*PropertyValue, error) {
	pv := &PropertyValue{}
	var (
		intVal, longVal     uint64
		floatVal            float32
		doubleVal           float64
		boolVal             bool
		stringVal           string
		setRaw, listRaw     []byte
		hasInt, hasLong     bool
		hasFloat, hasDouble bool
		hasBool, hasString  bool
		hasSet, hasList     bool
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, truncated("decodePropertyValue")
		}
		b = b[n:]

		switch num {
		case fPropValueType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			pv.Type = DataType(v)
			b = b[n:]
		case fPropValueIsNull:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			pv.IsNull = v != 0
			b = b[n:]
		case fPropValueInt:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			intVal, hasInt = v, true
			b = b[n:]
		case fPropValueLong:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			longVal, hasLong = v, true
			b = b[n:]
		case fPropValueFloat:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			floatVal, hasFloat = math.Float32frombits(v), true
			b = b[n:]
		case fPropValueDouble:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			doubleVal, hasDouble = math.Float64frombits(v), true
			b = b[n:]
		case fPropValueBoolean:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			boolVal, hasBool = v != 0, true
			b = b[n:]
		case fPropValueString:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			stringVal, hasString = s, true
			b = b[n:]
		case fPropValuePropertySet:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			setRaw, hasSet = append([]byte(nil), v...), true
			b = b[n:]
		case fPropValuePropertySets:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			listRaw, hasList = append([]byte(nil), v...), true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("decodePropertyValue")
			}
			b = b[n:]
		}
	}

	if pv.IsNull {
		return pv, nil
	}

	switch pv.Type {
	case DataTypeInt8:
		if hasInt {
			pv.Value = Int8Value(decodeSigned(intVal, 8))
		}
	case DataTypeInt16:
		if hasInt {
			pv.Value = Int16Value(decodeSigned(intVal, 16))
		}
	case DataTypeInt32:
		if hasInt {
			pv.Value = Int32Value(decodeSigned(intVal, 32))
		}
	case DataTypeUInt8:
		if hasInt {
			pv.Value = UInt8Value(intVal)
		}
	case DataTypeUInt16:
		if hasInt {
			pv.Value = UInt16Value(intVal)
		}
	case DataTypeUInt32:
		if hasInt {
			pv.Value = UInt32Value(intVal)
		}
	case DataTypeInt64:
		if hasLong {
			pv.Value = Int64Value(decodeSigned(longVal, 64))
		}
	case DataTypeUInt64:
		if hasLong {
			pv.Value = UInt64Value(longVal)
		}
	case DataTypeDateTime:
		if hasLong {
			pv.Value = DateTimeValue(longVal)
		}
	case DataTypeFloat:
		if hasFloat {
			pv.Value = FloatValue(floatVal)
		}
	case DataTypeDouble:
		if hasDouble {
			pv.Value = DoubleValue(doubleVal)
		}
	case DataTypeBoolean:
		if hasBool {
			pv.Value = BooleanValue(boolVal)
		}
	case DataTypeString:
		if hasString {
			pv.Value = StringValue(stringVal)
		}
	case DataTypeText:
		if hasString {
			pv.Value = TextValue(stringVal)
		}
	case DataTypeUUID:
		if hasString {
			pv.Value = UUIDValue(stringVal)
		}
	case DataTypePropertySet:
		if hasSet {
			ps, err := decodePropertySet(setRaw, depth+1)
			if err != nil {
				return nil, err
			}
			pv.Value = PropertySetValue{PropertySet: ps}
		}
	case DataTypePropertySetList:
		if hasList {
			list, err := decodePropertySetList(listRaw, depth+1)
			if err != nil {
				return nil, err
			}
			pv.Value = PropertySetListValue{PropertySets: list}
		}
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d as property type", errors.ErrUnknownDataType, uint32(pv.Type)),
			"sparkplug", "decodePropertyValue", "property decoding")
	}
	return pv, nil
}

func decodePropertySetList(b []byte, depth int) ([]*PropertySet, error) {
	var list []*PropertySet
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, truncated("decodePropertySetList")
		}
		b = b[n:]

		if num != fPropertySetListSets {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("decodePropertySetList")
			}
			b = b[n:]
			continue
		}

		sb, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, truncated("decodePropertySetList")
		}
		ps, err := decodePropertySet(sb, depth+1)
		if err != nil {
			return nil, err
		}
		list = append(list, ps)
		b = b[n:]
	}
	return list, nil
}
