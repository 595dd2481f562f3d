package sparkplug

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/thepwizard/unifiednamespace/errors"
)

const (
	fDataSetNumColumns = 1
	fDataSetColumns    = 2
	fDataSetTypes      = 3
	fDataSetRows       = 4

	fRowElements = 1

	fCellIntValue     = 1
	fCellLongValue    = 2
	fCellFloatValue   = 3
	fCellDoubleValue  = 4
	fCellBooleanValue = 5
	fCellStringValue  = 6
)

// DataSet is a tabular metric value: named columns with per-column datatypes
// and rows of cells. Every row must be exactly as wide as Types.
type DataSet struct {
	Columns []string
	Types   []DataType
	Rows    [][]Value
}

// DataSetValue is the metric value variant carrying a DataSet.
type DataSetValue struct {
	DataSet *DataSet
}

func (DataSetValue) Type() DataType { return DataTypeDataSet }
func (DataSetValue) isValue()       {}

// Validate checks column/type/row consistency without touching the wire.
func (ds *DataSet) Validate() error {
	if len(ds.Columns) != len(ds.Types) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %d columns but %d types",
				errors.ErrRowWidthMismatch, len(ds.Columns), len(ds.Types)),
			"sparkplug.DataSet", "Validate", "column check")
	}
	for i, row := range ds.Rows {
		if len(row) != len(ds.Types) {
			return errors.WrapInvalid(
				fmt.Errorf("%w: row %d has %d cells, want %d",
					errors.ErrRowWidthMismatch, i, len(row), len(ds.Types)),
				"sparkplug.DataSet", "Validate", "row check")
		}
	}
	return nil
}

func appendDataSet(b []byte, ds *DataSet) ([]byte, error) {
	if ds == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: nil dataset", errors.ErrValueTypeMismatch),
			"sparkplug", "appendDataSet", "dataset encoding")
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	b = protowire.AppendTag(b, fDataSetNumColumns, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(len(ds.Columns)))
	for _, c := range ds.Columns {
		b = protowire.AppendTag(b, fDataSetColumns, protowire.BytesType)
		b = protowire.AppendString(b, c)
	}
	for _, t := range ds.Types {
		b = protowire.AppendTag(b, fDataSetTypes, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t))
	}
	for _, row := range ds.Rows {
		var rb []byte
		for ci, cell := range row {
			cb, err := appendDataSetCell(nil, ds.Types[ci], cell)
			if err != nil {
				return nil, err
			}
			rb = protowire.AppendTag(rb, fRowElements, protowire.BytesType)
			rb = protowire.AppendBytes(rb, cb)
		}
		b = protowire.AppendTag(b, fDataSetRows, protowire.BytesType)
		b = protowire.AppendBytes(b, rb)
	}
	return b, nil
}

// appendDataSetCell writes one cell under the slot selected by the column type.
func appendDataSetCell(b []byte, colType DataType, cell Value) ([]byte, error) {
	if cell == nil {
		// Empty cell message; decodes back to a nil cell.
		return b, nil
	}
	if cell.Type() != colType {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: column declares %s but cell is %s",
				errors.ErrValueTypeMismatch, colType, cell.Type()),
			"sparkplug", "appendDataSetCell", "cell encoding")
	}

	switch v := cell.(type) {
	case Int8Value:
		b = protowire.AppendTag(b, fCellIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 8)), nil
	case Int16Value:
		b = protowire.AppendTag(b, fCellIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 16)), nil
	case Int32Value:
		b = protowire.AppendTag(b, fCellIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 32)), nil
	case UInt8Value:
		b = protowire.AppendTag(b, fCellIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case UInt16Value:
		b = protowire.AppendTag(b, fCellIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case UInt32Value:
		b = protowire.AppendTag(b, fCellIntValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case Int64Value:
		b = protowire.AppendTag(b, fCellLongValue, protowire.VarintType)
		return protowire.AppendVarint(b, encodeSigned(int64(v), 64)), nil
	case UInt64Value:
		b = protowire.AppendTag(b, fCellLongValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case DateTimeValue:
		b = protowire.AppendTag(b, fCellLongValue, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(v)), nil
	case FloatValue:
		b = protowire.AppendTag(b, fCellFloatValue, protowire.Fixed32Type)
		return protowire.AppendFixed32(b, math.Float32bits(float32(v))), nil
	case DoubleValue:
		b = protowire.AppendTag(b, fCellDoubleValue, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(float64(v))), nil
	case BooleanValue:
		b = protowire.AppendTag(b, fCellBooleanValue, protowire.VarintType)
		if v {
			return protowire.AppendVarint(b, 1), nil
		}
		return protowire.AppendVarint(b, 0), nil
	case StringValue:
		b = protowire.AppendTag(b, fCellStringValue, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	case TextValue:
		b = protowire.AppendTag(b, fCellStringValue, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	case UUIDValue:
		b = protowire.AppendTag(b, fCellStringValue, protowire.BytesType)
		return protowire.AppendString(b, string(v)), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s cannot be a dataset cell", errors.ErrValueTypeMismatch, cell.Type()),
			"sparkplug", "appendDataSetCell", "cell encoding")
	}
}

func decodeDataSet(b []byte) (*DataSet, error) {
	ds := &DataSet{}
	var numColumns uint64
	var rawRows [][]byte

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, truncated("decodeDataSet")
		}
		b = b[n:]

		switch num {
		case fDataSetNumColumns:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeDataSet")
			}
			numColumns = v
			b = b[n:]
		case fDataSetColumns:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodeDataSet")
			}
			ds.Columns = append(ds.Columns, s)
			b = b[n:]
		case fDataSetTypes:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeDataSet")
			}
			ds.Types = append(ds.Types, DataType(v))
			b = b[n:]
		case fDataSetRows:
			rb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, truncated("decodeDataSet")
			}
			rawRows = append(rawRows, append([]byte(nil), rb...))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("decodeDataSet")
			}
			b = b[n:]
		}
	}

	if numColumns != uint64(len(ds.Types)) || len(ds.Columns) != len(ds.Types) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: num_of_columns %d, %d column names, %d types",
				errors.ErrRowWidthMismatch, numColumns, len(ds.Columns), len(ds.Types)),
			"sparkplug", "decodeDataSet", "column check")
	}

	// Rows decode after the header so cells can be converted by column type.
	for i, rb := range rawRows {
		row, err := decodeDataSetRow(rb, ds.Types)
		if err != nil {
			return nil, err
		}
		if len(row) != len(ds.Types) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: row %d has %d cells, want %d",
					errors.ErrRowWidthMismatch, i, len(row), len(ds.Types)),
				"sparkplug", "decodeDataSet", "row check")
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func decodeDataSetRow(b []byte, types []DataType) ([]Value, error) {
	var row []Value
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, truncated("decodeDataSetRow")
		}
		b = b[n:]

		if num != fRowElements {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("decodeDataSetRow")
			}
			b = b[n:]
			continue
		}

		cb, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, truncated("decodeDataSetRow")
		}
		if len(row) >= len(types) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: row wider than %d column types",
					errors.ErrRowWidthMismatch, len(types)),
				"sparkplug", "decodeDataSetRow", "row check")
		}
		cell, err := decodeDataSetCell(cb, types[len(row)])
		if err != nil {
			return nil, err
		}
		row = append(row, cell)
		b = b[n:]
	}
	return row, nil
}

func decodeDataSetCell(b []byte, colType DataType) (Value, error) {
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
			return nil, truncated("decodeDataSetCell")
		}
		b = b[n:]

		switch num {
		case fCellIntValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeDataSetCell")
			}
			intVal, hasInt = v, true
			b = b[n:]
		case fCellLongValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeDataSetCell")
			}
			longVal, hasLong = v, true
			b = b[n:]
		case fCellFloatValue:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, truncated("decodeDataSetCell")
			}
			floatVal, hasFloat = math.Float32frombits(v), true
			b = b[n:]
		case fCellDoubleValue:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, truncated("decodeDataSetCell")
			}
			doubleVal, hasDouble = math.Float64frombits(v), true
			b = b[n:]
		case fCellBooleanValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, truncated("decodeDataSetCell")
			}
			boolVal, hasBool = v != 0, true
			b = b[n:]
		case fCellStringValue:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, truncated("decodeDataSetCell")
			}
			stringVal, hasString = s, true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, truncated("decodeDataSetCell")
			}
			b = b[n:]
		}
	}

	switch colType {
	case DataTypeInt8:
		if !hasInt {
			return nil, nil
		}
		return Int8Value(decodeSigned(intVal, 8)), nil
	case DataTypeInt16:
		if !hasInt {
			return nil, nil
		}
		return Int16Value(decodeSigned(intVal, 16)), nil
	case DataTypeInt32:
		if !hasInt {
			return nil, nil
		}
		return Int32Value(decodeSigned(intVal, 32)), nil
	case DataTypeUInt8:
		if !hasInt {
			return nil, nil
		}
		return UInt8Value(intVal), nil
	case DataTypeUInt16:
		if !hasInt {
			return nil, nil
		}
		return UInt16Value(intVal), nil
	case DataTypeUInt32:
		if !hasInt {
			return nil, nil
		}
		return UInt32Value(intVal), nil
	case DataTypeInt64:
		if !hasLong {
			return nil, nil
		}
		return Int64Value(decodeSigned(longVal, 64)), nil
	case DataTypeUInt64:
		if !hasLong {
			return nil, nil
		}
		return UInt64Value(longVal), nil
	case DataTypeDateTime:
		if !hasLong {
			return nil, nil
		}
		return DateTimeValue(longVal), nil
	case DataTypeFloat:
		if !hasFloat {
			return nil, nil
		}
		return FloatValue(floatVal), nil
	case DataTypeDouble:
		if !hasDouble {
			return nil, nil
		}
		return DoubleValue(doubleVal), nil
	case DataTypeBoolean:
		if !hasBool {
			return nil, nil
		}
		return BooleanValue(boolVal), nil
	case DataTypeString:
		if !hasString {
			return nil, nil
		}
		return StringValue(stringVal), nil
	case DataTypeText:
		if !hasString {
			return nil, nil
		}
		return TextValue(stringVal), nil
	case DataTypeUUID:
		if !hasString {
			return nil, nil
		}
		return UUIDValue(stringVal), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d as dataset column type", errors.ErrUnknownDataType, uint32(colType)),
			"sparkplug", "decodeDataSetCell", "cell decoding")
	}
}
