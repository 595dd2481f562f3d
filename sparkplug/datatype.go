// Package sparkplug implements the Sparkplug B payload codec and the
// edge-node session state machine.
//
// The wire format is the Sparkplug B protobuf schema (spBv1.0). Payloads are
// encoded and decoded directly with protowire against the published field
// numbers, and metric values are modeled as a closed tagged union: exactly one
// value variant per datatype, selected by the datatype tag, enforced by the
// type system rather than by convention.
package sparkplug

import "fmt"

// DataType is the Sparkplug B metric datatype tag. The numeric values are
// fixed by the Sparkplug specification and appear on the wire.
type DataType uint32

const (
	// DataTypeUnknown is never valid on the wire and always fails decoding.
	DataTypeUnknown DataType = 0

	DataTypeInt8     DataType = 1
	DataTypeInt16    DataType = 2
	DataTypeInt32    DataType = 3
	DataTypeInt64    DataType = 4
	DataTypeUInt8    DataType = 5
	DataTypeUInt16   DataType = 6
	DataTypeUInt32   DataType = 7
	DataTypeUInt64   DataType = 8
	DataTypeFloat    DataType = 9
	DataTypeDouble   DataType = 10
	DataTypeBoolean  DataType = 11
	DataTypeString   DataType = 12
	DataTypeDateTime DataType = 13
	DataTypeText     DataType = 14

	DataTypeUUID            DataType = 15
	DataTypeDataSet         DataType = 16
	DataTypeBytes           DataType = 17
	DataTypeFile            DataType = 18
	DataTypeTemplate        DataType = 19
	DataTypePropertySet     DataType = 20
	DataTypePropertySetList DataType = 21

	DataTypeInt8Array     DataType = 22
	DataTypeInt16Array    DataType = 23
	DataTypeInt32Array    DataType = 24
	DataTypeInt64Array    DataType = 25
	DataTypeUInt8Array    DataType = 26
	DataTypeUInt16Array   DataType = 27
	DataTypeUInt32Array   DataType = 28
	DataTypeUInt64Array   DataType = 29
	DataTypeFloatArray    DataType = 30
	DataTypeDoubleArray   DataType = 31
	DataTypeBooleanArray  DataType = 32
	DataTypeStringArray   DataType = 33
	DataTypeDateTimeArray DataType = 34
)

var dataTypeNames = map[DataType]string{
	DataTypeUnknown:         "Unknown",
	DataTypeInt8:            "Int8",
	DataTypeInt16:           "Int16",
	DataTypeInt32:           "Int32",
	DataTypeInt64:           "Int64",
	DataTypeUInt8:           "UInt8",
	DataTypeUInt16:          "UInt16",
	DataTypeUInt32:          "UInt32",
	DataTypeUInt64:          "UInt64",
	DataTypeFloat:           "Float",
	DataTypeDouble:          "Double",
	DataTypeBoolean:         "Boolean",
	DataTypeString:          "String",
	DataTypeDateTime:        "DateTime",
	DataTypeText:            "Text",
	DataTypeUUID:            "UUID",
	DataTypeDataSet:         "DataSet",
	DataTypeBytes:           "Bytes",
	DataTypeFile:            "File",
	DataTypeTemplate:        "Template",
	DataTypePropertySet:     "PropertySet",
	DataTypePropertySetList: "PropertySetList",
	DataTypeInt8Array:       "Int8Array",
	DataTypeInt16Array:      "Int16Array",
	DataTypeInt32Array:      "Int32Array",
	DataTypeInt64Array:      "Int64Array",
	DataTypeUInt8Array:      "UInt8Array",
	DataTypeUInt16Array:     "UInt16Array",
	DataTypeUInt32Array:     "UInt32Array",
	DataTypeUInt64Array:     "UInt64Array",
	DataTypeFloatArray:      "FloatArray",
	DataTypeDoubleArray:     "DoubleArray",
	DataTypeBooleanArray:    "BooleanArray",
	DataTypeStringArray:     "StringArray",
	DataTypeDateTimeArray:   "DateTimeArray",
}

// String returns the Sparkplug name of the datatype tag.
func (dt DataType) String() string {
	if name, ok := dataTypeNames[dt]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", uint32(dt))
}

// IsValid reports whether the tag is one the codec understands.
func (dt DataType) IsValid() bool {
	_, ok := dataTypeNames[dt]
	return ok && dt != DataTypeUnknown
}

// IsArray reports whether the tag is one of the packed array types.
func (dt DataType) IsArray() bool {
	return dt >= DataTypeInt8Array && dt <= DataTypeDateTimeArray
}
