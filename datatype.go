package ethercat

import "fmt"

// DataType is a CoE object dictionary data type code.
type DataType uint16

const (
	Bool DataType = 0x0001

	I8  DataType = 0x0002
	I16 DataType = 0x0003
	I32 DataType = 0x0004
	U8  DataType = 0x0005
	U16 DataType = 0x0006
	U32 DataType = 0x0007
	F32 DataType = 0x0008

	String        DataType = 0x0009 // visible string
	OctetString   DataType = 0x000A
	UnicodeString DataType = 0x000B

	I24 DataType = 0x0010
	F64 DataType = 0x0011
	I40 DataType = 0x0012
	I48 DataType = 0x0013
	I56 DataType = 0x0014
	I64 DataType = 0x0015
	U24 DataType = 0x0016

	U40 DataType = 0x0018
	U48 DataType = 0x0019
	U56 DataType = 0x001A
	U64 DataType = 0x001B

	// Sign and magnitude coding
	Sm8  DataType = 0xFFFB
	Sm16 DataType = 0xFFFC
	Sm32 DataType = 0xFFFD
	Sm64 DataType = 0xFFFE

	Raw DataType = 0xFFFF
)

type dataTypeDescription struct {
	name string
	size int // 0 for variable length
}

var dataTypes = map[DataType]dataTypeDescription{
	Bool:          {"BOOLEAN", 1},
	I8:            {"INTEGER8", 1},
	I16:           {"INTEGER16", 2},
	I24:           {"INTEGER24", 3},
	I32:           {"INTEGER32", 4},
	I40:           {"INTEGER40", 5},
	I48:           {"INTEGER48", 6},
	I56:           {"INTEGER56", 7},
	I64:           {"INTEGER64", 8},
	U8:            {"UNSIGNED8", 1},
	U16:           {"UNSIGNED16", 2},
	U24:           {"UNSIGNED24", 3},
	U32:           {"UNSIGNED32", 4},
	U40:           {"UNSIGNED40", 5},
	U48:           {"UNSIGNED48", 6},
	U56:           {"UNSIGNED56", 7},
	U64:           {"UNSIGNED64", 8},
	F32:           {"REAL32", 4},
	F64:           {"REAL64", 8},
	Sm8:           {"SM8", 1},
	Sm16:          {"SM16", 2},
	Sm32:          {"SM32", 4},
	Sm64:          {"SM64", 8},
	String:        {"VISIBLE_STRING", 0},
	OctetString:   {"OCTET_STRING", 0},
	UnicodeString: {"UNICODE_STRING", 0},
	Raw:           {"RAW", 0},
}

func DecodeDataType(code uint16) (DataType, error) {
	if _, ok := dataTypes[DataType(code)]; !ok {
		return Raw, &CodeError{Kind: "data type", Value: uint32(code)}
	}
	return DataType(code), nil
}

// Size returns the number of bytes of a value of this type.
// ok is false for variable length types.
func (t DataType) Size() (size int, ok bool) {
	desc, known := dataTypes[t]
	if !known || desc.size == 0 {
		return 0, false
	}
	return desc.size, true
}

func (t DataType) String() string {
	if desc, ok := dataTypes[t]; ok {
		return desc.name
	}
	return fmt.Sprintf("DataType(%#04x)", uint16(t))
}
