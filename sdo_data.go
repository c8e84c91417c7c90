package ethercat

import (
	"encoding/binary"
	"math"
	"reflect"
)

// SdoData is any value that can be sent as SDO data.
// SdoBytes returns the little endian encoding of the value, its length is
// the exact size of the value and it must not be modified.
type SdoData interface {
	SdoBytes() []byte
}

// RawData sends bytes as they are.
type RawData []byte

func (d RawData) SdoBytes() []byte {
	return d
}

// Fixed is the set of primitive types that can be sent with [FixedData].
type Fixed interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

type fixedData []byte

func (d fixedData) SdoBytes() []byte {
	return d
}

// FixedData encodes a fixed width value.
func FixedData[T Fixed](value T) SdoData {
	var encoded []byte
	switch val := any(value).(type) {
	case uint8:
		encoded = []byte{val}
	case int8:
		encoded = []byte{byte(val)}
	case uint16:
		encoded = make([]byte, 2)
		binary.LittleEndian.PutUint16(encoded, val)
	case int16:
		encoded = make([]byte, 2)
		binary.LittleEndian.PutUint16(encoded, uint16(val))
	case uint32:
		encoded = make([]byte, 4)
		binary.LittleEndian.PutUint32(encoded, val)
	case int32:
		encoded = make([]byte, 4)
		binary.LittleEndian.PutUint32(encoded, uint32(val))
	case uint64:
		encoded = make([]byte, 8)
		binary.LittleEndian.PutUint64(encoded, val)
	case int64:
		encoded = make([]byte, 8)
		binary.LittleEndian.PutUint64(encoded, uint64(val))
	case float32:
		encoded = make([]byte, 4)
		binary.LittleEndian.PutUint32(encoded, math.Float32bits(val))
	case float64:
		encoded = make([]byte, 8)
		binary.LittleEndian.PutUint64(encoded, math.Float64bits(val))
	default:
		// Named types built on the primitives
		encoded = encodeNamed(value)
	}
	return fixedData(encoded)
}

// Encode a named type from the kind it is built on
func encodeNamed[T Fixed](value T) []byte {
	v := reflect.ValueOf(value)
	var bits uint64
	switch v.Kind() {
	case reflect.Float32:
		bits = uint64(math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		bits = math.Float64bits(v.Float())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bits = uint64(v.Int())
	default:
		bits = v.Uint()
	}
	encoded := make([]byte, 8)
	binary.LittleEndian.PutUint64(encoded, bits)
	return encoded[:v.Type().Size()]
}
