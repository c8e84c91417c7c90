package master

import (
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/stretchr/testify/assert"
)

var (
	statusWord  = ethercat.PdoEntryIndex{Index: 0x6041, Subindex: 0}
	position    = ethercat.PdoEntryIndex{Index: 0x6064, Subindex: 0}
	controlWord = ethercat.PdoEntryIndex{Index: 0x6040, Subindex: 0}
	digital     = ethercat.PdoEntryIndex{Index: 0x6000, Subindex: 1}
)

func createTableTest() OffsetTable {
	return OffsetTable{
		controlWord: {BitLength: 16, Offset: ethercat.Offset{Byte: 0}},
		statusWord:  {BitLength: 16, Offset: ethercat.Offset{Byte: 2}},
		position:    {BitLength: 32, Offset: ethercat.Offset{Byte: 4}},
	}
}

func TestOffsetTableReadWrite(t *testing.T) {
	table := createTableTest()
	data := make([]byte, 8)
	assert.Nil(t, table.Write(data, controlWord, ethercat.FixedData(uint16(0x000f))))
	assert.Nil(t, table.Write(data, position, ethercat.FixedData(int32(-2))))
	assert.Equal(t, []byte{0x0f, 0, 0, 0, 0xfe, 0xff, 0xff, 0xff}, data)

	raw, err := table.Read(data, position)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0xfe, 0xff, 0xff, 0xff}, raw)
	value, err := table.ReadUint(data, controlWord)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x0f, value)

	t.Run("wrong size", func(t *testing.T) {
		err := table.Write(data, statusWord, ethercat.FixedData(uint32(1)))
		assert.NotNil(t, err)
	})
	t.Run("unknown entry", func(t *testing.T) {
		_, err := table.Read(data, digital)
		assert.ErrorIs(t, err, ErrEntryUnknown)
	})
	t.Run("image too small", func(t *testing.T) {
		_, err := table.Read(data[:6], position)
		assert.ErrorIs(t, err, ethercat.ErrLayout)
	})
}

func TestOffsetTableExtract(t *testing.T) {
	table := createTableTest()
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	extracted, err := table.Extract(data)
	assert.Nil(t, err)
	assert.Equal(t, []byte{1, 2}, extracted[controlWord])
	assert.Equal(t, []byte{3, 4}, extracted[statusWord])
	assert.Equal(t, []byte{5, 6, 7, 8}, extracted[position])
	assert.Equal(t, []ethercat.PdoEntryIndex{controlWord, statusWord, position}, table.Entries())

	table[digital] = EntryOffset{BitLength: 1, Offset: ethercat.Offset{Byte: 7, Bit: 3}}
	_, err = table.Extract(data)
	assert.ErrorIs(t, err, ethercat.ErrBitPackingNotImplemented)
}
