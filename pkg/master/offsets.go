package master

import (
	"errors"
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrEntryUnknown = errors.New("entry is not in the offset table")

// EntryOffset is where a registered PDO entry lives in its domain image.
type EntryOffset struct {
	BitLength uint8
	Offset    ethercat.Offset
}

// Number of bytes covered by the entry, only meaningful for byte aligned
// entries.
func (e EntryOffset) size() int {
	return int(e.BitLength) / 8
}

func (e EntryOffset) aligned() bool {
	return e.Offset.Bit == 0 && e.BitLength%8 == 0
}

// OffsetTable maps the registered entries of a slave to their location in
// the domain image.
type OffsetTable map[ethercat.PdoEntryIndex]EntryOffset

// Entries returns the entries of the table ordered by offset.
func (t OffsetTable) Entries() []ethercat.PdoEntryIndex {
	entries := maps.Keys(t)
	slices.SortFunc(entries, func(a, b ethercat.PdoEntryIndex) int {
		oa, ob := t[a].Offset, t[b].Offset
		switch {
		case oa.Byte != ob.Byte:
			return oa.Byte - ob.Byte
		case oa.Bit != ob.Bit:
			return int(oa.Bit) - int(ob.Bit)
		case a.Index != b.Index:
			return int(a.Index) - int(b.Index)
		}
		return int(a.Subindex) - int(b.Subindex)
	})
	return entries
}

func (t OffsetTable) lookup(data []byte, entry ethercat.PdoEntryIndex) (EntryOffset, error) {
	offset, ok := t[entry]
	if !ok {
		return EntryOffset{}, fmt.Errorf("%w : %v", ErrEntryUnknown, entry)
	}
	if !offset.aligned() {
		return EntryOffset{}, fmt.Errorf("%w : %v has %v bit(s) at %v",
			ethercat.ErrBitPackingNotImplemented, entry, offset.BitLength, offset.Offset)
	}
	if offset.Offset.Byte+offset.size() > len(data) {
		return EntryOffset{}, fmt.Errorf("%w : %v ends after byte %v of the image",
			ethercat.ErrLayout, entry, len(data))
	}
	return offset, nil
}

// Read returns the bytes of an entry inside the image. The returned slice
// aliases the image.
func (t OffsetTable) Read(data []byte, entry ethercat.PdoEntryIndex) ([]byte, error) {
	offset, err := t.lookup(data, entry)
	if err != nil {
		return nil, err
	}
	start := offset.Offset.Byte
	return data[start : start+offset.size() : start+offset.size()], nil
}

// ReadUint decodes an entry of at most 8 bytes as a little endian unsigned value.
func (t OffsetTable) ReadUint(data []byte, entry ethercat.PdoEntryIndex) (uint64, error) {
	raw, err := t.Read(data, entry)
	if err != nil {
		return 0, err
	}
	if len(raw) > 8 {
		return 0, fmt.Errorf("%v is %v bytes long, too long for an integer", entry, len(raw))
	}
	var value uint64
	for i := len(raw) - 1; i >= 0; i-- {
		value = value<<8 | uint64(raw[i])
	}
	return value, nil
}

// Write copies value into the entry, the encoded value must have the size
// of the entry.
func (t OffsetTable) Write(data []byte, entry ethercat.PdoEntryIndex, value ethercat.SdoData) error {
	offset, err := t.lookup(data, entry)
	if err != nil {
		return err
	}
	encoded := value.SdoBytes()
	if len(encoded) != offset.size() {
		return fmt.Errorf("writing %v : got %v bytes, entry is %v bytes", entry, len(encoded), offset.size())
	}
	copy(data[offset.Offset.Byte:], encoded)
	return nil
}

// Extract returns the bytes of every entry of the table, keyed by entry.
func (t OffsetTable) Extract(data []byte) (map[ethercat.PdoEntryIndex][]byte, error) {
	extracted := make(map[ethercat.PdoEntryIndex][]byte, len(t))
	for _, entry := range t.Entries() {
		raw, err := t.Read(data, entry)
		if err != nil {
			return nil, err
		}
		extracted[entry] = raw
	}
	return extracted, nil
}
