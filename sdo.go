package ethercat

import "fmt"

type SdoIndex struct {
	Index    uint16
	Subindex uint8
}

func (i SdoIndex) String() string {
	return fmt.Sprintf("x%04x:%02x", i.Index, i.Subindex)
}

// SdoEntryAddr addresses an SDO entry either by the position of the SDO
// in the slave's dictionary or by its index.
type SdoEntryAddr struct {
	ByPosition bool
	Position   uint16 // Valid when ByPosition is set
	Index      uint16 // Valid when ByPosition is not set
	Subindex   uint8
}

func SdoEntryAtPosition(position uint16, subindex uint8) SdoEntryAddr {
	return SdoEntryAddr{ByPosition: true, Position: position, Subindex: subindex}
}

func SdoEntryAtIndex(index uint16, subindex uint8) SdoEntryAddr {
	return SdoEntryAddr{Index: index, Subindex: subindex}
}

func (a SdoEntryAddr) String() string {
	if a.ByPosition {
		return fmt.Sprintf("#%d:%02x", a.Position, a.Subindex)
	}
	return fmt.Sprintf("x%04x:%02x", a.Index, a.Subindex)
}

type SdoInfo struct {
	SlavePosition uint16
	Position      uint16
	Index         uint16
	MaxSubindex   uint8
	ObjectCode    uint8
	Name          string
}

type Access uint8

const (
	AccessUnknown Access = iota
	AccessReadOnly
	AccessWriteOnly
	AccessReadWrite
)

// DecodeAccess decodes the read and write flags of an entry for one AL
// state. Both flags must be 0 or 1.
func DecodeAccess(read uint8, write uint8) (Access, error) {
	if read > 1 || write > 1 {
		return AccessUnknown, &CodeError{Kind: "access", Value: uint32(read)<<8 | uint32(write)}
	}
	switch {
	case read == 1 && write == 1:
		return AccessReadWrite, nil
	case read == 1:
		return AccessReadOnly, nil
	case write == 1:
		return AccessWriteOnly, nil
	}
	return AccessUnknown, nil
}

// Flags returns the read and write flags of a.
func (a Access) Flags() (read uint8, write uint8) {
	switch a {
	case AccessReadOnly:
		return 1, 0
	case AccessWriteOnly:
		return 0, 1
	case AccessReadWrite:
		return 1, 1
	}
	return 0, 0
}

func (a Access) String() string {
	switch a {
	case AccessReadOnly:
		return "ro"
	case AccessWriteOnly:
		return "wo"
	case AccessReadWrite:
		return "rw"
	}
	return "--"
}

// SdoEntryAccess holds the access rights of an entry in PREOP, SAFEOP and OP.
type SdoEntryAccess struct {
	PreOp  Access
	SafeOp Access
	Op     Access
}

// DecodeEntryAccess decodes per state flags ordered PREOP, SAFEOP, OP.
func DecodeEntryAccess(read [3]uint8, write [3]uint8) (SdoEntryAccess, error) {
	var decoded [3]Access
	for i := range decoded {
		access, err := DecodeAccess(read[i], write[i])
		if err != nil {
			return SdoEntryAccess{}, err
		}
		decoded[i] = access
	}
	return SdoEntryAccess{PreOp: decoded[0], SafeOp: decoded[1], Op: decoded[2]}, nil
}

// In returns the access right for the given AL state.
func (a SdoEntryAccess) In(state AlState) Access {
	switch state {
	case AlStatePreOp:
		return a.PreOp
	case AlStateSafeOp:
		return a.SafeOp
	case AlStateOp:
		return a.Op
	}
	return AccessUnknown
}

type SdoEntry struct {
	SlavePosition uint16
	Address       SdoEntryAddr
	DataType      DataType
	BitLength     uint16
	Access        SdoEntryAccess
	Description   string
}
