package ethercat

import "fmt"

type SmIndex uint8

type PdoIndex uint16

// Conventional sync manager assignment of slaves with mailbox support.
const (
	SmMailboxOut SmIndex = 0
	SmMailboxIn  SmIndex = 1
	SmOutputs    SmIndex = 2
	SmInputs     SmIndex = 3
)

type SyncDirection uint8

const (
	DirInvalid SyncDirection = iota
	DirOutput                // Master writes, slave reads (RxPDOs)
	DirInput                 // Slave writes, master reads (TxPDOs)
)

func DecodeSyncDirection(code uint32) (SyncDirection, error) {
	if code > uint32(DirInput) {
		return DirInvalid, &CodeError{Kind: "sync direction", Value: code}
	}
	return SyncDirection(code), nil
}

func (d SyncDirection) String() string {
	switch d {
	case DirOutput:
		return "output"
	case DirInput:
		return "input"
	}
	return "invalid"
}

type WatchdogMode uint8

const (
	WatchdogDefault WatchdogMode = iota // Use the slave's default setting
	WatchdogEnable
	WatchdogDisable
)

func DecodeWatchdogMode(code uint32) (WatchdogMode, error) {
	if code > uint32(WatchdogDisable) {
		return WatchdogDefault, &CodeError{Kind: "watchdog mode", Value: code}
	}
	return WatchdogMode(code), nil
}

func (m WatchdogMode) String() string {
	switch m {
	case WatchdogEnable:
		return "enable"
	case WatchdogDisable:
		return "disable"
	}
	return "default"
}

// PdoEntryIndex identifies a PDO entry in the slave's object dictionary.
type PdoEntryIndex struct {
	Index    uint16
	Subindex uint8
}

// IsPadding reports whether the index denotes a gap entry (0x0000:00).
func (i PdoEntryIndex) IsPadding() bool {
	return i.Index == 0 && i.Subindex == 0
}

func (i PdoEntryIndex) String() string {
	return fmt.Sprintf("x%04x:%02x", i.Index, i.Subindex)
}

type PdoEntryInfo struct {
	Index     PdoEntryIndex
	BitLength uint8
}

// PdoInfo groups entries of one PDO. The order of the entries is the
// packing order.
type PdoInfo struct {
	Index   PdoIndex
	Entries []PdoEntryInfo
}

// DefaultPdo assigns a PDO without changing its mapping.
func DefaultPdo(index PdoIndex) PdoInfo {
	return PdoInfo{Index: index}
}

// BitLength returns the sum of the bit lengths of all the entries.
func (p PdoInfo) BitLength() int {
	total := 0
	for _, entry := range p.Entries {
		total += int(entry.BitLength)
	}
	return total
}

// SyncInfo assigns PDOs to one sync manager.
type SyncInfo struct {
	Index        SmIndex
	Direction    SyncDirection
	WatchdogMode WatchdogMode
	Pdos         []PdoInfo
}

func InputSync(index SmIndex, pdos []PdoInfo) SyncInfo {
	return SyncInfo{Index: index, Direction: DirInput, WatchdogMode: WatchdogDefault, Pdos: pdos}
}

func OutputSync(index SmIndex, pdos []PdoInfo) SyncInfo {
	return SyncInfo{Index: index, Direction: DirOutput, WatchdogMode: WatchdogDefault, Pdos: pdos}
}

// BitLength returns the sum of the bit lengths of all the PDOs.
func (s SyncInfo) BitLength() int {
	total := 0
	for _, pdo := range s.Pdos {
		total += pdo.BitLength()
	}
	return total
}
