package ethercat

import "fmt"

// Maximum number of ports of a slave (ESC).
const MaxPorts = 4

type MasterIndex uint32

// DomainIndex identifies a domain. It is only meaningful for the master that
// created it.
type DomainIndex uint32

type SlaveConfigIndex uint32

type SlavePosition uint16

type MasterAccess uint8

const (
	ReadOnly MasterAccess = iota
	ReadWrite
)

func (a MasterAccess) String() string {
	if a == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// An EtherCAT slave identification, consisting of vendor ID and product code.
type SlaveId struct {
	VendorId    uint32
	ProductCode uint32
}

func (id SlaveId) String() string {
	return fmt.Sprintf("%#08x:%#08x", id.VendorId, id.ProductCode)
}

// An EtherCAT slave revision identification.
type SlaveRev struct {
	RevisionNumber uint32
	SerialNumber   uint32
}

// SlaveAddr addresses a slave either by absolute position in the ring or by
// offset from a given alias.
type SlaveAddr struct {
	alias    uint16
	position uint16
	byAlias  bool
}

func ByPos(position uint16) SlaveAddr {
	return SlaveAddr{position: position}
}

func ByAlias(alias uint16, offset uint16) SlaveAddr {
	return SlaveAddr{alias: alias, position: offset, byAlias: true}
}

func (a SlaveAddr) IsAlias() bool {
	return a.byAlias
}

// Pair returns the (alias, position) pair used by the driver.
// Positional addresses have alias 0.
func (a SlaveAddr) Pair() (alias uint16, position uint16) {
	if !a.byAlias {
		return 0, a.position
	}
	return a.alias, a.position
}

func (a SlaveAddr) String() string {
	if a.byAlias {
		return fmt.Sprintf("alias %v+%v", a.alias, a.position)
	}
	return fmt.Sprintf("position %v", a.position)
}

// Offset of a PDO entry in the domain image.
type Offset struct {
	Byte int
	Bit  uint
}

func (o Offset) String() string {
	return fmt.Sprintf("%d.%d", o.Byte, o.Bit)
}

// DomainPlacement locates one domain image inside the process memory
// shared with the driver.
type DomainPlacement struct {
	Domain DomainIndex
	Offset int
	Size   int
}

type MasterInfo struct {
	SlaveCount uint32
	LinkUp     bool
	ScanBusy   bool
	AppTime    uint64
}

type MasterState struct {
	SlavesResponding uint32
	AlStates         uint8 // Bitmask of the AL states of all responding slaves
	LinkUp           bool
}

// Has reports whether at least one responding slave is in the given state.
func (s MasterState) Has(state AlState) bool {
	return s.AlStates&uint8(state) != 0
}

// ConfigInfo describes a slave configuration as seen by the master.
// A nil SlavePosition means the configuration could not be attached to a slave.
type ConfigInfo struct {
	Alias         uint16
	Position      uint16
	Id            SlaveId
	SlavePosition *uint32
	SdoCount      uint32
	IdnCount      uint32
}

// Attached reports whether the configuration was matched to a slave.
func (c ConfigInfo) Attached() bool {
	return c.SlavePosition != nil
}

type SlaveConfigState struct {
	Online      bool
	Operational bool
	AlState     AlState
}

type SlaveInfo struct {
	Name          string
	RingPos       uint16
	Id            SlaveId
	Rev           SlaveRev
	Alias         uint16
	CurrentOnEbus int16
	AlState       AlState
	ErrorFlag     uint8
	SyncCount     uint8
	SdoCount      uint16
	Ports         [MaxPorts]SlavePortInfo
}

type SlavePortLink struct {
	LinkUp         bool
	LoopClosed     bool
	SignalDetected bool
}

type SlavePortInfo struct {
	Desc          SlavePortType
	Link          SlavePortLink
	ReceiveTime   uint32
	NextSlave     uint16
	DelayToNextDc uint32
}
