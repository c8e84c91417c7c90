package ethercat

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// AlState is the EtherCAT application layer state of a slave.
// Values can be or-ed together into a mask, see [MasterState].
type AlState uint8

const (
	AlStateInit   AlState = 1
	AlStatePreOp  AlState = 2
	AlStateSafeOp AlState = 4
	AlStateOp     AlState = 8
)

var alStates = []AlState{AlStateInit, AlStatePreOp, AlStateSafeOp, AlStateOp}

var alStateNames = map[AlState]string{
	AlStateInit:   "INIT",
	AlStatePreOp:  "PREOP",
	AlStateSafeOp: "SAFEOP",
	AlStateOp:     "OP",
}

// DecodeAlState decodes a single AL state code.
func DecodeAlState(code uint32) (AlState, error) {
	if code > 0xff || !slices.Contains(alStates, AlState(code)) {
		return 0, &CodeError{Kind: "al state", Value: code}
	}
	return AlState(code), nil
}

func (s AlState) Code() uint32 {
	return uint32(s)
}

func (s AlState) String() string {
	if name, ok := alStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("AlState(%#x)", uint8(s))
}

// Next returns the state following s in the Init -> Op progression.
// Op is its own successor.
func (s AlState) Next() AlState {
	switch s {
	case AlStateInit:
		return AlStatePreOp
	case AlStatePreOp:
		return AlStateSafeOp
	default:
		return AlStateOp
	}
}

// WcState is the working counter interpretation of a domain.
type WcState uint8

const (
	WcZero       WcState = 0 // No registered process data was exchanged
	WcIncomplete WcState = 1 // Some of the registered process data was exchanged
	WcComplete   WcState = 2 // All registered process data was exchanged
)

func DecodeWcState(code uint32) (WcState, error) {
	if code > uint32(WcComplete) {
		return 0, &CodeError{Kind: "working counter state", Value: code}
	}
	return WcState(code), nil
}

func (s WcState) Code() uint32 {
	return uint32(s)
}

func (s WcState) String() string {
	switch s {
	case WcZero:
		return "ZERO"
	case WcIncomplete:
		return "INCOMPLETE"
	case WcComplete:
		return "COMPLETE"
	}
	return fmt.Sprintf("WcState(%d)", uint8(s))
}

type DomainState struct {
	WorkingCounter   uint32
	WcState          WcState
	RedundancyActive bool
}

// SlavePortType describes the physical layer of a slave port.
type SlavePortType uint8

const (
	PortNotImplemented SlavePortType = 0
	PortNotConfigured  SlavePortType = 1
	PortEBus           SlavePortType = 2
	PortMII            SlavePortType = 3
)

func DecodeSlavePortType(code uint32) (SlavePortType, error) {
	if code > uint32(PortMII) {
		return PortNotImplemented, &CodeError{Kind: "slave port type", Value: code}
	}
	return SlavePortType(code), nil
}

func (p SlavePortType) String() string {
	switch p {
	case PortNotImplemented:
		return "N/A"
	case PortNotConfigured:
		return "N/C"
	case PortEBus:
		return "EBUS"
	case PortMII:
		return "MII"
	}
	return fmt.Sprintf("SlavePortType(%d)", uint8(p))
}
