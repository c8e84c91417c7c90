package virtual

import (
	"fmt"
	"sync"

	ethercat "github.com/samsamfire/goethercat"
)

// ObjectEntry is one subindex of a simulated object dictionary.
type ObjectEntry struct {
	Subindex    uint8
	DataType    ethercat.DataType
	BitLength   uint16
	Access      ethercat.SdoEntryAccess
	Description string
	Value       []byte
}

// Object is one index of a simulated object dictionary.
type Object struct {
	Index      uint16
	ObjectCode uint8
	Name       string
	Entries    []ObjectEntry
}

func (o *Object) entry(subindex uint8) *ObjectEntry {
	for i := range o.Entries {
		if o.Entries[i].Subindex == subindex {
			return &o.Entries[i]
		}
	}
	return nil
}

func (o *Object) maxSubindex() uint8 {
	var max uint8
	for _, entry := range o.Entries {
		if entry.Subindex > max {
			max = entry.Subindex
		}
	}
	return max
}

// Slave is a simulated EtherCAT slave.
// The exported fields describe the slave and must be set before it is added
// to a ring. Process data and state are accessed through the methods.
type Slave struct {
	Name    string
	Id      ethercat.SlaveId
	Rev     ethercat.SlaveRev
	Alias   uint16
	Syncs   map[ethercat.SmIndex]ethercat.SyncDirection // Fixed role of each sync manager
	Objects []Object

	mu         sync.Mutex
	responding bool
	alState    ethercat.AlState
	configured int // Number of activated masters driving this slave
	inputs     map[ethercat.PdoEntryIndex][]byte
	outputs    map[ethercat.PdoEntryIndex][]byte
}

// NewSlave creates a responding slave in INIT.
func NewSlave(name string, id ethercat.SlaveId) *Slave {
	return &Slave{
		Name:       name,
		Id:         id,
		Syncs:      make(map[ethercat.SmIndex]ethercat.SyncDirection),
		responding: true,
		alState:    ethercat.AlStateInit,
		inputs:     make(map[ethercat.PdoEntryIndex][]byte),
		outputs:    make(map[ethercat.PdoEntryIndex][]byte),
	}
}

// SetInput sets the value the slave produces for an input entry.
func (s *Slave) SetInput(entry ethercat.PdoEntryIndex, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[entry] = append([]byte(nil), value...)
}

// Output returns the last value the slave consumed for an output entry.
func (s *Slave) Output(entry ethercat.PdoEntryIndex) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.outputs[entry]...)
}

func (s *Slave) AlState() ethercat.AlState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alState
}

// SetResponding simulates a slave dropping out of the ring (or coming back).
func (s *Slave) SetResponding(responding bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responding = responding
	if !responding {
		s.alState = ethercat.AlStateInit
	}
}

func (s *Slave) Responding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responding
}

// Move one step towards OP when driven by a master, or towards PREOP
// otherwise.
func (s *Slave) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.responding {
		return
	}
	if s.configured > 0 {
		s.alState = s.alState.Next()
		return
	}
	switch s.alState {
	case ethercat.AlStateInit:
		s.alState = ethercat.AlStatePreOp
	case ethercat.AlStateSafeOp, ethercat.AlStateOp:
		s.alState = ethercat.AlStatePreOp
	}
}

func (s *Slave) setConfigured(configured bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if configured {
		s.configured++
	} else if s.configured > 0 {
		s.configured--
	}
}

// Read an input entry, zero padded to size
func (s *Slave) produce(entry ethercat.PdoEntryIndex, size int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	value := make([]byte, size)
	copy(value, s.inputs[entry])
	return value
}

func (s *Slave) consume(entry ethercat.PdoEntryIndex, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[entry] = append([]byte(nil), value...)
}

func (s *Slave) object(index uint16) *Object {
	for i := range s.Objects {
		if s.Objects[i].Index == index {
			return &s.Objects[i]
		}
	}
	return nil
}

func (s *Slave) upload(index ethercat.SdoIndex, buffer []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	object := s.object(index.Index)
	if object == nil {
		return 0, fmt.Errorf("%w : %v", ethercat.ErrNoSuchSdo, index)
	}
	entry := object.entry(index.Subindex)
	if entry == nil {
		return 0, fmt.Errorf("%w : %v", ethercat.ErrNoSuchSdo, index)
	}
	if len(buffer) < len(entry.Value) {
		return 0, fmt.Errorf("uploading %v : buffer of %v bytes, %v needed", index, len(buffer), len(entry.Value))
	}
	return copy(buffer, entry.Value), nil
}

// Write an object, startup downloads skip the access check.
func (s *Slave) download(index ethercat.SdoIndex, data []byte, startup bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	object := s.object(index.Index)
	if object == nil {
		return fmt.Errorf("%w : %v", ethercat.ErrNoSuchSdo, index)
	}
	entry := object.entry(index.Subindex)
	if entry == nil {
		return fmt.Errorf("%w : %v", ethercat.ErrNoSuchSdo, index)
	}
	access := entry.Access.In(s.alState)
	if !startup && access != ethercat.AccessWriteOnly && access != ethercat.AccessReadWrite {
		return fmt.Errorf("downloading %v : object is %v in %v", index, access, s.alState)
	}
	if size, ok := entry.DataType.Size(); ok && size != len(data) {
		return fmt.Errorf("downloading %v : %v expects %v bytes, got %v", index, entry.DataType, size, len(data))
	}
	entry.Value = append([]byte(nil), data...)
	return nil
}
