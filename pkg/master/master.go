// Package master configures an EtherCAT master instance and drives the
// cyclic process data exchange.
//
// A [Master] owns its domains and slave configurations. Setup happens in
// this order : reserve the master, create domains, configure slaves and
// declare their PDOs, register the PDO entries needed by the application
// (each registration returns the entry offset inside the domain image),
// then activate. After activation the application runs the cycle :
//
//	m.Receive()
//	d.Process()        // for each domain
//	// read inputs & write outputs in d.Data() at the registered offsets
//	d.Queue()          // for each domain
//	m.Send()
//
// This order is a usage contract and is not enforced : writing the image
// before Process or skipping Queue gives stale or unsent data, not an
// error. A Master, its domains and its slave configurations are not safe
// for concurrent use, they belong to a single cyclic context.
package master

import (
	"fmt"

	"github.com/google/uuid"
	ethercat "github.com/samsamfire/goethercat"
	log "github.com/sirupsen/logrus"
)

type Master struct {
	dev       ethercat.Device
	index     ethercat.MasterIndex
	access    ethercat.MasterAccess
	reserved  bool
	activated bool
	closed    bool
	session   uuid.UUID
	memory    []byte
	domains   []*Domain
	configs   []*SlaveConfig
}

// Open a master instance through the given driver.
// Read-only handles can only be used for introspection.
func Open(drv ethercat.Driver, index ethercat.MasterIndex, access ethercat.MasterAccess) (*Master, error) {
	dev, err := drv.Open(index, access)
	if err != nil {
		return nil, fmt.Errorf("opening master %v : %w", index, err)
	}
	log.Debugf("[MASTER][%v] opened with %v access", index, access)
	return &Master{dev: dev, index: index, access: access}, nil
}

// Reserve opens a master instance for read-write access and reserves it
// for this application.
func Reserve(drv ethercat.Driver, index ethercat.MasterIndex) (*Master, error) {
	m, err := Open(drv, index, ethercat.ReadWrite)
	if err != nil {
		return nil, err
	}
	err = m.Reserve()
	if err != nil {
		m.dev.Close()
		return nil, err
	}
	return m, nil
}

// Reserve the master instance for exclusive use by this handle.
func (m *Master) Reserve() error {
	if m.closed {
		return ethercat.ErrClosed
	}
	if m.access != ethercat.ReadWrite {
		return ethercat.ErrAccessDenied
	}
	if m.reserved {
		return nil
	}
	err := m.dev.Reserve()
	if err != nil {
		return fmt.Errorf("reserving master %v : %w", m.index, err)
	}
	m.reserved = true
	log.Infof("[MASTER][%v] reserved", m.index)
	return nil
}

// Close releases the master. Domain images are invalid after this call.
func (m *Master) Close() error {
	if m.closed {
		return nil
	}
	if m.activated {
		if err := m.Deactivate(); err != nil {
			log.Warnf("[MASTER][%v] deactivation on close failed : %v", m.index, err)
		}
	}
	m.closed = true
	m.release()
	log.Infof("[MASTER][%v] closed", m.index)
	return m.dev.Close()
}

func (m *Master) Index() ethercat.MasterIndex {
	return m.index
}

// Session identifies the current activation, it is the zero UUID while the
// master is not activated.
func (m *Master) Session() uuid.UUID {
	return m.session
}

func (m *Master) Activated() bool {
	return m.activated
}

// Check that the master can still be configured
func (m *Master) checkConfigurable() error {
	switch {
	case m.closed:
		return ethercat.ErrClosed
	case !m.reserved:
		return ethercat.ErrNotReserved
	case m.activated:
		return ethercat.ErrActivated
	}
	return nil
}

// Check that the master can exchange process data
func (m *Master) checkActivated() error {
	switch {
	case m.closed:
		return ethercat.ErrClosed
	case !m.activated:
		return ethercat.ErrNotActivated
	}
	return nil
}

// CreateDomain creates a new empty process data domain.
func (m *Master) CreateDomain() (ethercat.DomainIndex, error) {
	if err := m.checkConfigurable(); err != nil {
		return 0, err
	}
	index, err := m.dev.CreateDomain()
	if err != nil {
		return 0, fmt.Errorf("creating domain : %w", err)
	}
	m.domains = append(m.domains, &Domain{master: m, index: index})
	log.Debugf("[MASTER][%v] created domain %v", m.index, index)
	return index, nil
}

// Domain returns the domain with the given index.
func (m *Master) Domain(index ethercat.DomainIndex) (*Domain, error) {
	for _, domain := range m.domains {
		if domain.index == index {
			return domain, nil
		}
	}
	return nil, fmt.Errorf("%w : %v", ethercat.ErrUnknownDomain, index)
}

// Domains returns the domains in creation order.
func (m *Master) Domains() []*Domain {
	return m.domains
}

// DomainData returns the image of a domain, see [Domain.Data].
func (m *Master) DomainData(index ethercat.DomainIndex) ([]byte, error) {
	domain, err := m.Domain(index)
	if err != nil {
		return nil, err
	}
	if err := m.checkActivated(); err != nil {
		return nil, err
	}
	return domain.data, nil
}

// ConfigureSlave creates the configuration of the slave at the given
// address. Configuring the same address twice with the same identity
// returns the existing configuration. Addresses are compared as the
// driver sees them : ByPos(n) and ByAlias(0, n) are the same address.
func (m *Master) ConfigureSlave(addr ethercat.SlaveAddr, id ethercat.SlaveId) (*SlaveConfig, error) {
	if err := m.checkConfigurable(); err != nil {
		return nil, err
	}
	alias, position := addr.Pair()
	for _, config := range m.configs {
		configAlias, configPosition := config.addr.Pair()
		if configAlias != alias || configPosition != position {
			continue
		}
		if config.id != id {
			return nil, fmt.Errorf("%w : %v already configured as %v", ethercat.ErrConfigConflict, addr, config.id)
		}
		return config, nil
	}
	index, err := m.dev.CreateSlaveConfig(alias, position, id)
	if err != nil {
		return nil, fmt.Errorf("configuring slave at %v : %w", addr, err)
	}
	config := newSlaveConfig(m, index, addr, id)
	m.configs = append(m.configs, config)
	log.Debugf("[MASTER][%v] created config %v for %v (%v)", m.index, index, addr, id)
	return config, nil
}

// SlaveConfigs returns the slave configurations in creation order.
func (m *Master) SlaveConfigs() []*SlaveConfig {
	return m.configs
}

// ConfigInfo returns the state of a slave configuration. A nil
// SlavePosition means that no slave on the ring matches the configuration,
// which must be treated as fatal for this slave.
func (m *Master) ConfigInfo(index ethercat.SlaveConfigIndex) (ethercat.ConfigInfo, error) {
	if m.closed {
		return ethercat.ConfigInfo{}, ethercat.ErrClosed
	}
	if m.config(index) == nil {
		return ethercat.ConfigInfo{}, fmt.Errorf("%w : %v", ethercat.ErrUnknownConfig, index)
	}
	return m.dev.ConfigInfo(index)
}

func (m *Master) config(index ethercat.SlaveConfigIndex) *SlaveConfig {
	for _, config := range m.configs {
		if config.index == index {
			return config
		}
	}
	return nil
}

// Activate freezes the domain layouts and maps the process memory.
// It fails if a slave configuration is not attached to a slave.
// No domain or slave configuration can be added afterwards.
func (m *Master) Activate() error {
	if err := m.checkConfigurable(); err != nil {
		return err
	}
	for _, config := range m.configs {
		info, err := m.dev.ConfigInfo(config.index)
		if err != nil {
			return fmt.Errorf("reading config %v : %w", config.index, err)
		}
		if !info.Attached() {
			return fmt.Errorf("%w : config %v at %v (%v)", ethercat.ErrSlaveNotMatched, config.index, config.addr, config.id)
		}
	}
	placements := make([]ethercat.DomainPlacement, 0, len(m.domains))
	total := 0
	for _, domain := range m.domains {
		placements = append(placements, ethercat.DomainPlacement{
			Domain: domain.index,
			Offset: total,
			Size:   domain.Size(),
		})
		total += domain.Size()
	}
	memory, err := m.dev.Activate(placements)
	if err != nil {
		return fmt.Errorf("activating master %v : %w", m.index, err)
	}
	if len(memory) < total {
		m.dev.Deactivate()
		return fmt.Errorf("%w : %v bytes mapped, %v needed", ethercat.ErrLayout, len(memory), total)
	}
	m.memory = memory
	for i, domain := range m.domains {
		start, end := placements[i].Offset, placements[i].Offset+placements[i].Size
		domain.data = memory[start:end:end]
		domain.state = ethercat.DomainState{}
	}
	m.activated = true
	m.session = uuid.New()
	log.Infof("[MASTER][%v] activated session %v : %v domains, %v configs, %v bytes of process data",
		m.index, m.session, len(m.domains), len(m.configs), total)
	return nil
}

// Deactivate leaves cyclic operation. Like the underlying masters, this
// removes the bus configuration : domains and slave configurations created
// before are released and must be created again.
func (m *Master) Deactivate() error {
	if err := m.checkActivated(); err != nil {
		return err
	}
	err := m.dev.Deactivate()
	log.Infof("[MASTER][%v] deactivated session %v", m.index, m.session)
	m.activated = false
	m.session = uuid.Nil
	m.release()
	return err
}

// Invalidate everything that belonged to the configuration
func (m *Master) release() {
	for _, domain := range m.domains {
		domain.released = true
		domain.data = nil
	}
	for _, config := range m.configs {
		config.released = true
	}
	m.domains = nil
	m.configs = nil
	m.memory = nil
}

// Receive fetches the frames of the last exchange and updates the domain
// images with the received inputs.
func (m *Master) Receive() error {
	if err := m.checkActivated(); err != nil {
		return err
	}
	return m.dev.Receive()
}

// Send sends the queued domain images.
func (m *Master) Send() error {
	if err := m.checkActivated(); err != nil {
		return err
	}
	return m.dev.Send()
}

// State returns the master state as of the last Receive.
func (m *Master) State() (ethercat.MasterState, error) {
	if m.closed {
		return ethercat.MasterState{}, ethercat.ErrClosed
	}
	return m.dev.MasterState()
}

func (m *Master) Info() (ethercat.MasterInfo, error) {
	if m.closed {
		return ethercat.MasterInfo{}, ethercat.ErrClosed
	}
	return m.dev.MasterInfo()
}

func (m *Master) SlaveInfo(position ethercat.SlavePosition) (ethercat.SlaveInfo, error) {
	if m.closed {
		return ethercat.SlaveInfo{}, ethercat.ErrClosed
	}
	return m.dev.SlaveInfo(position)
}

// Sdo returns the SDO at the given position of the slave's dictionary.
func (m *Master) Sdo(position ethercat.SlavePosition, sdoPosition uint16) (ethercat.SdoInfo, error) {
	if m.closed {
		return ethercat.SdoInfo{}, ethercat.ErrClosed
	}
	return m.dev.Sdo(position, sdoPosition)
}

func (m *Master) SdoEntry(position ethercat.SlavePosition, addr ethercat.SdoEntryAddr) (ethercat.SdoEntry, error) {
	if m.closed {
		return ethercat.SdoEntry{}, ethercat.ErrClosed
	}
	return m.dev.SdoEntry(position, addr)
}

// SdoDownload writes data to a slave's object dictionary.
func (m *Master) SdoDownload(position ethercat.SlavePosition, index ethercat.SdoIndex, data ethercat.SdoData) error {
	if m.closed {
		return ethercat.ErrClosed
	}
	if m.access != ethercat.ReadWrite {
		return ethercat.ErrAccessDenied
	}
	return m.dev.SdoDownload(position, index, data.SdoBytes())
}

// SdoUpload reads an object of a slave's dictionary into buffer and
// returns the number of bytes read.
func (m *Master) SdoUpload(position ethercat.SlavePosition, index ethercat.SdoIndex, buffer []byte) (int, error) {
	if m.closed {
		return 0, ethercat.ErrClosed
	}
	return m.dev.SdoUpload(position, index, buffer)
}
