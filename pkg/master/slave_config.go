package master

import (
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// A declared PDO entry of a slave
type declaredEntry struct {
	bitLength uint8
	dir       ethercat.SyncDirection
	sync      ethercat.SmIndex
	pdo       ethercat.PdoIndex
}

type registration struct {
	domain ethercat.DomainIndex
	offset EntryOffset
}

// SlaveConfig is the configuration of one slave : its sync manager and PDO
// assignment and the PDO entries registered in domains.
type SlaveConfig struct {
	master     *Master
	index      ethercat.SlaveConfigIndex
	addr       ethercat.SlaveAddr
	id         ethercat.SlaveId
	syncs      map[ethercat.SmIndex]ethercat.SyncInfo
	declared   map[ethercat.PdoEntryIndex]declaredEntry
	registered map[ethercat.PdoEntryIndex]registration
	sdoCount   int
	released   bool
}

func newSlaveConfig(m *Master, index ethercat.SlaveConfigIndex, addr ethercat.SlaveAddr, id ethercat.SlaveId) *SlaveConfig {
	return &SlaveConfig{
		master:     m,
		index:      index,
		addr:       addr,
		id:         id,
		syncs:      make(map[ethercat.SmIndex]ethercat.SyncInfo),
		declared:   make(map[ethercat.PdoEntryIndex]declaredEntry),
		registered: make(map[ethercat.PdoEntryIndex]registration),
	}
}

// Index is the handle used to query [Master.ConfigInfo].
func (c *SlaveConfig) Index() ethercat.SlaveConfigIndex {
	return c.index
}

func (c *SlaveConfig) Addr() ethercat.SlaveAddr {
	return c.addr
}

func (c *SlaveConfig) Id() ethercat.SlaveId {
	return c.id
}

func (c *SlaveConfig) check() error {
	if c.released {
		return fmt.Errorf("%w : %v was released", ethercat.ErrUnknownConfig, c.index)
	}
	return c.master.checkConfigurable()
}

// Syncs returns the declared sync managers ordered by index.
func (c *SlaveConfig) Syncs() []ethercat.SyncInfo {
	indexes := maps.Keys(c.syncs)
	slices.Sort(indexes)
	syncs := make([]ethercat.SyncInfo, 0, len(indexes))
	for _, index := range indexes {
		syncs = append(syncs, c.syncs[index])
	}
	return syncs
}

func validateSync(sync ethercat.SyncInfo) error {
	if sync.Direction != ethercat.DirInput && sync.Direction != ethercat.DirOutput {
		return fmt.Errorf("%w : sm%v has direction %v", ethercat.ErrInvalidSync, sync.Index, sync.Direction)
	}
	if sync.WatchdogMode > ethercat.WatchdogDisable {
		return fmt.Errorf("%w : sm%v has watchdog mode %v", ethercat.ErrInvalidSync, sync.Index, sync.WatchdogMode)
	}
	for _, pdo := range sync.Pdos {
		for _, entry := range pdo.Entries {
			if entry.BitLength == 0 {
				return fmt.Errorf("%w : entry %v of pdo x%x has no length", ethercat.ErrInvalidSync, entry.Index, pdo.Index)
			}
		}
	}
	return nil
}

// Index all the entries of the given sync managers, entries must be unique
// except for padding.
func declare(syncs map[ethercat.SmIndex]ethercat.SyncInfo) (map[ethercat.PdoEntryIndex]declaredEntry, error) {
	declared := make(map[ethercat.PdoEntryIndex]declaredEntry)
	for _, sync := range syncs {
		for _, pdo := range sync.Pdos {
			for _, entry := range pdo.Entries {
				if entry.Index.IsPadding() {
					continue
				}
				if previous, ok := declared[entry.Index]; ok {
					return nil, fmt.Errorf("%w : entry %v is declared in pdo x%x and x%x",
						ethercat.ErrInvalidSync, entry.Index, previous.pdo, pdo.Index)
				}
				declared[entry.Index] = declaredEntry{
					bitLength: entry.BitLength,
					dir:       sync.Direction,
					sync:      sync.Index,
					pdo:       pdo.Index,
				}
			}
		}
	}
	return declared, nil
}

// ConfigPdos declares the sync managers of the slave with their PDOs and
// entries. The whole declaration is checked before anything is configured.
// If the driver refuses one of the sync managers, those already sent are
// restored and the previous declaration stays in force.
// A sync manager that was already declared is replaced. The declaration is
// locked once an entry of this slave has been registered.
func (c *SlaveConfig) ConfigPdos(syncs []ethercat.SyncInfo) error {
	if err := c.check(); err != nil {
		return err
	}
	if len(c.registered) > 0 {
		return ethercat.ErrConfigLocked
	}
	merged := maps.Clone(c.syncs)
	seen := make(map[ethercat.SmIndex]bool, len(syncs))
	for _, sync := range syncs {
		if seen[sync.Index] {
			return fmt.Errorf("%w : sm%v is declared twice", ethercat.ErrInvalidSync, sync.Index)
		}
		seen[sync.Index] = true
		if err := validateSync(sync); err != nil {
			return err
		}
		merged[sync.Index] = sync
	}
	declared, err := declare(merged)
	if err != nil {
		return err
	}
	for i, sync := range syncs {
		err := c.master.dev.ConfigSync(c.index, sync)
		if err != nil {
			c.restoreSyncs(syncs[:i])
			return fmt.Errorf("configuring sm%v of config %v : %w", sync.Index, c.index, err)
		}
		log.Debugf("[MASTER][%v] config %v sm%v %v : %v pdo(s), %v bit(s)",
			c.master.index, c.index, sync.Index, sync.Direction, len(sync.Pdos), sync.BitLength())
	}
	c.syncs = merged
	c.declared = declared
	return nil
}

// Give back to the driver the declaration of sync managers sent before a
// failure. A sync manager that was not declared before gets an empty PDO
// assignment.
func (c *SlaveConfig) restoreSyncs(sent []ethercat.SyncInfo) {
	for _, sync := range sent {
		previous, ok := c.syncs[sync.Index]
		if !ok {
			previous = ethercat.SyncInfo{Index: sync.Index, Direction: sync.Direction, WatchdogMode: sync.WatchdogMode}
		}
		if err := c.master.dev.ConfigSync(c.index, previous); err != nil {
			log.Warnf("[MASTER][%v] config %v sm%v could not be restored : %v", c.master.index, c.index, sync.Index, err)
		}
	}
}

// RegisterPdoEntry registers a declared PDO entry in a domain and returns
// its offset inside the domain image. Offsets are assigned in registration
// order. Registering an entry again in the same domain returns the same
// offset.
//
// Sub-byte packing is not implemented : an entry whose bit length is not a
// multiple of 8 fails with [ethercat.ErrBitPackingNotImplemented] and takes
// no room in the domain.
func (c *SlaveConfig) RegisterPdoEntry(entry ethercat.PdoEntryIndex, domainIndex ethercat.DomainIndex) (ethercat.Offset, error) {
	if err := c.check(); err != nil {
		return ethercat.Offset{}, err
	}
	domain, err := c.master.Domain(domainIndex)
	if err != nil {
		return ethercat.Offset{}, err
	}
	declared, ok := c.declared[entry]
	if !ok {
		return ethercat.Offset{}, fmt.Errorf("%w : %v in config %v", ethercat.ErrEntryNotDeclared, entry, c.index)
	}
	if reg, ok := c.registered[entry]; ok {
		if reg.domain != domainIndex {
			return ethercat.Offset{}, fmt.Errorf("%w : %v is in domain %v", ethercat.ErrEntryRegistered, entry, reg.domain)
		}
		return reg.offset.Offset, nil
	}
	offset, err := domain.allocate(declared.bitLength)
	if err != nil {
		return ethercat.Offset{}, fmt.Errorf("registering %v of config %v : %w", entry, c.index, err)
	}
	info := ethercat.PdoEntryInfo{Index: entry, BitLength: declared.bitLength}
	err = c.master.dev.RegisterPdoEntry(c.index, domainIndex, info, declared.dir, offset)
	if err != nil {
		domain.bits -= int(declared.bitLength)
		domain.entries--
		return ethercat.Offset{}, fmt.Errorf("registering %v of config %v : %w", entry, c.index, err)
	}
	c.registered[entry] = registration{
		domain: domainIndex,
		offset: EntryOffset{BitLength: declared.bitLength, Offset: offset},
	}
	log.Debugf("[MASTER][%v] config %v entry %v (%v bits) at %v in domain %v",
		c.master.index, c.index, entry, declared.bitLength, offset, domainIndex)
	return offset, nil
}

// Offsets returns the offset table of all the entries registered so far.
func (c *SlaveConfig) Offsets() OffsetTable {
	table := make(OffsetTable, len(c.registered))
	for entry, reg := range c.registered {
		table[entry] = reg.offset
	}
	return table
}

// ConfigSdo adds an SDO download to the startup configuration of the slave.
func (c *SlaveConfig) ConfigSdo(index ethercat.SdoIndex, data ethercat.SdoData) error {
	if err := c.check(); err != nil {
		return err
	}
	err := c.master.dev.ConfigSdo(c.index, index, data.SdoBytes())
	if err != nil {
		return fmt.Errorf("adding sdo %v to config %v : %w", index, c.index, err)
	}
	c.sdoCount++
	return nil
}

// State returns the state of the slave attached to this configuration.
func (c *SlaveConfig) State() (ethercat.SlaveConfigState, error) {
	if c.released {
		return ethercat.SlaveConfigState{}, fmt.Errorf("%w : %v was released", ethercat.ErrUnknownConfig, c.index)
	}
	if c.master.closed {
		return ethercat.SlaveConfigState{}, ethercat.ErrClosed
	}
	return c.master.dev.ConfigState(c.index)
}
