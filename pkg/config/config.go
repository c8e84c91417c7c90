// Package config reads and writes network descriptions : which master to
// use and, for every slave of the ring, its address, identity, domain and
// PDO assignment.
//
// Descriptions are INI files :
//
//	[master]
//	index = 0
//	driver = virtual
//	device = ring0
//	cycle = 10ms
//
//	[slave.coupler]
//	position = 0
//	vendor_id = 0x2
//	product_code = 0x044c2c52
//
//	[slave.inputs]
//	alias = 0x10
//	offset = 0
//	vendor_id = 0x2
//	product_code = 0x07113052
//	domain = io
//	syncs = 3
//
//	[slave.inputs.sm3]
//	direction = input
//	pdos = 0x1a00
//
//	[slave.inputs.pdo.0x1a00]
//	entries = 0x6000:01:16
//
//	[slave.inputs.sdo]
//	0x8000:01 = u16 10
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/ini.v1"
)

var ErrDescription = errors.New("invalid network description")

const (
	DefaultDriver          = "virtual"
	DefaultDevice          = "default"
	DefaultDomain          = "default"
	DefaultCycle           = 10 * time.Millisecond
	DefaultReserveAttempts = 1
	DefaultReserveDelay    = 100 * time.Millisecond
)

const slavePrefix = "slave."

// Sdo keys contain ':' which must not be read as a delimiter
var loadOptions = ini.LoadOptions{KeyValueDelimiters: "="}

type MasterSettings struct {
	Index           ethercat.MasterIndex
	Driver          string
	Device          string
	Cycle           time.Duration
	ReserveAttempts uint
	ReserveDelay    time.Duration
}

// Sdo is a startup SDO download.
type Sdo struct {
	Index ethercat.SdoIndex
	Data  ethercat.RawData
}

type Slave struct {
	Name   string
	Addr   ethercat.SlaveAddr
	Id     ethercat.SlaveId
	Domain string
	Syncs  []ethercat.SyncInfo
	Sdos   []Sdo
}

// Entries returns the non padding entries of the slave in declaration order.
func (s *Slave) Entries() []ethercat.PdoEntryInfo {
	entries := []ethercat.PdoEntryInfo{}
	for _, sync := range s.Syncs {
		for _, pdo := range sync.Pdos {
			for _, entry := range pdo.Entries {
				if !entry.Index.IsPadding() {
					entries = append(entries, entry)
				}
			}
		}
	}
	return entries
}

type Network struct {
	Master MasterSettings
	Slaves []Slave
}

// Domains returns the domain names in order of first use.
func (n *Network) Domains() []string {
	domains := []string{}
	seen := make(map[string]bool)
	for _, slave := range n.Slaves {
		if !seen[slave.Domain] {
			seen[slave.Domain] = true
			domains = append(domains, slave.Domain)
		}
	}
	return domains
}

// Slave returns the slave with the given name or nil.
func (n *Network) Slave(name string) *Slave {
	for i := range n.Slaves {
		if n.Slaves[i].Name == name {
			return &n.Slaves[i]
		}
	}
	return nil
}

func keyError(section *ini.Section, key string, err error) error {
	return fmt.Errorf("%w : [%v] %v : %v", ErrDescription, section.Name(), key, err)
}

func parseUint(section *ini.Section, key string, bitSize int) (uint64, error) {
	value, err := strconv.ParseUint(section.Key(key).Value(), 0, bitSize)
	if err != nil {
		return 0, keyError(section, key, err)
	}
	return value, nil
}

func parseDuration(section *ini.Section, key string, fallback time.Duration) (time.Duration, error) {
	if !section.HasKey(key) {
		return fallback, nil
	}
	value, err := section.Key(key).Duration()
	if err != nil {
		return 0, keyError(section, key, err)
	}
	return value, nil
}

// Load a network description.
// source can be either a path or an io.Reader or []byte
func Load(source any) (*Network, error) {
	file, err := ini.LoadSources(loadOptions, source)
	if err != nil {
		return nil, fmt.Errorf("%w : %v", ErrDescription, err)
	}
	network := &Network{}
	err = network.parseMaster(file.Section("master"))
	if err != nil {
		return nil, err
	}
	for _, section := range file.Sections() {
		name, ok := strings.CutPrefix(section.Name(), slavePrefix)
		if !ok || strings.Contains(name, ".") {
			continue
		}
		slave, err := parseSlave(file, section, name)
		if err != nil {
			return nil, err
		}
		network.Slaves = append(network.Slaves, *slave)
	}
	log.Debugf("[CONFIG] loaded %v slaves in %v domains", len(network.Slaves), len(network.Domains()))
	return network, nil
}

func (n *Network) parseMaster(section *ini.Section) error {
	n.Master = MasterSettings{
		Driver:          section.Key("driver").MustString(DefaultDriver),
		Device:          section.Key("device").MustString(DefaultDevice),
		ReserveAttempts: DefaultReserveAttempts,
	}
	if section.HasKey("index") {
		index, err := parseUint(section, "index", 32)
		if err != nil {
			return err
		}
		n.Master.Index = ethercat.MasterIndex(index)
	}
	if section.HasKey("reserve_attempts") {
		attempts, err := parseUint(section, "reserve_attempts", 16)
		if err != nil {
			return err
		}
		if attempts == 0 {
			return keyError(section, "reserve_attempts", errors.New("at least one attempt is needed"))
		}
		n.Master.ReserveAttempts = uint(attempts)
	}
	var err error
	n.Master.Cycle, err = parseDuration(section, "cycle", DefaultCycle)
	if err != nil {
		return err
	}
	if n.Master.Cycle <= 0 {
		return keyError(section, "cycle", errors.New("cycle must be positive"))
	}
	n.Master.ReserveDelay, err = parseDuration(section, "reserve_delay", DefaultReserveDelay)
	return err
}

func parseSlave(file *ini.File, section *ini.Section, name string) (*Slave, error) {
	slave := &Slave{Name: name, Domain: section.Key("domain").MustString(DefaultDomain)}

	switch {
	case section.HasKey("position") && section.HasKey("alias"):
		return nil, keyError(section, "position", errors.New("a slave is addressed by position or by alias, not both"))
	case section.HasKey("alias"):
		alias, err := parseUint(section, "alias", 16)
		if err != nil {
			return nil, err
		}
		var offset uint64
		if section.HasKey("offset") {
			offset, err = parseUint(section, "offset", 16)
			if err != nil {
				return nil, err
			}
		}
		slave.Addr = ethercat.ByAlias(uint16(alias), uint16(offset))
	default:
		position, err := parseUint(section, "position", 16)
		if err != nil {
			return nil, err
		}
		slave.Addr = ethercat.ByPos(uint16(position))
	}

	vendorId, err := parseUint(section, "vendor_id", 32)
	if err != nil {
		return nil, err
	}
	productCode, err := parseUint(section, "product_code", 32)
	if err != nil {
		return nil, err
	}
	slave.Id = ethercat.SlaveId{VendorId: uint32(vendorId), ProductCode: uint32(productCode)}

	pdos, err := findPdoSections(file, name)
	if err != nil {
		return nil, err
	}
	if section.HasKey("syncs") {
		for _, sm := range section.Key("syncs").Strings(",") {
			index, err := strconv.ParseUint(sm, 0, 8)
			if err != nil {
				return nil, keyError(section, "syncs", err)
			}
			sync, err := parseSync(file, pdos, name, ethercat.SmIndex(index))
			if err != nil {
				return nil, err
			}
			slave.Syncs = append(slave.Syncs, sync)
		}
	}
	if err := pdos.checkUsed(); err != nil {
		return nil, err
	}

	if sdoSection, err := file.GetSection(slavePrefix + name + ".sdo"); err == nil {
		for _, key := range sdoSection.Keys() {
			sdo, err := parseSdo(key.Name(), key.Value())
			if err != nil {
				return nil, keyError(sdoSection, key.Name(), err)
			}
			slave.Sdos = append(slave.Sdos, sdo)
		}
	}
	return slave, nil
}

func parseSync(file *ini.File, pdos *pdoSections, slave string, index ethercat.SmIndex) (ethercat.SyncInfo, error) {
	sync := ethercat.SyncInfo{Index: index}
	section, err := file.GetSection(fmt.Sprintf("%v%v.sm%d", slavePrefix, slave, index))
	if err != nil {
		return sync, fmt.Errorf("%w : %v", ErrDescription, err)
	}
	switch direction := section.Key("direction").String(); direction {
	case "input":
		sync.Direction = ethercat.DirInput
	case "output":
		sync.Direction = ethercat.DirOutput
	default:
		return sync, keyError(section, "direction", fmt.Errorf("unknown direction %q", direction))
	}
	switch watchdog := section.Key("watchdog").MustString("default"); watchdog {
	case "default":
		sync.WatchdogMode = ethercat.WatchdogDefault
	case "enable":
		sync.WatchdogMode = ethercat.WatchdogEnable
	case "disable":
		sync.WatchdogMode = ethercat.WatchdogDisable
	default:
		return sync, keyError(section, "watchdog", fmt.Errorf("unknown watchdog mode %q", watchdog))
	}
	for _, pdo := range section.Key("pdos").Strings(",") {
		index, err := strconv.ParseUint(pdo, 0, 16)
		if err != nil {
			return sync, keyError(section, "pdos", err)
		}
		info, err := parsePdo(pdos, ethercat.PdoIndex(index))
		if err != nil {
			return sync, err
		}
		sync.Pdos = append(sync.Pdos, info)
	}
	return sync, nil
}

func pdoSectionName(slave string, index ethercat.PdoIndex) string {
	return fmt.Sprintf("%v%v.pdo.0x%04x", slavePrefix, slave, uint16(index))
}

// The PDO sections of one slave, keyed by PDO index whatever the spelling
// of the index in the section name
type pdoSections struct {
	sections map[ethercat.PdoIndex]*ini.Section
	used     map[ethercat.PdoIndex]bool
}

func findPdoSections(file *ini.File, slave string) (*pdoSections, error) {
	prefix := slavePrefix + slave + ".pdo."
	pdos := &pdoSections{
		sections: make(map[ethercat.PdoIndex]*ini.Section),
		used:     make(map[ethercat.PdoIndex]bool),
	}
	for _, section := range file.Sections() {
		raw, ok := strings.CutPrefix(section.Name(), prefix)
		if !ok {
			continue
		}
		value, err := strconv.ParseUint(raw, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("%w : [%v] : %v", ErrDescription, section.Name(), err)
		}
		index := ethercat.PdoIndex(value)
		if other, ok := pdos.sections[index]; ok {
			return nil, fmt.Errorf("%w : [%v] and [%v] describe the same pdo", ErrDescription, other.Name(), section.Name())
		}
		pdos.sections[index] = section
	}
	return pdos, nil
}

// Every PDO section must be assigned to a sync manager
func (p *pdoSections) checkUsed() error {
	indexes := maps.Keys(p.sections)
	slices.Sort(indexes)
	for _, index := range indexes {
		if !p.used[index] {
			return fmt.Errorf("%w : [%v] is not listed in the pdos of any sync manager", ErrDescription, p.sections[index].Name())
		}
	}
	return nil
}

// A PDO without section keeps the slave's default mapping
func parsePdo(pdos *pdoSections, index ethercat.PdoIndex) (ethercat.PdoInfo, error) {
	section, ok := pdos.sections[index]
	if !ok {
		return ethercat.DefaultPdo(index), nil
	}
	pdos.used[index] = true
	pdo := ethercat.PdoInfo{Index: index}
	for _, raw := range section.Key("entries").Strings(",") {
		entry, err := parseEntry(raw)
		if err != nil {
			return pdo, keyError(section, "entries", err)
		}
		pdo.Entries = append(pdo.Entries, entry)
	}
	return pdo, nil
}

// Parse index:subindex:bits, e.g. 0x6000:01:16
func parseEntry(raw string) (ethercat.PdoEntryInfo, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return ethercat.PdoEntryInfo{}, fmt.Errorf("entry %q is not index:subindex:bits", raw)
	}
	index, err := strconv.ParseUint(parts[0], 0, 16)
	if err != nil {
		return ethercat.PdoEntryInfo{}, err
	}
	subindex, err := strconv.ParseUint(parts[1], 16, 8)
	if err != nil {
		return ethercat.PdoEntryInfo{}, err
	}
	bits, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return ethercat.PdoEntryInfo{}, err
	}
	return ethercat.PdoEntryInfo{
		Index:     ethercat.PdoEntryIndex{Index: uint16(index), Subindex: uint8(subindex)},
		BitLength: uint8(bits),
	}, nil
}

// Parse a startup sdo : "0x8000:01 = u16 10" or "0x8000:02 = raw 0a00"
func parseSdo(key string, value string) (Sdo, error) {
	sdo := Sdo{}
	index, subindex, ok := strings.Cut(key, ":")
	if !ok {
		return sdo, fmt.Errorf("sdo %q is not index:subindex", key)
	}
	idx, err := strconv.ParseUint(index, 0, 16)
	if err != nil {
		return sdo, err
	}
	sub, err := strconv.ParseUint(subindex, 16, 8)
	if err != nil {
		return sdo, err
	}
	sdo.Index = ethercat.SdoIndex{Index: uint16(idx), Subindex: uint8(sub)}

	kind, text, _ := strings.Cut(strings.TrimSpace(value), " ")
	text = strings.TrimSpace(text)
	var data ethercat.SdoData
	switch kind {
	case "raw":
		decoded, err := hex.DecodeString(text)
		if err != nil {
			return sdo, err
		}
		data = ethercat.RawData(decoded)
	case "u8", "u16", "u32", "u64":
		bits, _ := strconv.Atoi(kind[1:])
		v, err := strconv.ParseUint(text, 0, bits)
		if err != nil {
			return sdo, err
		}
		data = unsignedData(v, bits)
	case "i8", "i16", "i32", "i64":
		bits, _ := strconv.Atoi(kind[1:])
		v, err := strconv.ParseInt(text, 0, bits)
		if err != nil {
			return sdo, err
		}
		data = unsignedData(uint64(v), bits)
	default:
		return sdo, fmt.Errorf("unknown sdo value type %q", kind)
	}
	sdo.Data = ethercat.RawData(data.SdoBytes())
	return sdo, nil
}

func unsignedData(v uint64, bits int) ethercat.SdoData {
	switch bits {
	case 8:
		return ethercat.FixedData(uint8(v))
	case 16:
		return ethercat.FixedData(uint16(v))
	case 32:
		return ethercat.FixedData(uint32(v))
	}
	return ethercat.FixedData(v)
}
