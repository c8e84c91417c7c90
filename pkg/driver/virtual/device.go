package virtual

import (
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
	log "github.com/sirupsen/logrus"
)

type config struct {
	index    ethercat.SlaveConfigIndex
	alias    uint16
	position uint16
	id       ethercat.SlaveId
	syncs    map[ethercat.SmIndex]ethercat.SyncInfo
	sdos     []startupSdo
}

type startupSdo struct {
	index ethercat.SdoIndex
	data  []byte
}

type entry struct {
	config *config
	info   ethercat.PdoEntryInfo
	dir    ethercat.SyncDirection
	offset ethercat.Offset
}

func (e *entry) size() int {
	return (int(e.info.BitLength) + 7) / 8
}

// Inputs read by a Send, written to the process memory on Receive
type staged struct {
	at   int
	data []byte
}

type exchange struct {
	wc     uint32
	inputs []staged
}

type domain struct {
	index     ethercat.DomainIndex
	entries   []*entry
	placement ethercat.DomainPlacement
	expected  uint32
	queued    bool
	sent      *exchange
	wc        uint32
}

// Bytes needed by the registered entries
func (d *domain) size() int {
	size := 0
	for _, e := range d.entries {
		if end := e.offset.Byte + e.size(); end > size {
			size = end
		}
	}
	return size
}

// One master instance of the ring
type instance struct {
	index     ethercat.MasterIndex
	reserved  bool
	activated bool
	domains   []*domain
	configs   []*config
	memory    []byte
	driven    []*Slave
	state     *ethercat.MasterState
}

func newInstance(index ethercat.MasterIndex) *instance {
	return &instance{index: index}
}

func (inst *instance) reset() {
	for _, slave := range inst.driven {
		slave.setConfigured(false)
	}
	*inst = instance{index: inst.index, reserved: inst.reserved}
}

// A handle on an instance, implements [ethercat.Device]
type device struct {
	ring     *Ring
	inst     *instance
	access   ethercat.MasterAccess
	reserved bool
	closed   bool
}

func (d *device) lock() func() {
	key := d.ring.lockKey(d.inst.index)
	commandLock.Lock(key)
	return func() { commandLock.Unlock(key) }
}

func (d *device) checkReserved() error {
	switch {
	case d.closed:
		return ethercat.ErrClosed
	case !d.reserved:
		return ethercat.ErrNotReserved
	}
	return nil
}

func (d *device) checkConfigurable() error {
	if err := d.checkReserved(); err != nil {
		return err
	}
	if d.inst.activated {
		return ethercat.ErrActivated
	}
	return nil
}

func (d *device) checkActivated() error {
	if err := d.checkReserved(); err != nil {
		return err
	}
	if !d.inst.activated {
		return ethercat.ErrNotActivated
	}
	return nil
}

func (d *device) Reserve() error {
	defer d.lock()()
	if d.closed {
		return ethercat.ErrClosed
	}
	if d.access != ethercat.ReadWrite {
		return ethercat.ErrAccessDenied
	}
	if d.reserved {
		return nil
	}
	if d.inst.reserved {
		return fmt.Errorf("%w : master %v of ring %v", ethercat.ErrBusy, d.inst.index, d.ring)
	}
	d.inst.reserved = true
	d.reserved = true
	return nil
}

func (d *device) Close() error {
	defer d.lock()()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.reserved {
		d.inst.reset()
		d.inst.reserved = false
		d.reserved = false
	}
	return nil
}

func (d *device) MasterInfo() (ethercat.MasterInfo, error) {
	if d.closed {
		return ethercat.MasterInfo{}, ethercat.ErrClosed
	}
	slaves, linkUp := d.ring.snapshot()
	return ethercat.MasterInfo{SlaveCount: uint32(len(slaves)), LinkUp: linkUp}, nil
}

func liveState(slaves []*Slave, linkUp bool) ethercat.MasterState {
	state := ethercat.MasterState{LinkUp: linkUp}
	if !linkUp {
		return state
	}
	for _, slave := range slaves {
		if !slave.Responding() {
			continue
		}
		state.SlavesResponding++
		state.AlStates |= uint8(slave.AlState())
	}
	return state
}

func (d *device) MasterState() (ethercat.MasterState, error) {
	defer d.lock()()
	if d.closed {
		return ethercat.MasterState{}, ethercat.ErrClosed
	}
	if d.inst.state != nil {
		return *d.inst.state, nil
	}
	return liveState(d.ring.snapshot()), nil
}

func (d *device) CreateDomain() (ethercat.DomainIndex, error) {
	defer d.lock()()
	if err := d.checkConfigurable(); err != nil {
		return 0, err
	}
	index := ethercat.DomainIndex(len(d.inst.domains))
	d.inst.domains = append(d.inst.domains, &domain{index: index})
	return index, nil
}

func (d *device) domain(index ethercat.DomainIndex) (*domain, error) {
	if int(index) >= len(d.inst.domains) {
		return nil, fmt.Errorf("%w : %v", ethercat.ErrUnknownDomain, index)
	}
	return d.inst.domains[index], nil
}

func (d *device) config(index ethercat.SlaveConfigIndex) (*config, error) {
	if int(index) >= len(d.inst.configs) {
		return nil, fmt.Errorf("%w : %v", ethercat.ErrUnknownConfig, index)
	}
	return d.inst.configs[index], nil
}

// Slave matching the address and identity of a configuration
func (d *device) attached(c *config) (*Slave, ethercat.SlavePosition, bool) {
	slave, position, ok := d.ring.find(c.alias, c.position)
	if !ok || slave.Id != c.id {
		return nil, 0, false
	}
	return slave, position, true
}

func (d *device) CreateSlaveConfig(alias uint16, position uint16, id ethercat.SlaveId) (ethercat.SlaveConfigIndex, error) {
	defer d.lock()()
	if err := d.checkConfigurable(); err != nil {
		return 0, err
	}
	index := ethercat.SlaveConfigIndex(len(d.inst.configs))
	c := &config{
		index:    index,
		alias:    alias,
		position: position,
		id:       id,
		syncs:    make(map[ethercat.SmIndex]ethercat.SyncInfo),
	}
	d.inst.configs = append(d.inst.configs, c)
	if _, _, ok := d.attached(c); !ok {
		log.Warnf("[VIRTUAL][%v] config %v : no slave %v at %v:%v", d.ring, index, id, alias, position)
	}
	return index, nil
}

func (d *device) ConfigSync(index ethercat.SlaveConfigIndex, sync ethercat.SyncInfo) error {
	defer d.lock()()
	if err := d.checkConfigurable(); err != nil {
		return err
	}
	c, err := d.config(index)
	if err != nil {
		return err
	}
	if slave, _, ok := d.attached(c); ok {
		if dir, fixed := slave.Syncs[sync.Index]; fixed && dir != sync.Direction {
			return fmt.Errorf("%w : sm%v of %v is an %v", ethercat.ErrInvalidSync, sync.Index, slave.Name, dir)
		}
	}
	c.syncs[sync.Index] = sync
	return nil
}

func (d *device) ConfigSdo(index ethercat.SlaveConfigIndex, sdo ethercat.SdoIndex, data []byte) error {
	defer d.lock()()
	if err := d.checkConfigurable(); err != nil {
		return err
	}
	c, err := d.config(index)
	if err != nil {
		return err
	}
	c.sdos = append(c.sdos, startupSdo{index: sdo, data: append([]byte(nil), data...)})
	return nil
}

func (d *device) RegisterPdoEntry(index ethercat.SlaveConfigIndex, domainIndex ethercat.DomainIndex, info ethercat.PdoEntryInfo, dir ethercat.SyncDirection, offset ethercat.Offset) error {
	defer d.lock()()
	if err := d.checkConfigurable(); err != nil {
		return err
	}
	c, err := d.config(index)
	if err != nil {
		return err
	}
	dom, err := d.domain(domainIndex)
	if err != nil {
		return err
	}
	dom.entries = append(dom.entries, &entry{config: c, info: info, dir: dir, offset: offset})
	return nil
}

func (d *device) ConfigInfo(index ethercat.SlaveConfigIndex) (ethercat.ConfigInfo, error) {
	defer d.lock()()
	if d.closed {
		return ethercat.ConfigInfo{}, ethercat.ErrClosed
	}
	c, err := d.config(index)
	if err != nil {
		return ethercat.ConfigInfo{}, err
	}
	info := ethercat.ConfigInfo{
		Alias:    c.alias,
		Position: c.position,
		Id:       c.id,
		SdoCount: uint32(len(c.sdos)),
	}
	if _, position, ok := d.attached(c); ok {
		slavePosition := uint32(position)
		info.SlavePosition = &slavePosition
	}
	return info, nil
}

func (d *device) ConfigState(index ethercat.SlaveConfigIndex) (ethercat.SlaveConfigState, error) {
	defer d.lock()()
	if d.closed {
		return ethercat.SlaveConfigState{}, ethercat.ErrClosed
	}
	c, err := d.config(index)
	if err != nil {
		return ethercat.SlaveConfigState{}, err
	}
	slave, _, ok := d.attached(c)
	if !ok {
		return ethercat.SlaveConfigState{}, nil
	}
	_, linkUp := d.ring.snapshot()
	online := linkUp && slave.Responding()
	alState := slave.AlState()
	return ethercat.SlaveConfigState{
		Online:      online,
		Operational: online && d.inst.activated && alState == ethercat.AlStateOp,
		AlState:     alState,
	}, nil
}

// Expected working counter of a domain : outputs of a slave count 2,
// inputs count 1.
func expectedWc(dom *domain) uint32 {
	type directions struct{ in, out bool }
	seen := make(map[*config]*directions)
	for _, e := range dom.entries {
		dirs, ok := seen[e.config]
		if !ok {
			dirs = &directions{}
			seen[e.config] = dirs
		}
		if e.dir == ethercat.DirOutput {
			dirs.out = true
		} else {
			dirs.in = true
		}
	}
	var wc uint32
	for _, dirs := range seen {
		if dirs.out {
			wc += 2
		}
		if dirs.in {
			wc++
		}
	}
	return wc
}

func (d *device) Activate(placements []ethercat.DomainPlacement) ([]byte, error) {
	defer d.lock()()
	if err := d.checkConfigurable(); err != nil {
		return nil, err
	}
	if len(placements) != len(d.inst.domains) {
		return nil, fmt.Errorf("%w : %v placements for %v domains", ethercat.ErrLayout, len(placements), len(d.inst.domains))
	}
	total := 0
	for _, placement := range placements {
		dom, err := d.domain(placement.Domain)
		if err != nil {
			return nil, err
		}
		if placement.Size < dom.size() {
			return nil, fmt.Errorf("%w : domain %v needs %v bytes, %v placed", ethercat.ErrLayout, dom.index, dom.size(), placement.Size)
		}
		if end := placement.Offset + placement.Size; end > total {
			total = end
		}
	}
	for _, placement := range placements {
		dom := d.inst.domains[placement.Domain]
		dom.placement = placement
		dom.expected = expectedWc(dom)
	}
	for _, c := range d.inst.configs {
		slave, _, ok := d.attached(c)
		if !ok {
			continue
		}
		slave.setConfigured(true)
		d.inst.driven = append(d.inst.driven, slave)
		for _, sdo := range c.sdos {
			if err := slave.download(sdo.index, sdo.data, true); err != nil {
				log.Warnf("[VIRTUAL][%v] startup sdo %v of config %v : %v", d.ring, sdo.index, c.index, err)
			}
		}
	}
	d.inst.memory = make([]byte, total)
	d.inst.activated = true
	log.Debugf("[VIRTUAL][%v] master %v activated, %v bytes", d.ring, d.inst.index, total)
	return d.inst.memory, nil
}

func (d *device) Deactivate() error {
	defer d.lock()()
	if err := d.checkActivated(); err != nil {
		return err
	}
	d.inst.reset()
	return nil
}

func (d *device) QueueDomain(index ethercat.DomainIndex) error {
	defer d.lock()()
	if err := d.checkActivated(); err != nil {
		return err
	}
	dom, err := d.domain(index)
	if err != nil {
		return err
	}
	dom.queued = true
	return nil
}

// Exchange a queued domain with the slaves
func (d *device) exchange(dom *domain, linkUp bool) *exchange {
	result := &exchange{}
	if !linkUp {
		return result
	}
	image := d.inst.memory[dom.placement.Offset : dom.placement.Offset+dom.placement.Size]
	type contribution struct{ in, out bool }
	contributions := make(map[*config]*contribution)
	for _, e := range dom.entries {
		slave, _, ok := d.attached(e.config)
		if !ok || !slave.Responding() {
			continue
		}
		alState := slave.AlState()
		c, ok := contributions[e.config]
		if !ok {
			c = &contribution{}
			contributions[e.config] = c
		}
		start := e.offset.Byte
		switch {
		case e.dir == ethercat.DirOutput && alState == ethercat.AlStateOp:
			slave.consume(e.info.Index, image[start:start+e.size()])
			c.out = true
		case e.dir == ethercat.DirInput && (alState == ethercat.AlStateSafeOp || alState == ethercat.AlStateOp):
			result.inputs = append(result.inputs, staged{
				at:   dom.placement.Offset + start,
				data: slave.produce(e.info.Index, e.size()),
			})
			c.in = true
		}
	}
	for _, c := range contributions {
		if c.out {
			result.wc += 2
		}
		if c.in {
			result.wc++
		}
	}
	return result
}

func (d *device) Send() error {
	defer d.lock()()
	if err := d.checkActivated(); err != nil {
		return err
	}
	slaves, linkUp := d.ring.snapshot()
	for _, dom := range d.inst.domains {
		if !dom.queued {
			continue
		}
		dom.sent = d.exchange(dom, linkUp)
		dom.queued = false
	}
	if linkUp {
		for _, slave := range slaves {
			slave.step()
		}
	}
	return nil
}

func (d *device) Receive() error {
	defer d.lock()()
	if err := d.checkActivated(); err != nil {
		return err
	}
	for _, dom := range d.inst.domains {
		dom.wc = 0
		if dom.sent == nil {
			continue
		}
		for _, input := range dom.sent.inputs {
			copy(d.inst.memory[input.at:], input.data)
		}
		dom.wc = dom.sent.wc
		dom.sent = nil
	}
	state := liveState(d.ring.snapshot())
	d.inst.state = &state
	return nil
}

func (d *device) ProcessDomain(index ethercat.DomainIndex) (ethercat.DomainState, error) {
	defer d.lock()()
	if err := d.checkActivated(); err != nil {
		return ethercat.DomainState{}, err
	}
	dom, err := d.domain(index)
	if err != nil {
		return ethercat.DomainState{}, err
	}
	state := ethercat.DomainState{WorkingCounter: dom.wc}
	switch {
	case dom.wc == 0:
		state.WcState = ethercat.WcZero
	case dom.wc == dom.expected:
		state.WcState = ethercat.WcComplete
	default:
		state.WcState = ethercat.WcIncomplete
	}
	return state, nil
}

func (d *device) slave(position ethercat.SlavePosition) (*Slave, error) {
	slave := d.ring.Slave(position)
	if slave == nil {
		return nil, fmt.Errorf("%w : %v", ethercat.ErrNoSuchSlave, position)
	}
	return slave, nil
}

func (d *device) SlaveInfo(position ethercat.SlavePosition) (ethercat.SlaveInfo, error) {
	if d.closed {
		return ethercat.SlaveInfo{}, ethercat.ErrClosed
	}
	slave, err := d.slave(position)
	if err != nil {
		return ethercat.SlaveInfo{}, err
	}
	slaves, linkUp := d.ring.snapshot()
	responding := slave.Responding()
	info := ethercat.SlaveInfo{
		Name:      slave.Name,
		RingPos:   uint16(position),
		Id:        slave.Id,
		Rev:       slave.Rev,
		Alias:     slave.Alias,
		AlState:   slave.AlState(),
		SyncCount: uint8(len(slave.Syncs)),
		SdoCount:  uint16(len(slave.Objects)),
	}
	info.Ports[0] = ethercat.SlavePortInfo{
		Desc: ethercat.PortMII,
		Link: ethercat.SlavePortLink{LinkUp: linkUp && responding, SignalDetected: linkUp},
	}
	next := ethercat.SlavePortInfo{Desc: ethercat.PortEBus}
	if int(position)+1 < len(slaves) {
		next.Link = ethercat.SlavePortLink{LinkUp: responding, SignalDetected: responding}
		next.NextSlave = uint16(position) + 1
	} else {
		next.Link = ethercat.SlavePortLink{LoopClosed: true}
	}
	info.Ports[1] = next
	return info, nil
}

func (d *device) Sdo(position ethercat.SlavePosition, sdoPosition uint16) (ethercat.SdoInfo, error) {
	if d.closed {
		return ethercat.SdoInfo{}, ethercat.ErrClosed
	}
	slave, err := d.slave(position)
	if err != nil {
		return ethercat.SdoInfo{}, err
	}
	slave.mu.Lock()
	defer slave.mu.Unlock()
	if int(sdoPosition) >= len(slave.Objects) {
		return ethercat.SdoInfo{}, fmt.Errorf("%w : #%v of slave %v", ethercat.ErrNoSuchSdo, sdoPosition, position)
	}
	object := &slave.Objects[sdoPosition]
	return ethercat.SdoInfo{
		SlavePosition: uint16(position),
		Position:      sdoPosition,
		Index:         object.Index,
		MaxSubindex:   object.maxSubindex(),
		ObjectCode:    object.ObjectCode,
		Name:          object.Name,
	}, nil
}

func (d *device) SdoEntry(position ethercat.SlavePosition, addr ethercat.SdoEntryAddr) (ethercat.SdoEntry, error) {
	if d.closed {
		return ethercat.SdoEntry{}, ethercat.ErrClosed
	}
	slave, err := d.slave(position)
	if err != nil {
		return ethercat.SdoEntry{}, err
	}
	slave.mu.Lock()
	defer slave.mu.Unlock()
	var object *Object
	if addr.ByPosition {
		if int(addr.Position) < len(slave.Objects) {
			object = &slave.Objects[addr.Position]
		}
	} else {
		object = slave.object(addr.Index)
	}
	if object == nil {
		return ethercat.SdoEntry{}, fmt.Errorf("%w : %v of slave %v", ethercat.ErrNoSuchSdo, addr, position)
	}
	entry := object.entry(addr.Subindex)
	if entry == nil {
		return ethercat.SdoEntry{}, fmt.Errorf("%w : %v of slave %v", ethercat.ErrNoSuchSdo, addr, position)
	}
	return ethercat.SdoEntry{
		SlavePosition: uint16(position),
		Address:       addr,
		DataType:      entry.DataType,
		BitLength:     entry.BitLength,
		Access:        entry.Access,
		Description:   entry.Description,
	}, nil
}

func (d *device) SdoDownload(position ethercat.SlavePosition, index ethercat.SdoIndex, data []byte) error {
	if d.closed {
		return ethercat.ErrClosed
	}
	if d.access != ethercat.ReadWrite {
		return ethercat.ErrAccessDenied
	}
	slave, err := d.slave(position)
	if err != nil {
		return err
	}
	return slave.download(index, data, false)
}

func (d *device) SdoUpload(position ethercat.SlavePosition, index ethercat.SdoIndex, buffer []byte) (int, error) {
	if d.closed {
		return 0, ethercat.ErrClosed
	}
	slave, err := d.slave(position)
	if err != nil {
		return 0, err
	}
	return slave.upload(index, buffer)
}
