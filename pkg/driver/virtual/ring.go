// Package virtual implements an in-process simulated EtherCAT ring, used for
// testing and for running a network description without hardware.
//
// A [Ring] is a line of simulated slaves shared by one or more master
// instances. Process data is exchanged on Send : queued domains are
// processed by every responding slave, which consumes its outputs in OP,
// produces its inputs in SAFEOP and OP, and adds to the working counter.
// Every Send also moves the slaves one AL state towards OP.
package virtual

import (
	"fmt"
	"sync"

	"github.com/jpillora/maplock"
	ethercat "github.com/samsamfire/goethercat"
	log "github.com/sirupsen/logrus"
)

func init() {
	ethercat.RegisterDriver("virtual", NewDriver)
}

// Commands of one master instance are serialized, different instances of
// the same ring can be driven concurrently.
var commandLock = maplock.New()

var (
	ringsMu sync.Mutex
	rings   = make(map[string]*Ring)
)

// Register makes a ring available to [ethercat.NewDriver] under name.
func Register(name string, ring *Ring) {
	ringsMu.Lock()
	defer ringsMu.Unlock()
	ring.name = name
	rings[name] = ring
}

// NewDriver returns the ring registered under name, an empty ring is created
// and registered on first use.
func NewDriver(name string) (ethercat.Driver, error) {
	ringsMu.Lock()
	defer ringsMu.Unlock()
	ring, ok := rings[name]
	if !ok {
		ring = NewRing()
		ring.name = name
		rings[name] = ring
		log.Infof("[VIRTUAL][%v] created empty ring", name)
	}
	return ring, nil
}

type Option func(*Ring)

// WithMasters sets the number of master instances of the ring.
func WithMasters(count int) Option {
	return func(r *Ring) {
		r.masterCount = count
	}
}

type Ring struct {
	name        string
	masterCount int
	mu          sync.Mutex
	linkUp      bool
	slaves      []*Slave
	instances   []*instance
}

func NewRing(opts ...Option) *Ring {
	ring := &Ring{masterCount: 1, linkUp: true}
	for _, opt := range opts {
		opt(ring)
	}
	for i := 0; i < ring.masterCount; i++ {
		ring.instances = append(ring.instances, newInstance(ethercat.MasterIndex(i)))
	}
	return ring
}

func (r *Ring) String() string {
	if r.name == "" {
		return fmt.Sprintf("%p", r)
	}
	return r.name
}

// AddSlave appends a slave at the end of the ring and returns its position.
func (r *Ring) AddSlave(slave *Slave) ethercat.SlavePosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slaves = append(r.slaves, slave)
	position := ethercat.SlavePosition(len(r.slaves) - 1)
	log.Debugf("[VIRTUAL][%v] slave %v (%v) at position %v", r, slave.Name, slave.Id, position)
	return position
}

// SetLink simulates plugging or unplugging the master's link.
// While the link is down nothing is exchanged.
func (r *Ring) SetLink(up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linkUp != up {
		log.Warnf("[VIRTUAL][%v] link up : %v", r, up)
	}
	r.linkUp = up
}

// Slave returns the slave at the given position or nil.
func (r *Ring) Slave(position ethercat.SlavePosition) *Slave {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(position) >= len(r.slaves) {
		return nil
	}
	return r.slaves[position]
}

// Find the slave addressed by alias and position, as the master does : a
// zero alias addresses by ring position, otherwise position is an offset
// from the first slave carrying the alias.
func (r *Ring) find(alias uint16, position uint16) (*Slave, ethercat.SlavePosition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := 0
	if alias != 0 {
		start = -1
		for i, slave := range r.slaves {
			if slave.Alias == alias {
				start = i
				break
			}
		}
		if start < 0 {
			return nil, 0, false
		}
	}
	pos := start + int(position)
	if pos >= len(r.slaves) {
		return nil, 0, false
	}
	return r.slaves[pos], ethercat.SlavePosition(pos), true
}

func (r *Ring) snapshot() (slaves []*Slave, linkUp bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Slave(nil), r.slaves...), r.linkUp
}

// Open implements [ethercat.Driver].
func (r *Ring) Open(index ethercat.MasterIndex, access ethercat.MasterAccess) (ethercat.Device, error) {
	if int(index) >= len(r.instances) {
		return nil, fmt.Errorf("%w : %v (ring %v has %v)", ethercat.ErrNoSuchMaster, index, r, len(r.instances))
	}
	return &device{ring: r, inst: r.instances[index], access: access}, nil
}

func (r *Ring) lockKey(index ethercat.MasterIndex) string {
	return fmt.Sprintf("%p/%d", r, index)
}
