// Package network brings up a described EtherCAT network on a master and
// runs its cyclic exchange.
package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/master"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotSetup     = errors.New("network is not setup")
	ErrUnknownSlave = errors.New("slave is not part of the network")
)

// Slave is a slave of the network once setup, with the location of its
// registered entries.
type Slave struct {
	Name    string
	config  *master.SlaveConfig
	domain  *master.Domain
	offsets master.OffsetTable
}

func (s *Slave) Config() *master.SlaveConfig {
	return s.config
}

func (s *Slave) Domain() *master.Domain {
	return s.domain
}

func (s *Slave) Offsets() master.OffsetTable {
	return s.offsets
}

// Read returns the bytes of an entry in the domain image.
func (s *Slave) Read(entry ethercat.PdoEntryIndex) ([]byte, error) {
	return s.offsets.Read(s.domain.Data(), entry)
}

func (s *Slave) ReadUint(entry ethercat.PdoEntryIndex) (uint64, error) {
	return s.offsets.ReadUint(s.domain.Data(), entry)
}

// Write sets an output entry, it is sent with the next exchange.
func (s *Slave) Write(entry ethercat.PdoEntryIndex, value ethercat.SdoData) error {
	return s.offsets.Write(s.domain.Data(), entry, value)
}

// A Network is a set of slaves described by a [config.Network], driven by
// one master.
type Network struct {
	drv       ethercat.Driver
	desc      *config.Network
	master    *master.Master
	domains   map[string]*master.Domain
	names     []string // Domain names in creation order
	slaves    map[string]*Slave
	iteration uint64
	pending   error // Send error, reported with the next cycle
	linkUp    bool
	wcStates  map[string]ethercat.WcState
}

// New creates a network for the given description. Nothing is done on the
// master before [Network.Setup].
func New(drv ethercat.Driver, desc *config.Network) *Network {
	return &Network{
		drv:      drv,
		desc:     desc,
		domains:  make(map[string]*master.Domain),
		slaves:   make(map[string]*Slave),
		wcStates: make(map[string]ethercat.WcState),
	}
}

// Open creates a network on the driver named by the description.
func Open(desc *config.Network) (*Network, error) {
	drv, err := ethercat.NewDriver(desc.Master.Driver, desc.Master.Device)
	if err != nil {
		return nil, err
	}
	return New(drv, desc), nil
}

// Reserve the master, retrying while it is held by another application
func (n *Network) reserve() error {
	settings := n.desc.Master
	attempts := settings.ReserveAttempts
	if attempts == 0 {
		attempts = 1
	}
	err := retry.Do(
		func() error {
			m, err := master.Reserve(n.drv, settings.Index)
			if err != nil {
				return err
			}
			n.master = m
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(settings.ReserveDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ethercat.ErrBusy)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			log.Warnf("[NETWORK] master %v is busy, attempt %v/%v", settings.Index, attempt+1, attempts)
		}),
	)
	if err != nil {
		return err
	}
	if n.master == nil {
		return fmt.Errorf("%w : master %v was not reserved", ethercat.ErrNotReserved, settings.Index)
	}
	return nil
}

// Setup reserves the master, configures every slave of the description,
// registers all of their entries and activates the master.
// On failure the master is released.
func (n *Network) Setup() error {
	if n.master != nil {
		return fmt.Errorf("network is already setup on master %v", n.master.Index())
	}
	err := n.reserve()
	if err != nil {
		return fmt.Errorf("reserving master %v : %w", n.desc.Master.Index, err)
	}
	err = n.setup()
	if err != nil {
		n.master.Close()
		n.master = nil
		return err
	}
	log.Infof("[NETWORK] setup on master %v : %v slaves, %v domains",
		n.master.Index(), len(n.desc.Slaves), len(n.names))
	return nil
}

func (n *Network) setup() error {
	n.domains = make(map[string]*master.Domain)
	n.slaves = make(map[string]*Slave)
	n.names = nil
	for _, name := range n.desc.Domains() {
		index, err := n.master.CreateDomain()
		if err != nil {
			return fmt.Errorf("creating domain %v : %w", name, err)
		}
		domain, err := n.master.Domain(index)
		if err != nil {
			return err
		}
		n.domains[name] = domain
		n.names = append(n.names, name)
	}
	for i := range n.desc.Slaves {
		err := n.configureSlave(&n.desc.Slaves[i])
		if err != nil {
			return fmt.Errorf("configuring slave %v : %w", n.desc.Slaves[i].Name, err)
		}
	}
	for _, slave := range n.desc.Slaves {
		info, err := n.master.ConfigInfo(n.slaves[slave.Name].config.Index())
		if err != nil {
			return err
		}
		if !info.Attached() {
			return fmt.Errorf("%w : %v at %v (%v)", ethercat.ErrSlaveNotMatched, slave.Name, slave.Addr, slave.Id)
		}
	}
	return n.master.Activate()
}

func (n *Network) configureSlave(desc *config.Slave) error {
	slaveConfig, err := n.master.ConfigureSlave(desc.Addr, desc.Id)
	if err != nil {
		return err
	}
	if len(desc.Syncs) > 0 {
		err = slaveConfig.ConfigPdos(desc.Syncs)
		if err != nil {
			return err
		}
	}
	for _, sdo := range desc.Sdos {
		err = slaveConfig.ConfigSdo(sdo.Index, sdo.Data)
		if err != nil {
			return err
		}
	}
	domain := n.domains[desc.Domain]
	for _, entry := range desc.Entries() {
		_, err := slaveConfig.RegisterPdoEntry(entry.Index, domain.Index())
		if err != nil {
			return err
		}
	}
	n.slaves[desc.Name] = &Slave{
		Name:    desc.Name,
		config:  slaveConfig,
		domain:  domain,
		offsets: slaveConfig.Offsets(),
	}
	log.Debugf("[NETWORK] slave %v : %v entries in domain %v", desc.Name, len(n.slaves[desc.Name].offsets), desc.Domain)
	return nil
}

// Master returns the master used by the network, nil before Setup.
func (n *Network) Master() *master.Master {
	return n.master
}

func (n *Network) Slave(name string) (*Slave, error) {
	slave, ok := n.slaves[name]
	if !ok {
		return nil, fmt.Errorf("%w : %v", ErrUnknownSlave, name)
	}
	return slave, nil
}

// Domain returns the domain with the given name.
func (n *Network) Domain(name string) (*master.Domain, error) {
	domain, ok := n.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w : %v", ethercat.ErrUnknownDomain, name)
	}
	return domain, nil
}

// Close releases the master.
func (n *Network) Close() error {
	if n.master == nil {
		return nil
	}
	err := n.master.Close()
	n.master = nil
	log.Infof("[NETWORK] closed")
	return err
}

// Cycle is the handle given to the application for one iteration.
type Cycle struct {
	network   *Network
	Iteration uint64
	// Error of the exchange : receive or process of this iteration, or send
	// of the previous one. Inputs may be stale when set.
	Err error
}

func (c *Cycle) Slave(name string) (*Slave, error) {
	return c.network.Slave(name)
}

// State returns the state of a domain as of this iteration.
func (c *Cycle) State(domain string) (ethercat.DomainState, error) {
	d, err := c.network.Domain(domain)
	if err != nil {
		return ethercat.DomainState{}, err
	}
	return d.State(), nil
}

// CycleFunc reads the inputs and writes the outputs of one iteration.
// Returning an error stops [Network.Run].
type CycleFunc func(c *Cycle) error

func (n *Network) receive() error {
	err := n.master.Receive()
	if err != nil {
		return err
	}
	for _, name := range n.names {
		domain := n.domains[name]
		if err := domain.Process(); err != nil {
			return err
		}
		state := domain.State().WcState
		if previous, ok := n.wcStates[name]; !ok || previous != state {
			if state == ethercat.WcComplete {
				log.Infof("[NETWORK] domain %v complete", name)
			} else if ok && previous == ethercat.WcComplete {
				log.Warnf("[NETWORK] domain %v working counter %v", name, state)
			}
			n.wcStates[name] = state
		}
	}
	state, err := n.master.State()
	if err != nil {
		return err
	}
	if state.LinkUp != n.linkUp {
		if state.LinkUp {
			log.Infof("[NETWORK] link up, %v slave(s) responding", state.SlavesResponding)
		} else {
			log.Warnf("[NETWORK] link down")
		}
		n.linkUp = state.LinkUp
	}
	return nil
}

func (n *Network) send() error {
	for _, name := range n.names {
		if err := n.domains[name].Queue(); err != nil {
			return err
		}
	}
	return n.master.Send()
}

// Run one iteration, the handler error is kept apart from exchange errors
func (n *Network) cycle(fn CycleFunc) (handlerErr error, exchangeErr error) {
	if n.master == nil {
		return ErrNotSetup, nil
	}
	c := &Cycle{network: n, Iteration: n.iteration, Err: n.pending}
	n.iteration++
	n.pending = nil
	if err := n.receive(); err != nil {
		c.Err = err
	}
	if err := fn(c); err != nil {
		return err, c.Err
	}
	// Closed by the handler
	if n.master == nil {
		return ErrNotSetup, c.Err
	}
	if err := n.send(); err != nil {
		n.pending = err
		return nil, err
	}
	return nil, c.Err
}

// Cycle runs exactly one iteration : receive, process every domain, call
// fn, queue every domain and send.
// It returns the error of fn, or else the first exchange error.
func (n *Network) Cycle(fn CycleFunc) error {
	if n.master == nil {
		return ErrNotSetup
	}
	handlerErr, exchangeErr := n.cycle(fn)
	if handlerErr != nil {
		return handlerErr
	}
	return exchangeErr
}

// Run repeats [Network.Cycle] every period until ctx is done or fn
// returns an error. Exchange errors do not stop the loop, they are given
// to fn through [Cycle.Err].
func (n *Network) Run(ctx context.Context, period time.Duration, fn CycleFunc) error {
	if n.master == nil {
		return ErrNotSetup
	}
	if period <= 0 {
		period = n.desc.Master.Cycle
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	log.Infof("[NETWORK] running cycle every %v", period)
	for {
		select {
		case <-ctx.Done():
			log.Infof("[NETWORK] stopped after %v cycles", n.iteration)
			return ctx.Err()
		case <-ticker.C:
			handlerErr, exchangeErr := n.cycle(fn)
			if handlerErr != nil {
				return handlerErr
			}
			if exchangeErr != nil {
				log.Debugf("[NETWORK] cycle %v : %v", n.iteration-1, exchangeErr)
			}
		}
	}
}
