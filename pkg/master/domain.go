package master

import (
	"fmt"

	ethercat "github.com/samsamfire/goethercat"
	log "github.com/sirupsen/logrus"
)

// A Domain is one process data image exchanged with the ring every cycle.
//
// Entries registered against a domain are laid out one after the other in
// registration order. The image returned by [Domain.Data] is exactly large
// enough for all of them.
type Domain struct {
	master   *Master
	index    ethercat.DomainIndex
	bits     int // Next free bit of the image
	entries  int
	data     []byte
	state    ethercat.DomainState
	released bool
}

func (d *Domain) Index() ethercat.DomainIndex {
	return d.index
}

// Size of the image in bytes.
func (d *Domain) Size() int {
	return (d.bits + 7) / 8
}

// Number of entries registered in this domain.
func (d *Domain) Entries() int {
	return d.entries
}

// Allocate the next free range of the image for an entry of the given length.
// Only byte aligned entries of whole bytes are supported.
func (d *Domain) allocate(bitLength uint8) (ethercat.Offset, error) {
	offset := ethercat.Offset{Byte: d.bits / 8, Bit: uint(d.bits % 8)}
	if offset.Bit != 0 || bitLength%8 != 0 {
		return ethercat.Offset{}, fmt.Errorf("%w : %v bit(s) at %v", ethercat.ErrBitPackingNotImplemented, bitLength, offset)
	}
	d.bits += int(bitLength)
	d.entries++
	return offset, nil
}

func (d *Domain) check() error {
	if d.released {
		return fmt.Errorf("%w : %v was released", ethercat.ErrUnknownDomain, d.index)
	}
	return d.master.checkActivated()
}

// Process evaluates the last exchange of this domain.
// It must be called after [Master.Receive] and before reading the image.
func (d *Domain) Process() error {
	if err := d.check(); err != nil {
		return err
	}
	state, err := d.master.dev.ProcessDomain(d.index)
	if err != nil {
		return fmt.Errorf("processing domain %v : %w", d.index, err)
	}
	if state.WcState != d.state.WcState {
		log.Debugf("[DOMAIN][%v] working counter %v (%v)", d.index, state.WorkingCounter, state.WcState)
	}
	d.state = state
	return nil
}

// Queue marks the image for sending with the next [Master.Send].
func (d *Domain) Queue() error {
	if err := d.check(); err != nil {
		return err
	}
	return d.master.dev.QueueDomain(d.index)
}

// State returns the domain state computed by the last Process.
func (d *Domain) State() ethercat.DomainState {
	return d.state
}

// Data returns the domain image. The slice is shared with the driver and
// is only valid while the master stays activated : it is nil before
// activation and must not be used after Deactivate or Close.
// Inputs are up to date after Process, outputs written before Queue are
// sent with the next Send.
func (d *Domain) Data() []byte {
	return d.data
}
