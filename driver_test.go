package ethercat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type nullDriver struct{}

func (nullDriver) Open(index MasterIndex, access MasterAccess) (Device, error) {
	return nil, ErrNoSuchMaster
}

func TestDriverRegistry(t *testing.T) {
	RegisterDriver("null", func(device string) (Driver, error) {
		return nullDriver{}, nil
	})
	assert.Contains(t, Drivers(), "null")
	drv, err := NewDriver("null", "")
	assert.Nil(t, err)
	_, err = drv.Open(0, ReadWrite)
	assert.ErrorIs(t, err, ErrNoSuchMaster)

	_, err = NewDriver("ioctl", "/dev/EtherCAT0")
	assert.EqualError(t, err, "unsupported driver : ioctl")
}
