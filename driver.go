package ethercat

import (
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// A Driver gives access to the master instances of an EtherCAT master
// implementation (kernel module, simulation...).
type Driver interface {
	// Open a master instance. Several handles may be open on the same
	// instance, only one of them can reserve it.
	Open(index MasterIndex, access MasterAccess) (Device, error)
}

// A Device is an open handle on one master instance.
// It is the command interface used by the master package, every call maps
// to one driver command. Implementations return the sentinel errors of this
// package where one applies.
type Device interface {
	Reserve() error
	Close() error

	MasterInfo() (MasterInfo, error)
	MasterState() (MasterState, error)

	CreateDomain() (DomainIndex, error)
	CreateSlaveConfig(alias uint16, position uint16, id SlaveId) (SlaveConfigIndex, error)
	ConfigSync(config SlaveConfigIndex, sync SyncInfo) error
	ConfigSdo(config SlaveConfigIndex, index SdoIndex, data []byte) error
	RegisterPdoEntry(config SlaveConfigIndex, domain DomainIndex, entry PdoEntryInfo, dir SyncDirection, offset Offset) error
	ConfigInfo(config SlaveConfigIndex) (ConfigInfo, error)
	ConfigState(config SlaveConfigIndex) (SlaveConfigState, error)

	// Activate maps the domains at the given placements and returns the
	// process memory shared with the driver until Deactivate or Close.
	Activate(placements []DomainPlacement) ([]byte, error)
	Deactivate() error

	Receive() error
	Send() error
	ProcessDomain(domain DomainIndex) (DomainState, error)
	QueueDomain(domain DomainIndex) error

	SlaveInfo(position SlavePosition) (SlaveInfo, error)
	Sdo(position SlavePosition, sdoPosition uint16) (SdoInfo, error)
	SdoEntry(position SlavePosition, addr SdoEntryAddr) (SdoEntry, error)
	SdoDownload(position SlavePosition, index SdoIndex, data []byte) error
	SdoUpload(position SlavePosition, index SdoIndex, buffer []byte) (int, error)
}

type NewDriverFunc func(device string) (Driver, error)

var (
	registryMu     sync.Mutex
	driverRegistry = make(map[string]NewDriverFunc)
)

// Register a new driver type
// This should be called inside an init() function of the driver package
func RegisterDriver(name string, newDriver NewDriverFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	driverRegistry[name] = newDriver
}

// Drivers returns the names of the registered drivers.
func Drivers() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := maps.Keys(driverRegistry)
	slices.Sort(names)
	return names
}

// Create a new driver of the given type for a device (e.g. /dev/EtherCAT0
// or the name of a simulated ring)
func NewDriver(name string, device string) (Driver, error) {
	registryMu.Lock()
	createDriver, ok := driverRegistry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unsupported driver : %v", name)
	}
	return createDriver(device)
}
