package master

import (
	"testing"

	"github.com/google/uuid"
	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/driver/virtual"
	"github.com/stretchr/testify/assert"
)

var (
	ID_COUPLER = ethercat.SlaveId{VendorId: 0x2, ProductCode: 0x044c2c52}
	ID_IO      = ethercat.SlaveId{VendorId: 0x2, ProductCode: 0x07d83052}
	ID_OTHER   = ethercat.SlaveId{VendorId: 0x2, ProductCode: 0x0bbb3052}
)

func newIoSlave(name string) *virtual.Slave {
	slave := virtual.NewSlave(name, ID_IO)
	slave.Syncs[ethercat.SmOutputs] = ethercat.DirOutput
	slave.Syncs[ethercat.SmInputs] = ethercat.DirInput
	return slave
}

// Ring with a coupler followed by two io slaves, the second one aliased 0x10
func createRingTest() *virtual.Ring {
	ring := virtual.NewRing(virtual.WithMasters(2))
	ring.AddSlave(virtual.NewSlave("EK1100", ID_COUPLER))
	ring.AddSlave(newIoSlave("EL1859-0"))
	aliased := newIoSlave("EL1859-1")
	aliased.Alias = 0x10
	ring.AddSlave(aliased)
	return ring
}

func createMasterTest(t *testing.T) (*Master, *virtual.Ring) {
	ring := createRingTest()
	m, err := Reserve(ring, 0)
	if err != nil {
		t.Fatal(err)
	}
	return m, ring
}

func inputSync(pdo ethercat.PdoIndex, entries ...ethercat.PdoEntryInfo) ethercat.SyncInfo {
	return ethercat.InputSync(ethercat.SmInputs, []ethercat.PdoInfo{{Index: pdo, Entries: entries}})
}

func outputSync(pdo ethercat.PdoIndex, entries ...ethercat.PdoEntryInfo) ethercat.SyncInfo {
	return ethercat.OutputSync(ethercat.SmOutputs, []ethercat.PdoInfo{{Index: pdo, Entries: entries}})
}

func entryInfo(index uint16, subindex uint8, bits uint8) ethercat.PdoEntryInfo {
	return ethercat.PdoEntryInfo{Index: ethercat.PdoEntryIndex{Index: index, Subindex: subindex}, BitLength: bits}
}

// Run cycles in the documented order
func runCycles(t *testing.T, m *Master, count int) {
	for i := 0; i < count; i++ {
		assert.Nil(t, m.Receive())
		for _, domain := range m.Domains() {
			assert.Nil(t, domain.Process())
			assert.Nil(t, domain.Queue())
		}
		assert.Nil(t, m.Send())
	}
}

func TestReserve(t *testing.T) {
	ring := createRingTest()
	t.Run("unknown index", func(t *testing.T) {
		_, err := Reserve(ring, 5)
		assert.ErrorIs(t, err, ethercat.ErrNoSuchMaster)
	})
	t.Run("busy", func(t *testing.T) {
		m, err := Reserve(ring, 0)
		assert.Nil(t, err)
		_, err = Reserve(ring, 0)
		assert.ErrorIs(t, err, ethercat.ErrBusy)
		// Another instance of the same ring is free
		other, err := Reserve(ring, 1)
		assert.Nil(t, err)
		assert.Nil(t, other.Close())
		assert.Nil(t, m.Close())
		m, err = Reserve(ring, 0)
		assert.Nil(t, err)
		assert.Nil(t, m.Close())
	})
	t.Run("read only", func(t *testing.T) {
		m, err := Open(ring, 0, ethercat.ReadOnly)
		assert.Nil(t, err)
		defer m.Close()
		assert.ErrorIs(t, m.Reserve(), ethercat.ErrAccessDenied)
		_, err = m.CreateDomain()
		assert.ErrorIs(t, err, ethercat.ErrNotReserved)
		info, err := m.Info()
		assert.Nil(t, err)
		assert.EqualValues(t, 3, info.SlaveCount)
	})
	t.Run("closed", func(t *testing.T) {
		m, err := Reserve(ring, 0)
		assert.Nil(t, err)
		assert.Nil(t, m.Close())
		assert.Nil(t, m.Close())
		_, err = m.CreateDomain()
		assert.ErrorIs(t, err, ethercat.ErrClosed)
		_, err = m.State()
		assert.ErrorIs(t, err, ethercat.ErrClosed)
	})
}

func TestConfigureSlave(t *testing.T) {
	m, _ := createMasterTest(t)
	defer m.Close()
	t.Run("same address twice", func(t *testing.T) {
		config, err := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
		assert.Nil(t, err)
		again, err := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
		assert.Nil(t, err)
		assert.Same(t, config, again)
		_, err = m.ConfigureSlave(ethercat.ByPos(1), ID_OTHER)
		assert.ErrorIs(t, err, ethercat.ErrConfigConflict)
		assert.Len(t, m.SlaveConfigs(), 1)
	})
	t.Run("position through a zero alias", func(t *testing.T) {
		config, err := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
		assert.Nil(t, err)
		again, err := m.ConfigureSlave(ethercat.ByAlias(0, 1), ID_IO)
		assert.Nil(t, err)
		assert.Same(t, config, again)
		_, err = m.ConfigureSlave(ethercat.ByAlias(0, 1), ID_OTHER)
		assert.ErrorIs(t, err, ethercat.ErrConfigConflict)
		assert.Len(t, m.SlaveConfigs(), 1)
	})
	t.Run("config info", func(t *testing.T) {
		byPos, _ := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
		byAlias, _ := m.ConfigureSlave(ethercat.ByAlias(0x10, 0), ID_IO)
		wrongId, _ := m.ConfigureSlave(ethercat.ByPos(0), ID_IO)
		absent, _ := m.ConfigureSlave(ethercat.ByPos(7), ID_IO)

		info, err := m.ConfigInfo(byPos.Index())
		assert.Nil(t, err)
		if assert.NotNil(t, info.SlavePosition) {
			assert.EqualValues(t, 1, *info.SlavePosition)
		}
		info, err = m.ConfigInfo(byAlias.Index())
		assert.Nil(t, err)
		if assert.NotNil(t, info.SlavePosition) {
			assert.EqualValues(t, 2, *info.SlavePosition)
		}
		assert.EqualValues(t, 0x10, info.Alias)
		info, err = m.ConfigInfo(wrongId.Index())
		assert.Nil(t, err)
		assert.Nil(t, info.SlavePosition)
		assert.False(t, info.Attached())
		info, err = m.ConfigInfo(absent.Index())
		assert.Nil(t, err)
		assert.Nil(t, info.SlavePosition)
	})
	t.Run("unknown config", func(t *testing.T) {
		_, err := m.ConfigInfo(42)
		assert.ErrorIs(t, err, ethercat.ErrUnknownConfig)
	})
}

func TestActivateRefusesUnmatched(t *testing.T) {
	m, _ := createMasterTest(t)
	defer m.Close()
	_, err := m.CreateDomain()
	assert.Nil(t, err)
	_, err = m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
	assert.Nil(t, err)
	_, err = m.ConfigureSlave(ethercat.ByPos(9), ID_IO)
	assert.Nil(t, err)
	err = m.Activate()
	assert.ErrorIs(t, err, ethercat.ErrSlaveNotMatched)
	assert.False(t, m.Activated())
	assert.Equal(t, uuid.Nil, m.Session())
}

func TestTwoDomainsOfInputs(t *testing.T) {
	m, ring := createMasterTest(t)
	defer m.Close()
	input := ethercat.PdoEntryIndex{Index: 0x6000, Subindex: 1}
	domains := make([]ethercat.DomainIndex, 2)
	for i := range domains {
		domain, err := m.CreateDomain()
		assert.Nil(t, err)
		domains[i] = domain
		config, err := m.ConfigureSlave(ethercat.ByPos(uint16(i+1)), ID_IO)
		assert.Nil(t, err)
		assert.Nil(t, config.ConfigPdos([]ethercat.SyncInfo{inputSync(0x1a00, entryInfo(0x6000, 1, 16))}))
		offset, err := config.RegisterPdoEntry(input, domain)
		assert.Nil(t, err)
		assert.Equal(t, ethercat.Offset{}, offset)
	}
	ring.Slave(1).SetInput(input, []byte{0x34, 0x12})
	ring.Slave(2).SetInput(input, []byte{0xcd, 0xab})

	_, err := m.DomainData(domains[0])
	assert.ErrorIs(t, err, ethercat.ErrNotActivated)
	assert.Nil(t, m.Activate())
	assert.NotEqual(t, uuid.Nil, m.Session())
	assert.ErrorIs(t, m.Activate(), ethercat.ErrActivated)
	_, err = m.CreateDomain()
	assert.ErrorIs(t, err, ethercat.ErrActivated)

	// INIT -> PREOP -> SAFEOP, then inputs are exchanged
	runCycles(t, m, 4)
	assert.Nil(t, m.Receive())
	for i, index := range domains {
		domain, err := m.Domain(index)
		assert.Nil(t, err)
		assert.Nil(t, domain.Process())
		assert.Len(t, domain.Data(), 2)
		assert.Equal(t, 2, domain.Size())
		state := domain.State()
		assert.EqualValues(t, 1, state.WorkingCounter)
		assert.Equal(t, ethercat.WcComplete, state.WcState)
		data, err := m.DomainData(index)
		assert.Nil(t, err)
		assert.Empty(t, ring.Slave(ethercat.SlavePosition(i+1)).Output(input))
		assert.Equal(t, domain.Data(), data)
	}
	d0, _ := m.Domain(domains[0])
	d1, _ := m.Domain(domains[1])
	assert.Equal(t, []byte{0x34, 0x12}, d0.Data())
	assert.Equal(t, []byte{0xcd, 0xab}, d1.Data())
	table := m.SlaveConfigs()[0].Offsets()
	value, err := table.ReadUint(d0.Data(), input)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x1234, value)
}

func TestOutputsAndWorkingCounter(t *testing.T) {
	m, ring := createMasterTest(t)
	defer m.Close()
	domainIndex, _ := m.CreateDomain()
	config, _ := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
	err := config.ConfigPdos([]ethercat.SyncInfo{
		outputSync(0x1600, entryInfo(0x7000, 1, 8), entryInfo(0x7000, 2, 8)),
		inputSync(0x1a00, entryInfo(0x6000, 1, 16)),
	})
	assert.Nil(t, err)
	out1 := ethercat.PdoEntryIndex{Index: 0x7000, Subindex: 1}
	out2 := ethercat.PdoEntryIndex{Index: 0x7000, Subindex: 2}
	in := ethercat.PdoEntryIndex{Index: 0x6000, Subindex: 1}
	for _, entry := range []ethercat.PdoEntryIndex{out1, out2, in} {
		_, err := config.RegisterPdoEntry(entry, domainIndex)
		assert.Nil(t, err)
	}
	assert.Nil(t, m.Activate())
	domain, _ := m.Domain(domainIndex)
	assert.Equal(t, 4, domain.Size())
	table := config.Offsets()
	assert.Nil(t, table.Write(domain.Data(), out2, ethercat.FixedData(uint8(0x5a))))

	wcs := []uint32{}
	for i := 0; i < 5; i++ {
		assert.Nil(t, m.Receive())
		assert.Nil(t, domain.Process())
		wcs = append(wcs, domain.State().WorkingCounter)
		assert.Nil(t, domain.Queue())
		assert.Nil(t, m.Send())
	}
	// Nothing in INIT and PREOP, inputs in SAFEOP, everything in OP
	assert.Equal(t, []uint32{0, 0, 0, 1, 3}, wcs)
	assert.Equal(t, ethercat.WcComplete, domain.State().WcState)
	assert.Equal(t, []byte{0x5a}, ring.Slave(1).Output(out2))
	assert.Equal(t, ethercat.AlStateOp, ring.Slave(1).AlState())
	// Unconfigured slaves stay in PREOP
	assert.Equal(t, ethercat.AlStatePreOp, ring.Slave(0).AlState())

	state, err := config.State()
	assert.Nil(t, err)
	assert.True(t, state.Operational)

	t.Run("slave lost", func(t *testing.T) {
		ring.Slave(1).SetResponding(false)
		runCycles(t, m, 1)
		assert.Nil(t, m.Receive())
		assert.Nil(t, domain.Process())
		assert.Equal(t, ethercat.WcZero, domain.State().WcState)
		ring.Slave(1).SetResponding(true)
	})
	t.Run("link lost", func(t *testing.T) {
		ring.SetLink(false)
		runCycles(t, m, 1)
		assert.Nil(t, m.Receive())
		state, err := m.State()
		assert.Nil(t, err)
		assert.False(t, state.LinkUp)
		assert.Nil(t, domain.Process())
		assert.Equal(t, ethercat.WcZero, domain.State().WcState)
		ring.SetLink(true)
	})
}

func TestStateIdempotence(t *testing.T) {
	m, _ := createMasterTest(t)
	defer m.Close()
	domainIndex, _ := m.CreateDomain()
	config, _ := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
	assert.Nil(t, config.ConfigPdos([]ethercat.SyncInfo{inputSync(0x1a00, entryInfo(0x6000, 1, 8))}))
	_, err := config.RegisterPdoEntry(ethercat.PdoEntryIndex{Index: 0x6000, Subindex: 1}, domainIndex)
	assert.Nil(t, err)
	assert.Nil(t, m.Activate())
	runCycles(t, m, 3)
	assert.Nil(t, m.Receive())

	state1, err := m.State()
	assert.Nil(t, err)
	state2, err := m.State()
	assert.Nil(t, err)
	assert.Equal(t, state1, state2)
	assert.True(t, state1.LinkUp)
	assert.EqualValues(t, 3, state1.SlavesResponding)
	assert.True(t, state1.Has(ethercat.AlStatePreOp))

	info1, err := m.Info()
	assert.Nil(t, err)
	info2, err := m.Info()
	assert.Nil(t, err)
	assert.Equal(t, info1, info2)

	domain, _ := m.Domain(domainIndex)
	assert.Nil(t, domain.Process())
	assert.Equal(t, domain.State(), domain.State())
}

func TestDeactivate(t *testing.T) {
	m, _ := createMasterTest(t)
	defer m.Close()
	assert.ErrorIs(t, m.Deactivate(), ethercat.ErrNotActivated)
	domainIndex, _ := m.CreateDomain()
	config, _ := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
	assert.Nil(t, config.ConfigPdos([]ethercat.SyncInfo{inputSync(0x1a00, entryInfo(0x6000, 1, 8))}))
	_, err := config.RegisterPdoEntry(ethercat.PdoEntryIndex{Index: 0x6000, Subindex: 1}, domainIndex)
	assert.Nil(t, err)
	assert.Nil(t, m.Activate())
	domain, _ := m.Domain(domainIndex)
	assert.Len(t, domain.Data(), 1)

	assert.Nil(t, m.Deactivate())
	assert.Nil(t, domain.Data())
	assert.Empty(t, m.Domains())
	assert.ErrorIs(t, domain.Process(), ethercat.ErrUnknownDomain)
	assert.ErrorIs(t, m.Receive(), ethercat.ErrNotActivated)
	_, err = config.RegisterPdoEntry(ethercat.PdoEntryIndex{Index: 0x6000, Subindex: 1}, domainIndex)
	assert.ErrorIs(t, err, ethercat.ErrUnknownConfig)

	// Configuration can start over
	_, err = m.CreateDomain()
	assert.Nil(t, err)
}

func TestIntrospection(t *testing.T) {
	ring := createRingTest()
	ring.Slave(1).Objects = []virtual.Object{
		{Index: 0x1008, ObjectCode: 7, Name: "Device name", Entries: []virtual.ObjectEntry{
			{Subindex: 0, DataType: ethercat.String, BitLength: 48,
				Access:      ethercat.SdoEntryAccess{PreOp: ethercat.AccessReadOnly, SafeOp: ethercat.AccessReadOnly, Op: ethercat.AccessReadOnly},
				Description: "Device name", Value: []byte("EL1859")},
		}},
		{Index: 0x8000, ObjectCode: 9, Name: "Settings", Entries: []virtual.ObjectEntry{
			{Subindex: 0, DataType: ethercat.U8, BitLength: 8, Value: []byte{1}},
			{Subindex: 1, DataType: ethercat.U16, BitLength: 16,
				Access: ethercat.SdoEntryAccess{PreOp: ethercat.AccessReadWrite, SafeOp: ethercat.AccessReadWrite, Op: ethercat.AccessReadWrite},
				Value:  []byte{0, 0}},
		}},
	}
	m, err := Open(ring, 0, ethercat.ReadOnly)
	assert.Nil(t, err)
	defer m.Close()

	info, err := m.SlaveInfo(1)
	assert.Nil(t, err)
	assert.Equal(t, "EL1859-0", info.Name)
	assert.Equal(t, ID_IO, info.Id)
	assert.EqualValues(t, 2, info.SdoCount)
	_, err = m.SlaveInfo(12)
	assert.ErrorIs(t, err, ethercat.ErrNoSuchSlave)

	sdo, err := m.Sdo(1, 1)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x8000, sdo.Index)
	assert.EqualValues(t, 1, sdo.MaxSubindex)
	_, err = m.Sdo(1, 2)
	assert.ErrorIs(t, err, ethercat.ErrNoSuchSdo)

	entry, err := m.SdoEntry(1, ethercat.SdoEntryAtIndex(0x1008, 0))
	assert.Nil(t, err)
	assert.Equal(t, ethercat.String, entry.DataType)
	assert.Equal(t, ethercat.AccessReadOnly, entry.Access.In(ethercat.AlStateOp))
	entry, err = m.SdoEntry(1, ethercat.SdoEntryAtPosition(1, 1))
	assert.Nil(t, err)
	assert.Equal(t, ethercat.U16, entry.DataType)

	buffer := make([]byte, 16)
	n, err := m.SdoUpload(1, ethercat.SdoIndex{Index: 0x1008}, buffer)
	assert.Nil(t, err)
	assert.Equal(t, "EL1859", string(buffer[:n]))

	settings := ethercat.SdoIndex{Index: 0x8000, Subindex: 1}
	assert.ErrorIs(t, m.SdoDownload(1, settings, ethercat.FixedData(uint16(3))), ethercat.ErrAccessDenied)
	rw, err := Open(ring, 1, ethercat.ReadWrite)
	assert.Nil(t, err)
	defer rw.Close()
	// Slaves boot in INIT where the object is not writable
	assert.NotNil(t, rw.SdoDownload(1, settings, ethercat.FixedData(uint16(0x0102))))
}
