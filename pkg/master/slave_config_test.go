package master

import (
	"testing"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/stretchr/testify/assert"
)

func TestConfigPdosValidation(t *testing.T) {
	m, _ := createMasterTest(t)
	defer m.Close()
	config, err := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
	assert.Nil(t, err)

	t.Run("duplicate sync manager", func(t *testing.T) {
		err := config.ConfigPdos([]ethercat.SyncInfo{
			inputSync(0x1a00, entryInfo(0x6000, 1, 8)),
			inputSync(0x1a01, entryInfo(0x6010, 1, 8)),
		})
		assert.ErrorIs(t, err, ethercat.ErrInvalidSync)
	})
	t.Run("invalid direction", func(t *testing.T) {
		sync := inputSync(0x1a00, entryInfo(0x6000, 1, 8))
		sync.Direction = ethercat.DirInvalid
		assert.ErrorIs(t, config.ConfigPdos([]ethercat.SyncInfo{sync}), ethercat.ErrInvalidSync)
	})
	t.Run("empty entry", func(t *testing.T) {
		err := config.ConfigPdos([]ethercat.SyncInfo{inputSync(0x1a00, entryInfo(0x6000, 1, 0))})
		assert.ErrorIs(t, err, ethercat.ErrInvalidSync)
	})
	t.Run("entry declared twice", func(t *testing.T) {
		err := config.ConfigPdos([]ethercat.SyncInfo{
			outputSync(0x1600, entryInfo(0x7000, 1, 8)),
			inputSync(0x1a00, entryInfo(0x7000, 1, 8)),
		})
		assert.ErrorIs(t, err, ethercat.ErrInvalidSync)
	})
	t.Run("direction does not match the slave", func(t *testing.T) {
		sync := ethercat.OutputSync(ethercat.SmInputs, []ethercat.PdoInfo{{Index: 0x1600, Entries: []ethercat.PdoEntryInfo{entryInfo(0x7000, 1, 8)}}})
		assert.ErrorIs(t, config.ConfigPdos([]ethercat.SyncInfo{sync}), ethercat.ErrInvalidSync)
		assert.Empty(t, config.Syncs())
	})
	t.Run("padding may repeat", func(t *testing.T) {
		err := config.ConfigPdos([]ethercat.SyncInfo{
			outputSync(0x1600, entryInfo(0x7000, 1, 8), entryInfo(0, 0, 8), entryInfo(0, 0, 8)),
		})
		assert.Nil(t, err)
		_, err = config.RegisterPdoEntry(ethercat.PdoEntryIndex{}, 0)
		assert.ErrorIs(t, err, ethercat.ErrUnknownDomain)
	})
	t.Run("replace sync manager", func(t *testing.T) {
		assert.Nil(t, config.ConfigPdos([]ethercat.SyncInfo{inputSync(0x1a00, entryInfo(0x6000, 1, 8))}))
		assert.Nil(t, config.ConfigPdos([]ethercat.SyncInfo{inputSync(0x1a01, entryInfo(0x6010, 1, 16))}))
		syncs := config.Syncs()
		assert.Len(t, syncs, 2)
		assert.Equal(t, ethercat.SmOutputs, syncs[0].Index)
		assert.EqualValues(t, 0x1a01, syncs[1].Pdos[0].Index)
	})
}

func TestRegisterPdoEntry(t *testing.T) {
	m, _ := createMasterTest(t)
	defer m.Close()
	domain1, _ := m.CreateDomain()
	domain2, _ := m.CreateDomain()
	config, _ := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
	err := config.ConfigPdos([]ethercat.SyncInfo{
		outputSync(0x1600, entryInfo(0x7000, 1, 8), entryInfo(0, 0, 8), entryInfo(0x7000, 2, 16)),
		inputSync(0x1a00, entryInfo(0x6000, 1, 32)),
	})
	assert.Nil(t, err)
	out1 := ethercat.PdoEntryIndex{Index: 0x7000, Subindex: 1}
	out2 := ethercat.PdoEntryIndex{Index: 0x7000, Subindex: 2}
	in := ethercat.PdoEntryIndex{Index: 0x6000, Subindex: 1}

	t.Run("not declared", func(t *testing.T) {
		_, err := config.RegisterPdoEntry(ethercat.PdoEntryIndex{Index: 0x7000, Subindex: 9}, domain1)
		assert.ErrorIs(t, err, ethercat.ErrEntryNotDeclared)
		_, err = config.RegisterPdoEntry(ethercat.PdoEntryIndex{}, domain1)
		assert.ErrorIs(t, err, ethercat.ErrEntryNotDeclared)
	})
	t.Run("unknown domain", func(t *testing.T) {
		_, err := config.RegisterPdoEntry(out1, 12)
		assert.ErrorIs(t, err, ethercat.ErrUnknownDomain)
	})
	t.Run("offsets in registration order", func(t *testing.T) {
		offset, err := config.RegisterPdoEntry(out2, domain1)
		assert.Nil(t, err)
		assert.Equal(t, ethercat.Offset{Byte: 0}, offset)
		offset, err = config.RegisterPdoEntry(out1, domain1)
		assert.Nil(t, err)
		assert.Equal(t, ethercat.Offset{Byte: 2}, offset)
		offset, err = config.RegisterPdoEntry(in, domain2)
		assert.Nil(t, err)
		assert.Equal(t, ethercat.Offset{Byte: 0}, offset)
	})
	t.Run("registered twice", func(t *testing.T) {
		offset, err := config.RegisterPdoEntry(out1, domain1)
		assert.Nil(t, err)
		assert.Equal(t, ethercat.Offset{Byte: 2}, offset)
		_, err = config.RegisterPdoEntry(out1, domain2)
		assert.ErrorIs(t, err, ethercat.ErrEntryRegistered)
		d1, _ := m.Domain(domain1)
		assert.Equal(t, 2, d1.Entries())
		assert.Equal(t, 3, d1.Size())
	})
	t.Run("locked declaration", func(t *testing.T) {
		err := config.ConfigPdos([]ethercat.SyncInfo{inputSync(0x1a01, entryInfo(0x6010, 1, 8))})
		assert.ErrorIs(t, err, ethercat.ErrConfigLocked)
	})
	t.Run("offset table", func(t *testing.T) {
		table := config.Offsets()
		assert.Equal(t, []ethercat.PdoEntryIndex{in, out2, out1}, table.Entries())
		assert.Equal(t, EntryOffset{BitLength: 32, Offset: ethercat.Offset{}}, table[in])
	})
	t.Run("after activation", func(t *testing.T) {
		assert.Nil(t, m.Activate())
		_, err := config.RegisterPdoEntry(in, domain2)
		assert.ErrorIs(t, err, ethercat.ErrActivated)
		_, err = m.ConfigureSlave(ethercat.ByPos(2), ID_IO)
		assert.ErrorIs(t, err, ethercat.ErrActivated)
	})
}

// One output pdo with two single bit entries and one input pdo with a byte
func TestBitPacking(t *testing.T) {
	m, _ := createMasterTest(t)
	defer m.Close()
	domainIndex, _ := m.CreateDomain()
	config, _ := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
	err := config.ConfigPdos([]ethercat.SyncInfo{
		outputSync(0x1600, entryInfo(0x7000, 1, 1), entryInfo(0x7010, 1, 1)),
		inputSync(0x1a00, entryInfo(0x6000, 1, 8)),
	})
	assert.Nil(t, err)

	_, err = config.RegisterPdoEntry(ethercat.PdoEntryIndex{Index: 0x7000, Subindex: 1}, domainIndex)
	assert.ErrorIs(t, err, ethercat.ErrBitPackingNotImplemented)
	_, err = config.RegisterPdoEntry(ethercat.PdoEntryIndex{Index: 0x7010, Subindex: 1}, domainIndex)
	assert.ErrorIs(t, err, ethercat.ErrBitPackingNotImplemented)
	domain, _ := m.Domain(domainIndex)
	assert.Equal(t, 0, domain.Size())
	assert.Equal(t, 0, domain.Entries())

	// Nothing was allocated by the failed registrations
	offset, err := config.RegisterPdoEntry(ethercat.PdoEntryIndex{Index: 0x6000, Subindex: 1}, domainIndex)
	assert.Nil(t, err)
	assert.Equal(t, ethercat.Offset{}, offset)
	assert.Equal(t, 1, domain.Size())
	assert.Len(t, config.Offsets(), 1)
}

func TestDomainSizes(t *testing.T) {
	lengths := [][]uint8{
		{8},
		{8, 16, 32},
		{64, 8, 8, 24},
		{16, 16, 16, 16, 16},
	}
	for _, bitLengths := range lengths {
		m, _ := createMasterTest(t)
		domainIndex, _ := m.CreateDomain()
		config, _ := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
		entries := []ethercat.PdoEntryInfo{}
		total := 0
		for i, bits := range bitLengths {
			entries = append(entries, entryInfo(0x6000, uint8(i+1), bits))
			total += int(bits)
		}
		assert.Nil(t, config.ConfigPdos([]ethercat.SyncInfo{inputSync(0x1a00, entries...)}))
		previous := -1
		for _, entry := range entries {
			offset, err := config.RegisterPdoEntry(entry.Index, domainIndex)
			assert.Nil(t, err)
			assert.Zero(t, offset.Bit)
			assert.Greater(t, offset.Byte, previous)
			previous = offset.Byte
		}
		domain, _ := m.Domain(domainIndex)
		assert.Equal(t, (total+7)/8, domain.Size())
		assert.Nil(t, m.Activate())
		assert.Len(t, domain.Data(), (total+7)/8)
		assert.Nil(t, m.Close())
	}
}

func TestOffsetsDeterministic(t *testing.T) {
	register := func() OffsetTable {
		m, _ := createMasterTest(t)
		defer m.Close()
		domainIndex, _ := m.CreateDomain()
		config, _ := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
		err := config.ConfigPdos([]ethercat.SyncInfo{
			outputSync(0x1600, entryInfo(0x7000, 1, 8), entryInfo(0x7000, 2, 16)),
			inputSync(0x1a00, entryInfo(0x6000, 1, 32), entryInfo(0x6000, 2, 8)),
		})
		assert.Nil(t, err)
		for _, entry := range []ethercat.PdoEntryIndex{{Index: 0x6000, Subindex: 2}, {Index: 0x7000, Subindex: 1}, {Index: 0x6000, Subindex: 1}, {Index: 0x7000, Subindex: 2}} {
			_, err := config.RegisterPdoEntry(entry, domainIndex)
			assert.Nil(t, err)
		}
		return config.Offsets()
	}
	first := register()
	assert.Equal(t, first, register())
	assert.Equal(t, ethercat.Offset{Byte: 2}, first[ethercat.PdoEntryIndex{Index: 0x6000, Subindex: 1}].Offset)
}

func TestConfigSdo(t *testing.T) {
	m, _ := createMasterTest(t)
	defer m.Close()
	config, _ := m.ConfigureSlave(ethercat.ByPos(1), ID_IO)
	assert.Nil(t, config.ConfigSdo(ethercat.SdoIndex{Index: 0x8000, Subindex: 1}, ethercat.FixedData(uint16(10))))
	assert.Nil(t, config.ConfigSdo(ethercat.SdoIndex{Index: 0x8000, Subindex: 2}, ethercat.RawData{1, 2}))
	info, err := m.ConfigInfo(config.Index())
	assert.Nil(t, err)
	assert.EqualValues(t, 2, info.SdoCount)
}
