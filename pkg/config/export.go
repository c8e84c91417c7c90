package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	ethercat "github.com/samsamfire/goethercat"
	"gopkg.in/ini.v1"
)

func hexValue(value uint64) string {
	return "0x" + strconv.FormatUint(value, 16)
}

// Add keys to a section, in order
func addKeys(section *ini.Section, keyValues ...string) error {
	for i := 0; i+1 < len(keyValues); i += 2 {
		_, err := section.NewKey(keyValues[i], keyValues[i+1])
		if err != nil {
			return err
		}
	}
	return nil
}

// Export writes the network description in the format read by [Load].
// Startup SDOs are written as raw bytes.
func Export(w io.Writer, network *Network) error {
	file := ini.Empty(loadOptions)
	master, err := file.NewSection("master")
	if err != nil {
		return err
	}
	err = addKeys(master,
		"index", strconv.FormatUint(uint64(network.Master.Index), 10),
		"driver", network.Master.Driver,
		"device", network.Master.Device,
		"cycle", network.Master.Cycle.String(),
		"reserve_attempts", strconv.FormatUint(uint64(network.Master.ReserveAttempts), 10),
		"reserve_delay", network.Master.ReserveDelay.String(),
	)
	if err != nil {
		return err
	}
	for _, slave := range network.Slaves {
		err := exportSlave(file, &slave)
		if err != nil {
			return fmt.Errorf("exporting slave %v : %w", slave.Name, err)
		}
	}
	_, err = file.WriteTo(w)
	return err
}

func exportSlave(file *ini.File, slave *Slave) error {
	section, err := file.NewSection(slavePrefix + slave.Name)
	if err != nil {
		return err
	}
	alias, position := slave.Addr.Pair()
	if slave.Addr.IsAlias() {
		err = addKeys(section, "alias", hexValue(uint64(alias)), "offset", strconv.FormatUint(uint64(position), 10))
	} else {
		err = addKeys(section, "position", strconv.FormatUint(uint64(position), 10))
	}
	if err != nil {
		return err
	}
	syncs := make([]string, 0, len(slave.Syncs))
	for _, sync := range slave.Syncs {
		syncs = append(syncs, strconv.FormatUint(uint64(sync.Index), 10))
	}
	err = addKeys(section,
		"vendor_id", hexValue(uint64(slave.Id.VendorId)),
		"product_code", hexValue(uint64(slave.Id.ProductCode)),
		"domain", slave.Domain,
	)
	if err != nil {
		return err
	}
	if len(syncs) > 0 {
		if err := addKeys(section, "syncs", strings.Join(syncs, ", ")); err != nil {
			return err
		}
	}
	for _, sync := range slave.Syncs {
		if err := exportSync(file, slave.Name, sync); err != nil {
			return err
		}
	}
	if len(slave.Sdos) == 0 {
		return nil
	}
	sdos, err := file.NewSection(slavePrefix + slave.Name + ".sdo")
	if err != nil {
		return err
	}
	for _, sdo := range slave.Sdos {
		key := fmt.Sprintf("0x%04x:%02x", sdo.Index.Index, sdo.Index.Subindex)
		if err := addKeys(sdos, key, "raw "+hex.EncodeToString(sdo.Data)); err != nil {
			return err
		}
	}
	return nil
}

func exportSync(file *ini.File, slave string, sync ethercat.SyncInfo) error {
	section, err := file.NewSection(fmt.Sprintf("%v%v.sm%d", slavePrefix, slave, sync.Index))
	if err != nil {
		return err
	}
	pdos := make([]string, 0, len(sync.Pdos))
	for _, pdo := range sync.Pdos {
		pdos = append(pdos, fmt.Sprintf("0x%04x", uint16(pdo.Index)))
	}
	err = addKeys(section,
		"direction", sync.Direction.String(),
		"watchdog", sync.WatchdogMode.String(),
		"pdos", strings.Join(pdos, ", "),
	)
	if err != nil {
		return err
	}
	for _, pdo := range sync.Pdos {
		// Default mappings have no section
		if len(pdo.Entries) == 0 {
			continue
		}
		section, err := file.NewSection(pdoSectionName(slave, pdo.Index))
		if err != nil {
			return err
		}
		entries := make([]string, 0, len(pdo.Entries))
		for _, entry := range pdo.Entries {
			entries = append(entries, fmt.Sprintf("0x%04x:%02x:%d", entry.Index.Index, entry.Index.Subindex, entry.BitLength))
		}
		if err := addKeys(section, "entries", strings.Join(entries, ", ")); err != nil {
			return err
		}
	}
	return nil
}
