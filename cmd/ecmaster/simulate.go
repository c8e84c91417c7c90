package main

import (
	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/driver/virtual"
)

// Build a virtual ring that matches the description. Slaves are placed in
// description order, an aliased slave with offset 0 carries its alias.
func simulate(desc *config.Network) *virtual.Ring {
	ring := virtual.NewRing()
	rw := ethercat.SdoEntryAccess{
		PreOp:  ethercat.AccessReadWrite,
		SafeOp: ethercat.AccessReadWrite,
		Op:     ethercat.AccessReadWrite,
	}
	for _, described := range desc.Slaves {
		slave := virtual.NewSlave(described.Name, described.Id)
		alias, position := described.Addr.Pair()
		if described.Addr.IsAlias() && position == 0 {
			slave.Alias = alias
		}
		for _, sync := range described.Syncs {
			slave.Syncs[sync.Index] = sync.Direction
		}
		for _, sdo := range described.Sdos {
			entry := virtual.ObjectEntry{
				Subindex:  sdo.Index.Subindex,
				DataType:  ethercat.OctetString,
				BitLength: uint16(len(sdo.Data) * 8),
				Access:    rw,
				Value:     make([]byte, len(sdo.Data)),
			}
			found := false
			for i := range slave.Objects {
				if slave.Objects[i].Index == sdo.Index.Index {
					slave.Objects[i].Entries = append(slave.Objects[i].Entries, entry)
					found = true
				}
			}
			if !found {
				slave.Objects = append(slave.Objects, virtual.Object{
					Index:      sdo.Index.Index,
					ObjectCode: 9,
					Entries:    []virtual.ObjectEntry{entry},
				})
			}
		}
		ring.AddSlave(slave)
	}
	return ring
}
