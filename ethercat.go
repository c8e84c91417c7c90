// Package ethercat is a pure golang configuration and process data exchange
// layer for EtherCAT masters.
//
// The root package holds the value types shared by all the other packages
// (slave identities, PDO and sync manager descriptions, state snapshots) and
// the [Driver] interface implemented by the master backends. The master
// itself lives in pkg/master.
package ethercat
