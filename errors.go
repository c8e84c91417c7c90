package ethercat

import (
	"errors"
	"fmt"
)

var (
	ErrNoSuchMaster             = errors.New("master index does not exist")
	ErrBusy                     = errors.New("master is already reserved")
	ErrAccessDenied             = errors.New("operation needs read-write access")
	ErrNotReserved              = errors.New("master is not reserved")
	ErrActivated                = errors.New("master is already activated")
	ErrNotActivated             = errors.New("master is not activated")
	ErrClosed                   = errors.New("master handle is closed")
	ErrUnknownDomain            = errors.New("domain does not belong to this master")
	ErrUnknownConfig            = errors.New("slave configuration does not exist")
	ErrConfigConflict           = errors.New("slave address is already configured with another identity")
	ErrInvalidSync              = errors.New("invalid sync manager configuration")
	ErrConfigLocked             = errors.New("pdo configuration is locked, entries are already registered")
	ErrEntryNotDeclared         = errors.New("pdo entry was not declared for this slave")
	ErrEntryRegistered          = errors.New("pdo entry is already registered in another domain")
	ErrBitPackingNotImplemented = errors.New("sub-byte pdo entry packing is not implemented")
	ErrSlaveNotMatched          = errors.New("slave configuration could not be matched to a slave on the ring")
	ErrNoSuchSlave              = errors.New("no slave at this ring position")
	ErrNoSuchSdo                = errors.New("sdo does not exist")
	ErrLayout                   = errors.New("process memory does not match the domain layout")
)

// CodeError is returned when a raw code read from the driver does not
// belong to the set of values of the corresponding enumeration.
type CodeError struct {
	Kind  string
	Value uint32
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("invalid %v code %#x", e.Kind, e.Value)
}

// IsCodeError reports whether err is (or wraps) a [CodeError].
func IsCodeError(err error) bool {
	var codeErr *CodeError
	return errors.As(err, &codeErr)
}
