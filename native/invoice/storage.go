package invoice

import (
	"fmt"
)

// storage abstracts the subset of state manager functionality required by the
// registry.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var (
	invoicePrefix  = []byte("invoice/record/")
	approvalPrefix = []byte("invoice/approval/")
	nextIDKey      = []byte("invoice/nextID")
	loanEngineKey  = []byte("invoice/loanEngine")
)

func invoiceKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", invoicePrefix, id))
}

func approvalKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", approvalPrefix, id))
}
