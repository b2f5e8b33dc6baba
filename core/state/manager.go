package state

import (
	"bytes"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"factorchain/storage"
)

// ErrDiscarded is returned when a manager is used after Discard or Commit.
var ErrDiscarded = errors.New("state: manager closed")

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Manager is a transactional key/value view over the backing database. Writes
// are buffered in memory and only reach the database when Commit is called,
// so a failed operation can be abandoned with Discard without side effects.
type Manager struct {
	db      storage.Database
	pending map[string]pendingWrite
	order   []string
	closed  bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string]pendingWrite)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) readRaw(hashed []byte) ([]byte, error) {
	if w, ok := m.pending[string(hashed)]; ok {
		if w.deleted {
			return nil, nil
		}
		return w.value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) writeRaw(hashed []byte, value []byte, deleted bool) {
	k := string(hashed)
	if _, seen := m.pending[k]; !seen {
		m.order = append(m.order, k)
	}
	m.pending[k] = pendingWrite{value: value, deleted: deleted}
}

// KVPut RLP-encodes value and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m.closed {
		return ErrDiscarded
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.writeRaw(kvKey(key), encoded, false)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m.closed {
		return false, ErrDiscarded
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.readRaw(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if m.closed {
		return ErrDiscarded
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.writeRaw(kvKey(key), nil, true)
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList decodes the byte slice list stored under key. Missing keys yield
// an empty list.
func (m *Manager) KVGetList(key []byte) ([][]byte, error) {
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Dirty reports the number of keys written since the manager was created.
func (m *Manager) Dirty() int {
	return len(m.pending)
}

// Commit flushes buffered writes to the database in a single batch. The
// manager cannot be used afterwards.
func (m *Manager) Commit() error {
	if m.closed {
		return ErrDiscarded
	}
	m.closed = true
	if len(m.pending) == 0 {
		return nil
	}
	batch := m.db.NewBatch()
	for _, k := range m.order {
		w := m.pending[k]
		if w.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), w.value)
	}
	m.pending = nil
	m.order = nil
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops every buffered write.
func (m *Manager) Discard() {
	m.closed = true
	m.pending = nil
	m.order = nil
}
