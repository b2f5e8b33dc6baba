package keeper

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketActions = []byte("actions")

// Entry records the keeper's last decision about one loan.
type Entry struct {
	InvoiceID uint64    `json:"invoiceId"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Final reports whether the loan needs no further attention.
func (e Entry) Final() bool {
	return e.Outcome == OutcomeSubmitted || e.Outcome == OutcomeResolved
}

// Journal persists keeper actions so restarts do not resubmit handled loans.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens (and migrates) the Bolt-backed journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketActions)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func journalKey(id uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], id)
	return key[:]
}

// Lookup returns the recorded entry for a loan.
func (j *Journal) Lookup(id uint64) (Entry, bool, error) {
	var (
		entry Entry
		found bool
	)
	err := j.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketActions).Get(journalKey(id))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &entry)
	})
	return entry, found, err
}

// Record stores entry, replacing any previous decision for the same loan.
func (j *Journal) Record(entry Entry) error {
	if entry.Action == "" {
		return errors.New("keeper: journal entry requires an action")
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).Put(journalKey(entry.InvoiceID), raw)
	})
}

// Entries returns every recorded entry ordered by invoice id.
func (j *Journal) Entries() ([]Entry, error) {
	var out []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(_, raw []byte) error {
			var entry Entry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}
