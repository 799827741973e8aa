// Package audit — audit.go
//
// BoltDB-backed durable audit ledger for patch and dream lifecycle
// events: a bucket-per-concern layout, ACID Update/View transactions,
// and retention pruning, scoped to patch/dream history.
//
// Schema (BoltDB bucket layout):
//
//	/patches
//	    key:   fixed-width RFC3339 nanosecond timestamp + "_" + patch_id  [monotonic, sortable]
//	    value: JSON-encoded PatchEvent
//
//	/dreams
//	    key:   fixed-width RFC3339 nanosecond timestamp + "_" + session_id
//	    value: JSON-encoded DreamEvent
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/cogos/audit.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default ledger retention period.
	DefaultRetentionDays = 30

	bucketPatches = "patches"
	bucketDreams  = "dreams"
	bucketMeta    = "meta"
)

// PatchEvent is a single live-patch lifecycle record.
type PatchEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	PatchID     uint64    `json:"patch_id"`
	PatchPoint  uint64    `json:"patch_point_id"`
	FromStatus  string    `json:"from_status"`
	ToStatus    string    `json:"to_status"`
	Reason      string    `json:"reason,omitempty"`
	NodeID      string    `json:"node_id"`
}

// DreamEvent is a single dream-session lifecycle record.
type DreamEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	SessionID        uint64    `json:"session_id"`
	FromState        string    `json:"from_state"`
	ToState          string    `json:"to_state"`
	CompletedCycles  int       `json:"completed_cycles"`
	MutationsTried   int       `json:"mutations_attempted"`
	MutationsOK      int       `json:"mutations_succeeded"`
	NodeID           string    `json:"node_id"`
}

// DB wraps a BoltDB instance with typed accessors for patch/dream audit data.
type DB struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at the given path, creating
// all required buckets and verifying the schema version.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketPatches, bucketDreams, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf("schema version mismatch: database has %q, agent requires %q", string(v), SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

func entryKey(t time.Time, id uint64) []byte {
	// Fixed-width nanoseconds (RFC3339Nano trims trailing zeros) so that
	// byte order of keys is chronological order.
	return []byte(fmt.Sprintf("%s_%020d", t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), id))
}

// AppendPatchEvent writes a new patch lifecycle record.
func (d *DB) AppendPatchEvent(e PatchEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("AppendPatchEvent marshal: %w", err)
	}
	key := entryKey(e.Timestamp, e.PatchID)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPatches)).Put(key, data)
	})
}

// AppendDreamEvent writes a new dream-session lifecycle record.
func (d *DB) AppendDreamEvent(e DreamEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("AppendDreamEvent marshal: %w", err)
	}
	key := entryKey(e.Timestamp, e.SessionID)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDreams)).Put(key, data)
	})
}

// ReadPatchEvents returns all patch events in chronological order.
func (d *DB) ReadPatchEvents() ([]PatchEvent, error) {
	var events []PatchEvent
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPatches)).ForEach(func(_, v []byte) error {
			var e PatchEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			events = append(events, e)
			return nil
		})
	})
	return events, err
}

// ReadDreamEvents returns all dream events in chronological order.
func (d *DB) ReadDreamEvents() ([]DreamEvent, error) {
	var events []DreamEvent
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDreams)).ForEach(func(_, v []byte) error {
			var e DreamEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			events = append(events, e)
			return nil
		})
	})
	return events, err
}

// PruneOldEvents deletes patch and dream events older than the configured
// retention period. Returns the total number of entries deleted.
func (d *DB) PruneOldEvents() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := entryKey(cutoff, 0)

	deleted := 0
	err := d.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{bucketPatches, bucketDreams} {
			b := tx.Bucket([]byte(bucket))
			c := b.Cursor()
			var toDelete [][]byte
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if string(k) >= string(cutoffKey) {
					break
				}
				keyCopy := make([]byte, len(k))
				copy(keyCopy, k)
				toDelete = append(toDelete, keyCopy)
			}
			for _, k := range toDelete {
				if err := b.Delete(k); err != nil {
					return fmt.Errorf("PruneOldEvents delete: %w", err)
				}
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}
