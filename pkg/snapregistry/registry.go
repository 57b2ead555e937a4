// Crash-safe record of OS-level snapshot handles, so that a snapshot whose release never
// happened (process killed mid-backup) can be found & released on next start.
package snapregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/function61/snapview/pkg/fssnapshot"
	bolt "go.etcd.io/bbolt"
)

var snapshotsBucket = []byte("snapshots")

type Record struct {
	SessionID string              `json:"session_id"`
	Snapshot  fssnapshot.Snapshot `json:"snapshot"`
	Recorded  time.Time           `json:"recorded"`
}

func (r Record) key() []byte {
	return recordKey(r.SessionID, r.Snapshot.ID)
}

type Registry struct {
	db *bolt.DB
}

// opens BoltDB database. only one process can hold it at a time, so a second concurrent
// run gets a timeout error instead of hanging.
func Open(dbLocation string) (*Registry, error) {
	db, err := bolt.Open(dbLocation, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("snapregistry: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snapregistry: %w", err)
	}

	return &Registry{db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// must be called (and succeed) before the snapshot is handed to anyone
func (r *Registry) Record(sessionID string, snapshot fssnapshot.Snapshot) error {
	rec := Record{
		SessionID: sessionID,
		Snapshot:  snapshot,
		Recorded:  time.Now(),
	}

	recJSON, err := json.Marshal(&rec)
	if err != nil {
		return err
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Put(rec.key(), recJSON)
	})
}

// forgetting an unknown record is not an error
func (r *Registry) Forget(sessionID string, snapshotID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).Delete(recordKey(sessionID, snapshotID))
	})
}

func (r *Registry) List() ([]Record, error) {
	records := []Record{}

	return records, r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotsBucket).ForEach(func(key []byte, value []byte) error {
			sessionID, snapshotID, err := parseRecordKey(key)
			if err != nil {
				return err
			}

			rec := Record{}
			if err := json.Unmarshal(value, &rec); err != nil {
				return fmt.Errorf("corrupted record %s: %w", key, err)
			}

			if rec.SessionID != sessionID || rec.Snapshot.ID != snapshotID {
				return fmt.Errorf("record does not match its key %s", key)
			}

			records = append(records, rec)
			return nil
		})
	})
}

// records of one session, in key order
func (r *Registry) ListSession(sessionID string) ([]Record, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}

	matching := []Record{}
	for _, rec := range all {
		if rec.SessionID == sessionID {
			matching = append(matching, rec)
		}
	}

	return matching, nil
}

// session IDs don't contain '/', snapshot IDs might (LVM device paths), so split on first
func recordKey(sessionID string, snapshotID string) []byte {
	return []byte(sessionID + "/" + snapshotID)
}

func parseRecordKey(key []byte) (string, string, error) {
	sessionID, snapshotID, found := strings.Cut(string(key), "/")
	if !found {
		return "", "", errors.New("malformed key: " + string(key))
	}

	return sessionID, snapshotID, nil
}
