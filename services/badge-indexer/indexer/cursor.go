package indexer

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCursors = []byte("cursors")
	keyFeedCursor = []byte("feed")
)

// CursorStore persists the feed cursor so restarts resume where the previous
// run stopped instead of replaying the full retained history.
type CursorStore struct {
	db *bolt.DB
}

// NewCursorStore opens (and migrates) the cursor store at path.
func NewCursorStore(path string) (*CursorStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCursors)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CursorStore{db: db}, nil
}

// Close releases the underlying database handle.
func (c *CursorStore) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Load returns the last saved cursor, or "" when none has been stored yet.
func (c *CursorStore) Load() (string, error) {
	var cursor string
	err := c.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketCursors).Get(keyFeedCursor); raw != nil {
			cursor = string(raw)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return cursor, nil
}

// Save stores the cursor of the most recently applied update.
func (c *CursorStore) Save(cursor string) error {
	if cursor == "" {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).Put(keyFeedCursor, []byte(cursor))
	})
}
