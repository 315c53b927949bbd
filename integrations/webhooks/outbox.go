package webhooks

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketDeliveries = []byte("deliveries")

// Outbox persists queued deliveries so they survive process restarts. Keys
// are assigned from the bucket sequence, so pending entries replay in
// enqueue order.
type Outbox struct {
	db *bolt.DB
}

type storedDelivery struct {
	ID         string          `json:"id"`
	Event      EventType       `json:"event"`
	Body       json.RawMessage `json:"body"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempts   int             `json:"attempts,omitempty"`
}

type pendingDelivery struct {
	key    []byte
	record storedDelivery
}

// NewOutbox opens (and migrates) the delivery store at path.
func NewOutbox(path string) (*Outbox, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDeliveries)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Outbox{db: db}, nil
}

// Close releases the underlying database handle.
func (o *Outbox) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}

// Pending reports how many deliveries are waiting in the outbox.
func (o *Outbox) Pending() (int, error) {
	count := 0
	err := o.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveries).ForEach(func(k, v []byte) error {
			count++
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (o *Outbox) put(entry storedDelivery) ([]byte, error) {
	var key []byte
	err := o.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDeliveries)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key = make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		payload, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(key, payload)
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (o *Outbox) delete(key []byte) error {
	if len(key) == 0 {
		return nil
	}
	return o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveries).Delete(key)
	})
}

func (o *Outbox) recordAttempts(key []byte, attempts int) error {
	if len(key) == 0 {
		return nil
	}
	return o.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDeliveries)
		raw := bucket.Get(key)
		if raw == nil {
			return nil
		}
		var rec storedDelivery
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.Attempts = attempts
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(key, payload)
	})
}

func (o *Outbox) pending() ([]pendingDelivery, error) {
	var entries []pendingDelivery
	err := o.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeliveries).ForEach(func(k, v []byte) error {
			var rec storedDelivery
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			entries = append(entries, pendingDelivery{
				key:    append([]byte(nil), k...),
				record: rec,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
