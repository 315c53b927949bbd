package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"streambadge/storage"
	"streambadge/storage/trie"
)

// ErrJournalCorrupt is returned when the flat journal does not reproduce the
// root it claims to have committed.
var ErrJournalCorrupt = errors.New("state: journal root mismatch")

// LoadState rebuilds the state trie from the flat journal and returns it with
// the commit sequence the journal last recorded. A fresh database yields an
// empty trie at sequence zero.
//
// Every committed batch carries the new root alongside the records, so the
// rebuilt root must match the stored one; a mismatch means the journal was
// tampered with or written by an incompatible version.
func LoadState(db storage.Database) (*trie.Trie, uint64, error) {
	tr, err := trie.NewTrie()
	if err != nil {
		return nil, 0, err
	}

	for _, prefix := range [][]byte{badgeRecordPrefix, badgeOwnerPrefix, badgeDisplayPrefix} {
		var iterErr error
		err := db.Iterate(prefix, func(key, value []byte) bool {
			if iterErr = tr.Update(trieKey(key), value); iterErr != nil {
				return false
			}
			return true
		})
		if err != nil {
			return nil, 0, fmt.Errorf("state: replay journal: %w", err)
		}
		if iterErr != nil {
			return nil, 0, fmt.Errorf("state: replay journal: %w", iterErr)
		}
	}

	root, err := tr.Commit(trie.EmptyRoot, 0)
	if err != nil {
		return nil, 0, err
	}

	storedRoot, err := db.Get(badgeRootKey)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		if root != trie.EmptyRoot {
			return nil, 0, ErrJournalCorrupt
		}
	case err != nil:
		return nil, 0, err
	default:
		if common.BytesToHash(storedRoot) != root {
			return nil, 0, fmt.Errorf("%w: journal %x, rebuilt %x", ErrJournalCorrupt, storedRoot, root)
		}
	}

	seq := uint64(0)
	if raw, err := db.Get(badgeSeqKey); err == nil && len(raw) == 8 {
		seq = binary.BigEndian.Uint64(raw)
	} else if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, 0, err
	}
	return tr, seq, nil
}

// StageMeta appends the commit metadata to a batch so the root and sequence
// land atomically with the records they describe.
func StageMeta(batch *storage.WriteBatch, root common.Hash, seq uint64) {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	batch.Put(badgeRootKey, root.Bytes())
	batch.Put(badgeSeqKey, seqBuf[:])
}
