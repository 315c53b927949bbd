package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"streambadge/native/badge"
	"streambadge/storage"
	"streambadge/storage/trie"
)

// Manager reads and writes badge state through a trie while staging the
// matching flat-journal writes. Every mutation lands in both places: the trie
// provides the commitment (and rollback via the node's speculative copy), the
// staged batch becomes the durable record once the host commits.
type Manager struct {
	trie    *trie.Trie
	pending *storage.WriteBatch
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr, pending: new(storage.WriteBatch)}
}

// Trie exposes the underlying trie.
func (m *Manager) Trie() *trie.Trie { return m.trie }

// Pending returns the staged flat-journal writes mirroring the trie
// mutations made through this manager.
func (m *Manager) Pending() *storage.WriteBatch { return m.pending }

func (m *Manager) put(flatKey []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	if err := m.trie.Update(trieKey(flatKey), encoded); err != nil {
		return err
	}
	m.pending.Put(flatKey, encoded)
	return nil
}

func (m *Manager) get(flatKey []byte, out interface{}) (bool, error) {
	data, err := m.trie.Get(trieKey(flatKey))
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

type storedRecord struct {
	Account     [32]byte
	Asset       [20]byte
	Rate        []byte
	ActiveFrom  uint64
	ActiveUntil uint64
}

func newStoredRecord(record *badge.Record) *storedRecord {
	if record == nil {
		return nil
	}
	return &storedRecord{
		Account:     record.Account,
		Asset:       record.Asset,
		Rate:        record.RateValue().Bytes(),
		ActiveFrom:  uint64(record.ActiveFrom),
		ActiveUntil: uint64(record.ActiveUntil),
	}
}

func (s *storedRecord) toRecord() (*badge.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil badge record")
	}
	account, err := badge.AccountIDFromBytes(s.Account[:])
	if err != nil {
		return nil, err
	}
	return &badge.Record{
		Account:     account,
		Asset:       s.Asset,
		Rate:        new(uint256.Int).SetBytes(s.Rate),
		ActiveFrom:  uint32(s.ActiveFrom),
		ActiveUntil: uint32(s.ActiveUntil),
	}, nil
}

type storedDisplay struct {
	Name        string
	ImageURI    string
	ExternalURL string
	CustomData  string
}

// BadgeRecord returns the record stored under id, if any.
func (m *Manager) BadgeRecord(id badge.BadgeID) (*badge.Record, bool, error) {
	var stored storedRecord
	ok, err := m.get(badgeRecordKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	record, err := stored.toRecord()
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// PutBadgeRecord writes the record under id.
func (m *Manager) PutBadgeRecord(id badge.BadgeID, record *badge.Record) error {
	if record == nil {
		return fmt.Errorf("state: nil badge record")
	}
	return m.put(badgeRecordKey(id), newStoredRecord(record))
}

// BadgeDisplay returns the display configuration stored for account, if any.
func (m *Manager) BadgeDisplay(account badge.AccountID) (*badge.DisplayConfig, bool, error) {
	var stored storedDisplay
	ok, err := m.get(badgeDisplayKey(account), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &badge.DisplayConfig{
		Name:        stored.Name,
		ImageURI:    stored.ImageURI,
		ExternalURL: stored.ExternalURL,
		CustomData:  stored.CustomData,
	}, true, nil
}

// PutBadgeDisplay writes the display configuration for account.
func (m *Manager) PutBadgeDisplay(account badge.AccountID, cfg *badge.DisplayConfig) error {
	if cfg == nil {
		return fmt.Errorf("state: nil display config")
	}
	return m.put(badgeDisplayKey(account), &storedDisplay{
		Name:        cfg.Name,
		ImageURI:    cfg.ImageURI,
		ExternalURL: cfg.ExternalURL,
		CustomData:  cfg.CustomData,
	})
}

// TokenOwner returns the soulbound token owner for id, if minted.
func (m *Manager) TokenOwner(id [32]byte) ([20]byte, bool, error) {
	var owner [20]byte
	ok, err := m.get(badgeOwnerKey(id), &owner)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	return owner, true, nil
}

// SetTokenOwner records the soulbound token owner for id.
func (m *Manager) SetTokenOwner(id [32]byte, owner [20]byte) error {
	return m.put(badgeOwnerKey(id), owner)
}
