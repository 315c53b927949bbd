package state

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"

	"streambadge/native/badge"
	"streambadge/storage"
)

// Read helpers resolve committed state straight from the flat journal. The
// journal is only written after a successful trie commit, so readers never
// observe a speculative transition and need no coordination with writers.

func readValue(db storage.Database, flatKey []byte, out interface{}) (bool, error) {
	data, err := db.Get(flatKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// ReadBadgeRecord returns the committed record under id, if any.
func ReadBadgeRecord(db storage.Database, id badge.BadgeID) (*badge.Record, bool, error) {
	var stored storedRecord
	ok, err := readValue(db, badgeRecordKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	record, err := stored.toRecord()
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// ReadTokenOwner returns the committed soulbound token owner for id.
func ReadTokenOwner(db storage.Database, id [32]byte) ([20]byte, bool, error) {
	var owner [20]byte
	ok, err := readValue(db, badgeOwnerKey(id), &owner)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	return owner, true, nil
}

// ReadBadgeDisplay returns the committed display configuration for account.
func ReadBadgeDisplay(db storage.Database, account badge.AccountID) (*badge.DisplayConfig, bool, error) {
	var stored storedDisplay
	ok, err := readValue(db, badgeDisplayKey(account), &stored)
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
