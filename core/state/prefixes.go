package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Flat journal prefixes. The raw keys are iterable, which is what lets the
// trie be rebuilt from the journal at startup; the trie itself is keyed by
// the keccak of the same flat key.
var (
	badgeRecordPrefix  = []byte("badge/record/")
	badgeOwnerPrefix   = []byte("badge/owner/")
	badgeDisplayPrefix = []byte("badge/display/")

	badgeRootKey = []byte("badge/meta/root")
	badgeSeqKey  = []byte("badge/meta/seq")
)

func badgeRecordKey(id [32]byte) []byte {
	buf := make([]byte, len(badgeRecordPrefix)+len(id))
	copy(buf, badgeRecordPrefix)
	copy(buf[len(badgeRecordPrefix):], id[:])
	return buf
}

func badgeOwnerKey(id [32]byte) []byte {
	buf := make([]byte, len(badgeOwnerPrefix)+len(id))
	copy(buf, badgeOwnerPrefix)
	copy(buf[len(badgeOwnerPrefix):], id[:])
	return buf
}

func badgeDisplayKey(account [32]byte) []byte {
	buf := make([]byte, len(badgeDisplayPrefix)+len(account))
	copy(buf, badgeDisplayPrefix)
	copy(buf[len(badgeDisplayPrefix):], account[:])
	return buf
}

func trieKey(flatKey []byte) []byte {
	return ethcrypto.Keccak256(flatKey)
}
