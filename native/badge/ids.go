package badge

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DefaultDriver is the namespace tag occupying the high 32 bits of every
// identifier minted by this module. Distinct drivers sharing one token store
// cannot collide because the tag is part of both AccountID and BadgeID.
const DefaultDriver uint32 = 0x53424447 // "SBDG"

// AccountID identifies a controllable receiving account: driver namespace in
// the high 32 bits, 64 zero bits, holder address in the low 160 bits.
type AccountID [32]byte

// BadgeID identifies one (holder, account, asset) relationship: driver
// namespace in the high 32 bits, low 224 bits of
// keccak256(holder || account || asset) below it.
type BadgeID [32]byte

// AccountIDFor derives the address-controlled account identifier for addr
// under the given driver namespace.
func AccountIDFor(driver uint32, addr [20]byte) AccountID {
	var id AccountID
	binary.BigEndian.PutUint32(id[0:4], driver)
	copy(id[12:32], addr[:])
	return id
}

// BadgeIDFor derives the stable badge identifier for a funding relationship.
// The hash is collision resistant, so two distinct relationships never share
// a badge record.
func BadgeIDFor(driver uint32, holder [20]byte, account AccountID, asset [20]byte) BadgeID {
	digest := ethcrypto.Keccak256Hash(holder[:], account[:], asset[:])
	var id BadgeID
	binary.BigEndian.PutUint32(id[0:4], driver)
	copy(id[4:32], digest[4:])
	return id
}

// Driver returns the namespace tag in the high 32 bits.
func (a AccountID) Driver() uint32 {
	return binary.BigEndian.Uint32(a[0:4])
}

// Address extracts the holder address from an address-derived account. The
// second return is false when the middle 64 bits are not zero, i.e. the
// account was not derived by AccountIDFor.
func (a AccountID) Address() ([20]byte, bool) {
	var addr [20]byte
	for _, b := range a[4:12] {
		if b != 0 {
			return addr, false
		}
	}
	copy(addr[:], a[12:32])
	return addr, true
}

// Compare orders accounts as big-endian integers.
func (a AccountID) Compare(other AccountID) int {
	return bytes.Compare(a[:], other[:])
}

// Bytes returns the identifier as a fresh slice.
func (a AccountID) Bytes() []byte {
	out := make([]byte, len(a))
	copy(out, a[:])
	return out
}

// String renders the identifier as 0x-prefixed hex.
func (a AccountID) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// AccountIDFromBytes reinterprets a 32-byte identifier.
func AccountIDFromBytes(b []byte) (AccountID, error) {
	if len(b) != len(AccountID{}) {
		return AccountID{}, fmt.Errorf("badge: account id must be %d bytes, got %d", len(AccountID{}), len(b))
	}
	var id AccountID
	copy(id[:], b)
	return id, nil
}

// Driver returns the namespace tag in the high 32 bits.
func (b BadgeID) Driver() uint32 {
	return binary.BigEndian.Uint32(b[0:4])
}

// Bytes returns the identifier as a fresh slice.
func (b BadgeID) Bytes() []byte {
	out := make([]byte, len(b))
	copy(out, b[:])
	return out
}

// String renders the identifier as 0x-prefixed hex.
func (b BadgeID) String() string {
	return "0x" + hex.EncodeToString(b[:])
}

// BadgeIDFromBytes reinterprets a 32-byte identifier.
func BadgeIDFromBytes(raw []byte) (BadgeID, error) {
	if len(raw) != len(BadgeID{}) {
		return BadgeID{}, fmt.Errorf("badge: badge id must be %d bytes, got %d", len(BadgeID{}), len(raw))
	}
	var id BadgeID
	copy(id[:], raw)
	return id, nil
}
