package badge

import (
	"fmt"

	"lukechampine.com/blake3"
)

// Receiver is one declared funding target inside a holder's submitted list.
// Entries are immutable once part of a list and carry no identity beyond
// their fields.
type Receiver struct {
	Account AccountID
	Config  StreamConfig
}

// Compare applies the total order over receiver entries: account ascending,
// ties broken by the packed config.
func (r Receiver) Compare(other Receiver) int {
	if cmp := r.Account.Compare(other.Account); cmp != 0 {
		return cmp
	}
	return r.Config.Compare(other.Config)
}

// validateReceivers enforces the submission contract on a new receiver list:
// strictly increasing by account. The scan stops at the first violating pair
// and reports its index. Lists arrive pre-sorted by the caller; no sorting is
// ever performed here.
func validateReceivers(list []Receiver) error {
	for i := 1; i < len(list); i++ {
		switch cmp := list[i-1].Account.Compare(list[i].Account); {
		case cmp == 0:
			return fmt.Errorf("%w at index %d", ErrDuplicateAccount, i)
		case cmp > 0:
			return fmt.Errorf("%w at index %d", ErrUnsortedReceivers, i)
		}
	}
	return nil
}

// ValidateReceivers exposes the submission contract check so callers can
// reject malformed lists before invoking a synchronization.
func ValidateReceivers(list []Receiver) error {
	return validateReceivers(list)
}

// ReceiversDigest computes the canonical BLAKE3 digest of a receiver list.
// The digest covers every entry's account and packed config in list order, so
// equal digests mean byte-identical submissions.
func ReceiversDigest(list []Receiver) [32]byte {
	h := blake3.New(32, nil)
	for _, r := range list {
		h.Write(r.Account[:])
		h.Write(r.Config[:])
	}
	var digest [32]byte
	h.Sum(digest[:0])
	return digest
}
