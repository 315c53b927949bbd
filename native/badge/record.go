package badge

import (
	"github.com/holiman/uint256"
)

// Record is the persistent state of one badge: the receiver it points at, the
// streamed asset, the rate at the last synchronization and the active window.
// A record is created on the first status update for its badge and afterwards
// only overwritten, never deleted; expiry is a past ActiveUntil, not removal.
type Record struct {
	Account     AccountID
	Asset       [20]byte
	Rate        *uint256.Int
	ActiveFrom  uint32
	ActiveUntil uint32
}

// ActiveAt reports whether the badge window covers t.
func (r *Record) ActiveAt(t uint32) bool {
	if r == nil {
		return false
	}
	return windowActive(r.ActiveFrom, r.ActiveUntil, t)
}

// RateValue returns the stored rate, treating nil as zero.
func (r *Record) RateValue() *uint256.Int {
	if r == nil || r.Rate == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(r.Rate)
}

// Equal reports whether two records carry byte-identical state. The store may
// skip a physical write only when this holds.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.Account != other.Account || r.Asset != other.Asset {
		return false
	}
	if r.ActiveFrom != other.ActiveFrom || r.ActiveUntil != other.ActiveUntil {
		return false
	}
	return r.RateValue().Eq(other.RateValue())
}

// Copy returns a deep copy so callers can hold records across state changes.
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Rate = r.RateValue()
	return &clone
}
