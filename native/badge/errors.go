package badge

import "errors"

var (
	// ErrDuplicateAccount marks a submitted receiver list carrying the same
	// account twice. The whole synchronization call aborts.
	ErrDuplicateAccount = errors.New("badge: duplicate receiver account")
	// ErrUnsortedReceivers marks a submitted receiver list that is not
	// strictly ascending. The whole synchronization call aborts.
	ErrUnsortedReceivers = errors.New("badge: receivers not sorted")
	// ErrUnauthorized is returned when a caller without control rights over
	// an account attempts to edit its display configuration.
	ErrUnauthorized = errors.New("badge: caller cannot control account")
	// ErrRateOverflow is returned when a stream rate does not fit the packed
	// 160-bit field.
	ErrRateOverflow = errors.New("badge: stream rate exceeds 160 bits")
	// ErrDisplayFieldTooLong is returned when a display configuration field
	// exceeds its length cap.
	ErrDisplayFieldTooLong = errors.New("badge: display field too long")
	// ErrRecordNotFound is returned by lookups for badges that were never
	// synchronized.
	ErrRecordNotFound = errors.New("badge: record not found")

	ErrNilState    = errors.New("badge engine: state not configured")
	ErrNilRegistry = errors.New("badge engine: token registry not configured")
)
