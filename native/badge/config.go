package badge

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
)

// StreamConfig packs one receiver's stream parameters into a 32-byte
// big-endian value:
//
//	bits 255..224  stream identifier (tie-break field)
//	bits 223..64   funding rate per second (160-bit amount)
//	bits 63..32    declared window start, unix seconds (0 = unset)
//	bits 31..0     declared window duration, seconds (0 = unbounded)
//
// The packed form is what callers submit and what the total order over
// receiver entries is defined on, so the layout is part of the public
// contract.
type StreamConfig [32]byte

const rateBits = 160

// NewStreamConfig packs the given fields. Rates wider than 160 bits are
// rejected with ErrRateOverflow.
func NewStreamConfig(streamID uint32, rate *uint256.Int, windowStart, windowDuration uint32) (StreamConfig, error) {
	var cfg StreamConfig
	if rate != nil {
		if rate.BitLen() > rateBits {
			return StreamConfig{}, ErrRateOverflow
		}
		full := rate.Bytes32()
		copy(cfg[4:24], full[12:])
	}
	binary.BigEndian.PutUint32(cfg[0:4], streamID)
	binary.BigEndian.PutUint32(cfg[24:28], windowStart)
	binary.BigEndian.PutUint32(cfg[28:32], windowDuration)
	return cfg, nil
}

// StreamConfigFromBytes reinterprets a packed 32-byte value.
func StreamConfigFromBytes(b []byte) (StreamConfig, error) {
	if len(b) != len(StreamConfig{}) {
		return StreamConfig{}, fmt.Errorf("badge: stream config must be %d bytes, got %d", len(StreamConfig{}), len(b))
	}
	var cfg StreamConfig
	copy(cfg[:], b)
	return cfg, nil
}

// StreamID returns the tie-break stream identifier.
func (c StreamConfig) StreamID() uint32 {
	return binary.BigEndian.Uint32(c[0:4])
}

// Rate unpacks the 160-bit funding rate.
func (c StreamConfig) Rate() *uint256.Int {
	return new(uint256.Int).SetBytes(c[4:24])
}

// WindowStart returns the declared window start; 0 means unset.
func (c StreamConfig) WindowStart() uint32 {
	return binary.BigEndian.Uint32(c[24:28])
}

// WindowDuration returns the declared window duration; 0 means unbounded.
func (c StreamConfig) WindowDuration() uint32 {
	return binary.BigEndian.Uint32(c[28:32])
}

// Compare orders configs as big-endian integers.
func (c StreamConfig) Compare(other StreamConfig) int {
	return bytes.Compare(c[:], other[:])
}

// Bytes returns the packed form.
func (c StreamConfig) Bytes() []byte {
	out := make([]byte, len(c))
	copy(out, c[:])
	return out
}

// String renders the packed form as 0x-prefixed hex.
func (c StreamConfig) String() string {
	return "0x" + hex.EncodeToString(c[:])
}
