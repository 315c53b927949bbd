package badge

import "math"

// maxWindowTime is the top of the 32-bit unix-second domain the window
// arithmetic operates in.
const maxWindowTime = math.MaxUint32

// streamWindow converts a receiver's declared configuration plus context
// bounds into the concrete [start, end) activity interval.
//
// start is the declared window start, or updateTime when the declared start
// is the 0 "unset" sentinel. The raw end start+duration is computed in
// uint64 so the sum of two 32-bit values can never wrap; a 0 "unbounded"
// duration or a raw end beyond maxEnd clamps end to maxEnd. start is then
// raised to startCap, end lowered to endCap, and a crossed interval
// collapses to the empty window end == start.
//
// Pure and total: every input combination yields a well-formed interval.
func streamWindow(cfg StreamConfig, updateTime, maxEnd, startCap, endCap uint32) (uint32, uint32) {
	start := cfg.WindowStart()
	if start == 0 {
		start = updateTime
	}
	end := maxEnd
	if duration := cfg.WindowDuration(); duration != 0 {
		if raw := uint64(start) + uint64(duration); raw <= uint64(maxEnd) {
			end = uint32(raw)
		}
	}
	if start < startCap {
		start = startCap
	}
	if end > endCap {
		end = endCap
	}
	if end < start {
		end = start
	}
	return start, end
}

// windowActive reports whether t falls inside [start, end).
func windowActive(start, end, t uint32) bool {
	return start <= t && t < end
}
