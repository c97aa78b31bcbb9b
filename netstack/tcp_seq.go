package netstack

// Modular sequence-number comparisons (spec.md §4.6: "standard
// 'acceptable-segment' test using modular sequence comparison (signed
// 32-bit delta)").
func seqLT(a, b uint32) bool  { return int32(a-b) < 0 }
func seqLE(a, b uint32) bool  { return int32(a-b) <= 0 }
func seqGT(a, b uint32) bool  { return int32(a-b) > 0 }
func seqGE(a, b uint32) bool  { return int32(a-b) >= 0 }

// acceptable implements the RFC 793 segment-acceptance test for a segment
// of length segLen starting at seq, against a receiver expecting rcvNxt
// with window rcvWnd.
func acceptable(seq uint32, segLen int, rcvNxt, rcvWnd uint32) bool {
	if segLen == 0 && rcvWnd == 0 {
		return seq == rcvNxt
	}
	if segLen == 0 {
		return seqLE(rcvNxt, seq) && seqLT(seq, rcvNxt+rcvWnd)
	}
	if rcvWnd == 0 {
		return false
	}
	first := seqLE(rcvNxt, seq) && seqLT(seq, rcvNxt+rcvWnd)
	last := seq + uint32(segLen) - 1
	lastOK := seqLE(rcvNxt, last) && seqLT(last, rcvNxt+rcvWnd)
	return first || lastOK
}
