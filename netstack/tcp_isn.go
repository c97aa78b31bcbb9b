package netstack

import "github.com/rs/xid"

// generateISN resolves spec.md §9's open question on ISN selection: this
// stack derives the initial sequence number from an xid.ID, which packs a
// timestamp, machine id and process id into a globally-ordered 12-byte
// value (github.com/rs/xid). Only the first four bytes are used, and they
// encode the Unix time in seconds, so the ISN never decreases as the
// wall clock advances, connections opened within the same second get the
// same ISN, and the value is predictable from the time. There is no
// per-tuple hash of the kind RFC 6528 adds.
func generateISN() uint32 {
	id := xid.New()
	b := id.Bytes()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
