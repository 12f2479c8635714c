// Package ident defines the fixed-size opaque identifiers that run
// through the overlay: digests, query ids, path/channel/session ids,
// and the per-link connection id.
package ident

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Size is the fixed width, in bytes, of every identifier in this
// package (spec.md §3: "fixed 20-byte opaque binary unless stated").
const Size = 20

// ID is a fixed-size opaque identifier: a Digest, Q, PID, CID, SID, or
// connection id, depending on context.
type ID [Size]byte

// String renders a short, readable form for logs: "ab12c...ef34a".
func (id ID) String() string {
	s := hex.EncodeToString(id[:])
	if len(s) <= 10 {
		return s
	}
	return s[:5] + "..." + s[len(s)-5:]
}

// Bytes returns the identifier as a slice.
func (id ID) Bytes() []byte { return id[:] }

// IsZero reports whether id is the zero identifier.
func (id ID) IsZero() bool { return id == ID{} }

// FromBytes copies b, which must be exactly Size bytes, into an ID.
func FromBytes(b []byte) (ID, bool) {
	var id ID
	if len(b) != Size {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// Random returns a fresh identifier filled from a cryptographic
// random source, used for connection ids, SIDs, and the BT exchange's
// per-path CID.
func Random() ID {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		panic("ident: system randomness unavailable: " + err.Error())
	}
	return id
}

// H derives a new identifier deterministically from the concatenation
// of its arguments, used throughout the overlay controller for path id
// derivation: H(parent_pid || connection_id) at relays, H(q ||
// connection_id) at the terminator, H(pid || target.connection_id) at
// an intermediate forwarding an ESTABLISH (spec.md §3, §4.6).
//
// blake2b is configured for a 20-byte digest so that H's output is
// directly an ID with no truncation step, unlike a fixed 32-byte hash.
func H(parts ...[]byte) ID {
	h, err := blake2b.New(Size, nil)
	if err != nil {
		panic("ident: blake2b init: " + err.Error())
	}
	for _, p := range parts {
		h.Write(p)
	}
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}
