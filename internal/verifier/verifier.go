// Package verifier maps a peer certificate, presented at the end of a
// TLS handshake, to a Friend identity or rejects the peer (spec.md
// §4.4).
package verifier

import (
	"crypto/x509"
	"errors"

	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/identity"
)

// ErrNotAllowedPeer is returned by Contacts when OnlyContacts is set
// and the peer's certificate digest is not a known contact.
var ErrNotAllowedPeer = errors.New("verifier: peer is not an allowed contact")

// Verifier authenticates a peer certificate into a Friend.
type Verifier interface {
	VerifyFriend(cert *x509.Certificate) (*identity.Friend, error)
}

// Public always succeeds, yielding a synthetic Friend bound to
// whatever certificate the peer presented. Used for open swarms.
type Public struct{}

// VerifyFriend implements Verifier.
func (Public) VerifyFriend(cert *x509.Certificate) (*identity.Friend, error) {
	return identity.NewFriend(cert), nil
}

// ContactLookup resolves a certificate digest to a known Contact.
type ContactLookup interface {
	Lookup(digest ident.ID) (identity.Contact, bool)
}

// Contacts verifies a peer against a contact index. When OnlyContacts
// is true, an unrecognized peer is rejected with ErrNotAllowedPeer;
// otherwise an unknown peer is accepted and returned as an
// unassociated Friend.
type Contacts struct {
	Contacts     ContactLookup
	OnlyContacts bool
}

// VerifyFriend implements Verifier.
func (c Contacts) VerifyFriend(cert *x509.Certificate) (*identity.Friend, error) {
	digest := identity.Digest(cert)
	if _, ok := c.Contacts.Lookup(digest); ok {
		return identity.NewFriend(cert), nil
	}
	if c.OnlyContacts {
		return nil, ErrNotAllowedPeer
	}
	return identity.NewFriend(cert), nil
}
