package main

import (
	"github.com/jrydberg/friendly/internal/config"
	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/identity"
)

// contactIndex implements verifier.ContactLookup over the persisted
// friend list, built once at startup.
type contactIndex struct {
	byDigest map[ident.ID]identity.Contact
}

func newContactIndex(friends []config.Contact, log flog.Logger) *contactIndex {
	idx := &contactIndex{byDigest: make(map[ident.ID]identity.Contact, len(friends))}
	for _, c := range friends {
		digest, err := c.ParseDigest()
		if err != nil {
			log.Errorf("config: skipping friend %q: %v", c.Name, err)
			continue
		}
		idx.byDigest[digest] = identity.Contact{Digest: digest, Address: c.Address, Name: c.Name}
	}
	return idx
}

// Lookup implements verifier.ContactLookup.
func (idx *contactIndex) Lookup(digest ident.ID) (identity.Contact, bool) {
	c, ok := idx.byDigest[digest]
	return c, ok
}
