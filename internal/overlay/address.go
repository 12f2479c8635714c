// Package overlay implements the Overlay Controller: probe flooding,
// path establishment, and message forwarding across Link Connections
// (spec.md §4.5-§4.7).
package overlay

import (
	"fmt"

	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/identity"
)

// Address names one endpoint of a virtual path: the probe query it
// answered, the path and channel identifiers, and the friend it runs
// over.
type Address struct {
	Q      ident.ID
	PID    ident.ID
	CID    ident.ID
	Friend *identity.Friend
}

func (a Address) String() string {
	return fmt.Sprintf("overlay address q:%s pid:%s cid:%s", a.Q, a.PID, a.CID)
}
