package overlay

import "github.com/jrydberg/friendly/internal/ident"

// StaticFactory is a ProtocolFactory driven by plain fields rather
// than a dedicated type per deployment, grounded on the original's
// TerminateFactory (a server that never terminates a probe) and
// Factory (builds a Connection per accepted path). BuildProtocol may
// be nil if this node never accepts an application path (it can still
// originate probes via a ProbeManager).
type StaticFactory struct {
	// Terminates reports whether this node is a valid termination for
	// query q. A nil func never terminates, matching TerminateFactory.
	Terminates func(q ident.ID) bool
	// Build constructs the tenant protocol for a newly bound path. A
	// nil func causes every accepted/established path to be dropped.
	Build func(addr Address) Protocol
}

// TerminatesProbe implements ProtocolFactory.
func (f StaticFactory) TerminatesProbe(q ident.ID) bool {
	if f.Terminates == nil {
		return false
	}
	return f.Terminates(q)
}

// BuildProtocol implements ProtocolFactory.
func (f StaticFactory) BuildProtocol(addr Address) Protocol {
	if f.Build == nil {
		return nil
	}
	return f.Build(addr)
}
