package overlay

import (
	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/link"
)

// ProbePolicy governs probe relaying and path establishment decisions
// (spec.md §4.5, "smart distribution of probes"). The default policy
// floods every probe to every link but the one it arrived on, and
// never vetoes an establish.
type ProbePolicy interface {
	Probe(q, cid, sid ident.ID, ttl uint8, source *link.Connection)
	Establish(target *link.Connection, targetPID, cid, sid ident.ID, source *link.Connection) bool
}

// defaultPolicy is the unconditional-flood policy described above. It
// is bound to the controller whose connection table it floods across.
type defaultPolicy struct {
	controller *Controller
	log        flog.Logger
}

func (defaultPolicy) Establish(target *link.Connection, targetPID, cid, sid ident.ID, source *link.Connection) bool {
	return true
}

func (p defaultPolicy) Probe(q, cid, sid ident.ID, ttl uint8, source *link.Connection) {
	for _, target := range p.controller.liveConnections() {
		if target == source {
			continue
		}
		targetPID := buildPathID(cid, target.ConnectionID())
		p.log.Infof("relaying probe to %s pid:%s sid:%s ttl:%d", target, targetPID, sid, ttl-1)
		target.SendPROBE(q, targetPID, sid, ttl-1, source)
	}
}
