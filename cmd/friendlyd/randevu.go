package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/jrydberg/friendly/internal/config"
	"github.com/jrydberg/friendly/internal/connector"
	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/identity"
	"github.com/jrydberg/friendly/internal/randevu"
)

const publishInterval = 5 * time.Minute

// accountDataSource adapts the loaded config and this node's own
// certificate into the shape randevu.Client publishes.
type accountDataSource struct {
	name    string
	certDER []byte
	address string
	cfg     *config.File
}

func (d accountDataSource) Name() string    { return d.name }
func (d accountDataSource) CertDER() []byte { return d.certDER }
func (d accountDataSource) Address() string { return d.address }

func (d accountDataSource) Contacts() []identity.Contact {
	out := make([]identity.Contact, 0, len(d.cfg.Friends))
	for _, c := range d.cfg.Friends {
		digest, err := c.ParseDigest()
		if err != nil {
			continue
		}
		out = append(out, identity.Contact{Digest: digest, Address: c.Address, Name: c.Name})
	}
	return out
}

// publishLoop periodically announces this node and resolves every
// configured friend's latest certificate/address, handing newly
// resolved friends to conn. listenAddr is the address actually bound
// by the inbound listener (honoring a --listen override), not just
// the configured default port, so friends are told where we really
// are.
func publishLoop(announce, listenAddr string, cert tls.Certificate, cfg *config.File, conn *connector.Connector, log flog.Logger) {
	ds := accountDataSource{
		name:    cfg.Account.Name,
		certDER: cert.Certificate[0],
		address: listenAddr,
		cfg:     cfg,
	}
	client := randevu.New(announce, ds, log)

	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()
	for {
		entries, err := client.Publish(context.Background())
		if err != nil {
			log.Errorf("randevu: publish: %v", err)
		} else {
			resolveFriends(entries, cfg, conn, log)
		}
		<-ticker.C
	}
}

func resolveFriends(entries map[string]randevu.Entry, cfg *config.File, conn *connector.Connector, log flog.Logger) {
	for _, c := range cfg.Friends {
		entry, ok := entries[c.Name]
		if !ok || entry.Address == "" {
			continue
		}
		leaf, err := x509.ParseCertificate(entry.CertDER)
		if err != nil {
			log.Debugf("randevu: bad certificate for %s: %v", c.Name, err)
			continue
		}
		friend := identity.NewFriend(leaf)
		friend.Address = entry.Address
		conn.AddFriend(friend)
	}
}
