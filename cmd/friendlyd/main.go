// Command friendlyd runs a single account's friend-to-friend overlay
// node: it maintains links to configured friends, participates in
// probe/establish/reset path discovery, and optionally shares one item
// over the piece-exchange tenant protocol.
package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jrydberg/friendly/internal/config"
	"github.com/jrydberg/friendly/internal/connector"
	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/identity"
	"github.com/jrydberg/friendly/internal/link"
	"github.com/jrydberg/friendly/internal/overlay"
	"github.com/jrydberg/friendly/internal/ratelimit"
	"github.com/jrydberg/friendly/internal/verifier"
)

const version = "0.1.0"

func main() {
	opts := NewOptions()
	if err := Parse(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if opts.ShowVersion {
		fmt.Println("friendlyd", version)
		return
	}

	log := flog.New(logLevel(opts.LogLevel), "friendlyd: ")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Errorf("load config %s: %v", opts.ConfigPath, err)
		os.Exit(1)
	}

	cert, err := ensureCertificate(cfg.Account.CertPath, cfg.Account.KeyPath)
	if err != nil {
		log.Errorf("certificate: %v", err)
		os.Exit(1)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		log.Errorf("parse own certificate: %v", err)
		os.Exit(1)
	}
	self := identity.NewFriend(leaf)
	log.Infof("starting as %s", self)

	v := verifier.Contacts{
		Contacts:     newContactIndex(cfg.Friends, log),
		OnlyContacts: cfg.OnlyContacts,
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS13,
	}

	factory := buildItemFactory(opts, log)

	// ctrl is captured by dial before it exists: the Connector and the
	// Controller each need a reference to the other, so the Controller
	// is constructed after the Connector but dial only runs once both
	// are live.
	var ctrl *overlay.Controller
	dial := func(friend *identity.Friend) (*link.Connection, error) {
		if friend.Address == "" {
			return nil, fmt.Errorf("no known address for %s", friend)
		}
		raw, err := net.DialTimeout("tcp", friend.Address, 30*time.Second)
		if err != nil {
			return nil, err
		}
		lc := link.New(tls.Client(raw, tlsConfig), ctrl, v, log)
		return lc, lc.Start()
	}

	conn := connector.New(dial, log)
	ctrl = overlay.New(factory, conn, log)
	defer ctrl.Close()

	for _, c := range cfg.Friends {
		digest, err := c.ParseDigest()
		if err != nil {
			continue // already logged by newContactIndex
		}
		conn.AddFriend(identity.FriendFromDigest(digest, c.Address))
	}

	listenAddr := opts.Listen
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%d", cfg.Account.ListenPort)
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Errorf("listen %s: %v", listenAddr, err)
		os.Exit(1)
	}
	log.Infof("listening on %s", listenAddr)

	limiter := ratelimit.New()
	defer limiter.Close()
	go serve(ln, limiter, ctrl, tlsConfig, v, log)

	if opts.Announce != "" {
		go publishLoop(opts.Announce, listenAddr, cert, cfg, conn, log)
	}

	select {}
}

func logLevel(s string) int {
	switch s {
	case "debug":
		return flog.LevelDebug
	case "info":
		return flog.LevelInfo
	case "error":
		return flog.LevelError
	default:
		return flog.LevelSilent
	}
}

// serve accepts inbound links, throttling by source IP before paying
// for a TLS handshake (spec.md §4.3/§4.4).
func serve(ln net.Listener, limiter *ratelimit.Limiter, ctrl *overlay.Controller, tlsConfig *tls.Config, v verifier.Verifier, log flog.Logger) {
	for {
		raw, err := ln.Accept()
		if err != nil {
			log.Errorf("accept: %v", err)
			return
		}

		host, _, _ := net.SplitHostPort(raw.RemoteAddr().String())
		if ip := net.ParseIP(host); ip != nil && !limiter.Allow(ip) {
			raw.Close()
			continue
		}

		lc := link.New(tls.Server(raw, tlsConfig), ctrl, v, log)
		go func() {
			if err := lc.Start(); err != nil {
				log.Debugf("inbound link from %s: %v", raw.RemoteAddr(), err)
			}
		}()
	}
}
