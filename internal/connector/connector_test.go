package connector

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/identity"
	"github.com/jrydberg/friendly/internal/link"
)

func selfSignedCert(t *testing.T, commonName string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

func newTestFriend(t *testing.T, name string) *identity.Friend {
	return identity.NewFriend(selfSignedCert(t, name))
}

func noopDialer(friend *identity.Friend) (*link.Connection, error) {
	return nil, errors.New("connector test: dial not expected")
}

func TestAddFriendDeduplicatesByDigest(t *testing.T) {
	c := New(noopDialer, flog.Discard())
	f := newTestFriend(t, "alice")

	c.AddFriend(f)
	c.AddFriend(f)

	_, total := c.Connected()
	if total != 1 {
		t.Fatalf("expected one known friend after adding the same friend twice, got %d", total)
	}
}

func TestRemoveFriendDropsFromCandidates(t *testing.T) {
	c := New(noopDialer, flog.Discard())
	f := newTestFriend(t, "alice")
	c.AddFriend(f)
	c.RemoveFriend(f)

	_, total := c.Connected()
	if total != 0 {
		t.Fatalf("expected no known friends after RemoveFriend, got %d", total)
	}
}

func TestConnectedReportsUpAndTotal(t *testing.T) {
	c := New(noopDialer, flog.Discard())
	f1 := newTestFriend(t, "alice")
	f2 := newTestFriend(t, "bob")
	c.AddFriend(f1)
	c.AddFriend(f2)

	up, total := c.Connected()
	if up != 0 || total != 2 {
		t.Fatalf("expected up=0 total=2, got up=%d total=%d", up, total)
	}
}

func TestConnectSynchronouslyClearsPending(t *testing.T) {
	var mu sync.Mutex
	dialed := 0
	dial := func(friend *identity.Friend) (*link.Connection, error) {
		mu.Lock()
		dialed++
		mu.Unlock()
		return nil, errors.New("simulated dial failure")
	}

	c := New(dial, flog.Discard())
	f := newTestFriend(t, "alice")

	c.mu.Lock()
	c.pending[f.Digest()] = true
	c.mu.Unlock()

	c.connect(f)

	mu.Lock()
	gotDialed := dialed
	mu.Unlock()
	if gotDialed != 1 {
		t.Fatalf("expected dial to be attempted once, got %d", gotDialed)
	}

	c.mu.Lock()
	stillPending := c.pending[f.Digest()]
	c.mu.Unlock()
	if stillPending {
		t.Fatal("expected connect to clear the pending flag even on dial failure")
	}
}
