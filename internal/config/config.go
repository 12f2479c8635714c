// Package config persists the identifiers spec.md §6 says survive a
// restart: account identity, listen port, certificate paths, and the
// friend/contact list, as TOML (grounded on ProbeChain-go-probe's
// cmd/gprobe/config.go use of github.com/naoina/toml).
package config

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"

	"github.com/jrydberg/friendly/internal/ident"
)

// tomlSettings mirrors the pack's own convention of keeping TOML keys
// identical to the Go struct field names, rather than lower-casing
// them.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
}

// Account is this node's own persisted identity.
type Account struct {
	Name       string
	ListenPort int
	CertPath   string
	KeyPath    string
}

// Contact is a known, on-disk peer record: the same shape
// identity.Contact is built from at runtime.
type Contact struct {
	Digest  string // hex-encoded ident.ID
	Address string
	Name    string
}

// File is the full on-disk configuration: the account plus every
// known friend/contact.
type File struct {
	Account      Account
	Friends      []Contact
	OnlyContacts bool
}

// Load reads and decodes a TOML configuration file.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg File
	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Save encodes cfg as TOML and writes it to path.
func Save(path string, cfg *File) error {
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return os.WriteFile(path, out, 0o600)
}

// ParseDigest decodes a Contact's hex digest into an ident.ID.
func (c Contact) ParseDigest() (ident.ID, error) {
	b, err := hex.DecodeString(c.Digest)
	if err != nil {
		return ident.ID{}, fmt.Errorf("config: contact %q: bad digest: %w", c.Name, err)
	}
	id, ok := ident.FromBytes(b)
	if !ok {
		return ident.ID{}, fmt.Errorf("config: contact %q: digest must be %d bytes", c.Name, ident.Size)
	}
	return id, nil
}
