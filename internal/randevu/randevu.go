// Package randevu implements the optional rendezvous/publish client
// (spec.md §6): it periodically announces this node's certificate and
// endpoint to an announce URL and parses back the same for every
// known contact, grounded on original_source/friendly/randevu.py's
// publish/parse cycle.
package randevu

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/identity"
)

// Entry is one announced peer record.
type Entry struct {
	Name    string
	CertDER []byte
	Address string
}

// DataSource supplies the local identity to announce and the contacts
// to resolve.
type DataSource interface {
	Name() string
	CertDER() []byte
	Address() string
	Contacts() []identity.Contact
}

// Client periodically publishes this node's record to announce and
// resolves every known contact's latest certificate/address from the
// response.
type Client struct {
	announce   string
	dataSource DataSource
	httpClient *http.Client
	log        flog.Logger
}

// New creates a Client posting to announce.
func New(announce string, dataSource DataSource, log flog.Logger) *Client {
	return &Client{
		announce:   announce,
		dataSource: dataSource,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// Publish posts this node's record along with the name of every known
// contact, then parses the response into a name -> Entry map.
func (c *Client) Publish(ctx context.Context) (map[string]Entry, error) {
	var lines []string
	lines = append(lines, fmt.Sprintf("%s %s %s",
		c.dataSource.Name(),
		base64.StdEncoding.EncodeToString(c.dataSource.CertDER()),
		c.dataSource.Address(),
	))
	for _, contact := range c.dataSource.Contacts() {
		lines = append(lines, contact.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.announce,
		bytes.NewBufferString(strings.Join(lines, "\n")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "friendly-client")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("randevu: publish: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("randevu: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("randevu: announce returned %s", resp.Status)
	}
	return parseResponse(body, c.log), nil
}

// parseResponse parses "name base64(cert) host:port" lines, skipping
// any malformed or unparseable entry rather than failing the whole
// response.
func parseResponse(body []byte, log flog.Logger) map[string]Entry {
	result := make(map[string]Entry)
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		name, certB64, address := fields[0], fields[1], fields[2]

		der, err := base64.StdEncoding.DecodeString(certB64)
		if err != nil {
			log.Debugf("randevu: bad certificate for %s: %v", name, err)
			continue
		}
		result[name] = Entry{Name: name, CertDER: der, Address: address}
	}
	return result
}
