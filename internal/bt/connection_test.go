package bt

import (
	"encoding/binary"
	"testing"

	"github.com/jrydberg/friendly/internal/ident"
)

func TestNewConnectionStartsChokedAndChoking(t *testing.T) {
	c := NewConnection(nil, newTestMetaInfo(4, 4, 1), nil)
	if !c.Choked() {
		t.Fatal("expected a fresh connection to start choked by the remote")
	}
	if !c.Choking() {
		t.Fatal("expected a fresh connection to start choking the remote")
	}
	if c.Interested() || c.Interesting() {
		t.Fatal("expected a fresh connection to have no interest either way")
	}
}

func TestSendChokeUnchokeIdempotent(t *testing.T) {
	c := NewConnection(nil, newTestMetaInfo(4, 4, 1), nil)
	c.SendUnchoke()
	if c.Choking() {
		t.Fatal("expected choking to flip false after SendUnchoke")
	}
	// Calling again with no transport bound must not panic: c.send
	// no-ops when transport is nil.
	c.SendUnchoke()
	if c.Choking() {
		t.Fatal("expected choking to remain false")
	}
	c.SendChoke()
	if !c.Choking() {
		t.Fatal("expected choking to flip true after SendChoke")
	}
}

func TestSendInterestingNotInterestingIdempotent(t *testing.T) {
	c := NewConnection(nil, newTestMetaInfo(4, 4, 1), nil)
	c.SendInteresting()
	if !c.Interesting() {
		t.Fatal("expected interesting to flip true")
	}
	c.SendInteresting()
	if !c.Interesting() {
		t.Fatal("expected interesting to remain true")
	}
	c.SendNotInteresting()
	if c.Interesting() {
		t.Fatal("expected interesting to flip false")
	}
}

func TestRequestTracksPendingUntilDropped(t *testing.T) {
	c := NewConnection(nil, newTestMetaInfo(4, 4, 1), nil)
	c.Request(0, 0, 4)
	if len(c.Pending()) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(c.Pending()))
	}
	if !c.dropPending(0, 0, 4) {
		t.Fatal("expected dropPending to find the matching request")
	}
	if len(c.Pending()) != 0 {
		t.Fatalf("expected pending to be empty after drop, got %d", len(c.Pending()))
	}
	if c.dropPending(0, 0, 4) {
		t.Fatal("expected a second dropPending for the same request to fail")
	}
}

func TestPiecesReflectsHaveSet(t *testing.T) {
	c := NewConnection(nil, newTestMetaInfo(4, 4, 1), nil)
	c.pieces[2] = true
	c.pieces[5] = true
	if !c.Have(2) || !c.Have(5) {
		t.Fatal("expected Have to report pieces added to the set")
	}
	if c.Have(3) {
		t.Fatal("expected Have to report false for a piece never added")
	}
	pieces := c.Pieces()
	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %v", pieces)
	}
}

func TestDecodeChunkHeaderRoundTrip(t *testing.T) {
	m := newTestMetaInfo(4, 4, 1)
	m.Hashes[0] = ident.H([]byte("piece-0"))
	m.indexOf = map[ident.ID]int{m.Hashes[0]: 0}

	c := NewConnection(nil, m, nil)
	c.Request(0, 4, 8)
	req := c.Pending()[0]

	buf := make([]byte, 28)
	copy(buf[:20], m.Hash(0).Bytes())
	binary.BigEndian.PutUint32(buf[20:24], uint32(req.offset))
	binary.BigEndian.PutUint32(buf[24:28], uint32(req.length))

	piece, offset, length, err := decodeChunkHeader(m, buf)
	if err != nil {
		t.Fatalf("decodeChunkHeader: %v", err)
	}
	if piece != 0 || offset != 4 || length != 8 {
		t.Fatalf("unexpected decode: piece=%d offset=%d length=%d", piece, offset, length)
	}
}

func TestDecodeChunkHeaderRejectsBadLength(t *testing.T) {
	m := newTestMetaInfo(4, 4, 1)
	if _, _, _, err := decodeChunkHeader(m, make([]byte, 27)); err == nil {
		t.Fatal("expected error for wrong-length header")
	}
}

func TestDecodeChunkHeaderRejectsUnknownHash(t *testing.T) {
	m := newTestMetaInfo(4, 4, 1)
	buf := make([]byte, 28)
	copy(buf[:20], ident.Random().Bytes())
	if _, _, _, err := decodeChunkHeader(m, buf); err == nil {
		t.Fatal("expected error for a hash absent from the metainfo index")
	}
}
