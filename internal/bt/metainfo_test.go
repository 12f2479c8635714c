package bt

import (
	"testing"

	"github.com/jrydberg/friendly/internal/ident"
)

func TestNewMetaInfoBuildsHashIndex(t *testing.T) {
	hashes := []ident.ID{ident.Random(), ident.Random(), ident.Random()}
	m := NewMetaInfo(16, 40, hashes)

	if m.NumPieces() != 3 {
		t.Fatalf("expected 3 pieces, got %d", m.NumPieces())
	}
	for i, h := range hashes {
		if m.Hash(i) != h {
			t.Fatalf("expected Hash(%d) to return the original hash", i)
		}
		idx, ok := m.IndexOf(h)
		if !ok || idx != i {
			t.Fatalf("expected IndexOf to resolve hash %d back to index %d, got %d ok=%v", i, i, idx, ok)
		}
	}
}

func TestIndexOfUnknownHashReturnsFalse(t *testing.T) {
	m := NewMetaInfo(16, 16, []ident.ID{ident.Random()})
	if _, ok := m.IndexOf(ident.Random()); ok {
		t.Fatal("expected an unrelated hash to not resolve")
	}
}

func TestPieceLenAccountsForShortFinalPiece(t *testing.T) {
	// 40 bytes total, 16-byte pieces: pieces 0 and 1 are full, piece 2
	// (the last) only has 40 - 32 = 8 bytes.
	m := NewMetaInfo(16, 40, []ident.ID{ident.Random(), ident.Random(), ident.Random()})

	if got := m.PieceLen(0); got != 16 {
		t.Fatalf("expected piece 0 to be full length 16, got %d", got)
	}
	if got := m.PieceLen(1); got != 16 {
		t.Fatalf("expected piece 1 to be full length 16, got %d", got)
	}
	if got := m.PieceLen(2); got != 8 {
		t.Fatalf("expected the final piece to be the 8-byte remainder, got %d", got)
	}
}

func TestPieceLenExactMultipleHasNoShortFinalPiece(t *testing.T) {
	m := NewMetaInfo(16, 32, []ident.ID{ident.Random(), ident.Random()})
	if got := m.PieceLen(1); got != 16 {
		t.Fatalf("expected the final piece of an exact multiple to be full length, got %d", got)
	}
}
