package ident

import "testing"

func TestHIsDeterministic(t *testing.T) {
	a := H([]byte("hello"), []byte("world"))
	b := H([]byte("hello"), []byte("world"))
	if a != b {
		t.Fatalf("H is not deterministic: %s != %s", a, b)
	}
}

func TestHIgnoresArgumentBoundaries(t *testing.T) {
	// H writes its parts to the hash state with no length prefix or
	// separator, so H("ab", "c") and H("a", "bc") both hash "abc" and
	// produce the same digest.
	a := H([]byte("ab"), []byte("c"))
	b := H([]byte("a"), []byte("bc"))
	if a != b {
		t.Fatalf("expected H to be insensitive to argument boundaries (both concatenate to \"abc\"), got %s != %s", a, b)
	}
}

func TestHDiffersForDifferentInput(t *testing.T) {
	a := H([]byte("x"))
	b := H([]byte("y"))
	if a == b {
		t.Fatal("expected different inputs to hash differently")
	}
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	if _, ok := FromBytes(make([]byte, Size-1)); ok {
		t.Fatal("expected FromBytes to reject a short slice")
	}
	if _, ok := FromBytes(make([]byte, Size+1)); ok {
		t.Fatal("expected FromBytes to reject a long slice")
	}
	id, ok := FromBytes(make([]byte, Size))
	if !ok || !id.IsZero() {
		t.Fatal("expected FromBytes to accept an exact-length all-zero slice")
	}
}

func TestRandomProducesDistinctIDs(t *testing.T) {
	a, b := Random(), Random()
	if a == b {
		t.Fatal("two calls to Random produced the same id")
	}
	if a.IsZero() || b.IsZero() {
		t.Fatal("Random produced a zero id")
	}
}

func TestIsZero(t *testing.T) {
	var zero ID
	if !zero.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	if Random().IsZero() {
		t.Fatal("a random id should not report IsZero")
	}
}
