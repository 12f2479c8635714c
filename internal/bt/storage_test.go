package bt

import (
	"path/filepath"
	"testing"

	"github.com/jrydberg/friendly/internal/ident"
)

func newFileStorageFixture(t *testing.T, pieceSize, totalSize int, content []byte) (*FileStorage, *MetaInfo) {
	t.Helper()
	numPieces := (totalSize + pieceSize - 1) / pieceSize
	hashes := make([]ident.ID, numPieces)
	for i := range hashes {
		low := i * pieceSize
		high := low + pieceSize
		if high > len(content) {
			high = len(content)
		}
		hashes[i] = ident.H(content[low:high])
	}
	m := NewMetaInfo(pieceSize, totalSize, hashes)

	path := filepath.Join(t.TempDir(), "item.data")
	fs, err := NewFileStorage(path, m)
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs, m
}

func TestWriteVerifiesPieceAgainstHash(t *testing.T) {
	content := []byte("0123456789abcdef" + "ghijklmn") // 16 + 8 bytes, 2 pieces
	fs, _ := newFileStorageFixture(t, 16, len(content), content)

	ok, err := fs.Write(0, 0, content[0:16])
	if err != nil {
		t.Fatalf("Write piece 0: %v", err)
	}
	if !ok {
		t.Fatal("expected piece 0 to verify once its full content is written")
	}
	if !fs.Have(0) {
		t.Fatal("expected Have(0) to report true after a verifying write")
	}
	if fs.NumCompleted() != 1 {
		t.Fatalf("expected 1 completed piece, got %d", fs.NumCompleted())
	}
}

func TestWritePartialPieceDoesNotVerify(t *testing.T) {
	content := []byte("0123456789abcdef")
	fs, _ := newFileStorageFixture(t, 16, len(content), content)

	ok, err := fs.Write(0, 0, content[0:8])
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ok {
		t.Fatal("expected a half-written piece to not yet verify")
	}
	if fs.Have(0) {
		t.Fatal("expected Have(0) to report false before the piece is complete")
	}
}

func TestReadReturnsWrittenBytes(t *testing.T) {
	content := []byte("0123456789abcdef")
	fs, _ := newFileStorageFixture(t, 16, len(content), content)

	if _, err := fs.Write(0, 0, content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := fs.Read(0, 4, 6)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content[4:10]) {
		t.Fatalf("expected Read to return %q, got %q", content[4:10], got)
	}
}

func TestCheckPopulatesCompletedFromExistingContent(t *testing.T) {
	content := []byte("0123456789abcdef" + "ghijklmn")
	fs, _ := newFileStorageFixture(t, 16, len(content), content)

	// Write only the first piece directly, leaving the second absent.
	if _, err := fs.Write(0, 0, content[0:16]); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var progressCalls []float64
	if err := fs.Check(func(f float64) { progressCalls = append(progressCalls, f) }); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if fs.NumCompleted() != 1 {
		t.Fatalf("expected exactly piece 0 to verify, got %d completed", fs.NumCompleted())
	}
	if len(progressCalls) == 0 || progressCalls[len(progressCalls)-1] != 1.0 {
		t.Fatalf("expected Check to report a final progress of 1.0, got %v", progressCalls)
	}
}

func TestIterCompletedReturnsAllVerifiedIndexes(t *testing.T) {
	content := []byte("0123456789abcdef" + "ghijklmn")
	fs, _ := newFileStorageFixture(t, 16, len(content), content)

	if _, err := fs.Write(0, 0, content[0:16]); err != nil {
		t.Fatalf("Write piece 0: %v", err)
	}
	if _, err := fs.Write(1, 0, content[16:24]); err != nil {
		t.Fatalf("Write piece 1: %v", err)
	}

	got := fs.IterCompleted()
	if len(got) != 2 {
		t.Fatalf("expected 2 completed pieces, got %v", got)
	}
}
