package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/jrydberg/friendly/internal/bt"
	"github.com/jrydberg/friendly/internal/flog"
	"github.com/jrydberg/friendly/internal/ident"
	"github.com/jrydberg/friendly/internal/overlay"
)

// buildItemFactory wires the optional single shared item (spec.md
// §4.8) into the overlay as the probe termination for --item-query,
// backed by --item-file. Piece hashes are computed from the file's own
// current content: a freshly shared file always starts complete, and
// a sparsely filled-in copy verifies whatever pieces already happen to
// match, exactly like FileStorage.Check does for any other item.
func buildItemFactory(opts *Options, log flog.Logger) overlay.ProtocolFactory {
	if opts.ItemFile == "" {
		return overlay.StaticFactory{}
	}

	q, err := parseDigest(opts.ItemQuery)
	if err != nil {
		log.Errorf("item: --item-query: %v", err)
		return overlay.StaticFactory{}
	}

	info, err := os.Stat(opts.ItemFile)
	if err != nil {
		log.Errorf("item: %v", err)
		return overlay.StaticFactory{}
	}

	metainfo, err := hashFile(opts.ItemFile, opts.ItemPieceSize, int(info.Size()))
	if err != nil {
		log.Errorf("item: hashing %s: %v", opts.ItemFile, err)
		return overlay.StaticFactory{}
	}

	storage, err := bt.NewFileStorage(opts.ItemFile, metainfo)
	if err != nil {
		log.Errorf("item: storage: %v", err)
		return overlay.StaticFactory{}
	}
	if err := storage.Check(nil); err != nil {
		log.Errorf("item: check: %v", err)
	}

	controller := bt.NewController(metainfo, storage, 1<<14, 8, log)
	log.Infof("item: sharing %s as query %s (%d pieces, %d complete)",
		opts.ItemFile, q, metainfo.NumPieces(), storage.NumCompleted())

	return overlay.StaticFactory{
		Terminates: func(query ident.ID) bool { return query == q },
		Build: func(addr overlay.Address) overlay.Protocol {
			return bt.NewConnection(controller, metainfo, log)
		},
	}
}

func parseDigest(s string) (ident.ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ident.ID{}, err
	}
	id, ok := ident.FromBytes(b)
	if !ok {
		return ident.ID{}, fmt.Errorf("must be %d bytes, got %d", ident.Size, len(b))
	}
	return id, nil
}

// hashFile splits path into pieceSize chunks and hashes each with
// ident.H, building the MetaInfo a Storage verifies against.
func hashFile(path string, pieceSize, totalSize int) (*bt.MetaInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPieces := 0
	if totalSize > 0 {
		numPieces = (totalSize + pieceSize - 1) / pieceSize
	}

	hashes := make([]ident.ID, 0, numPieces)
	buf := make([]byte, pieceSize)
	for i := 0; i < numPieces; i++ {
		low := i * pieceSize
		high := low + pieceSize
		if high > totalSize {
			high = totalSize
		}
		n, err := io.ReadFull(f, buf[:high-low])
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		hashes = append(hashes, ident.H(buf[:n]))
	}
	return bt.NewMetaInfo(pieceSize, totalSize, hashes), nil
}
