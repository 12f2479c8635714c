// Package bt implements the BitTorrent-style piece exchange that runs
// as a tenant protocol over an overlay virtual path: Choker,
// PiecePicker, Schedule, Controller and Connection (spec.md §4.8).
package bt

import "github.com/jrydberg/friendly/internal/ident"

// MetaInfo describes the static shape of a shared item: how many
// pieces it has, how big each piece is, and the expected hash of
// each piece's content.
type MetaInfo struct {
	PieceSize int
	TotalSize int
	Hashes    []ident.ID

	indexOf map[ident.ID]int
}

// NewMetaInfo builds a MetaInfo from a piece size and the ordered
// list of expected piece hashes.
func NewMetaInfo(pieceSize, totalSize int, hashes []ident.ID) *MetaInfo {
	idx := make(map[ident.ID]int, len(hashes))
	for i, h := range hashes {
		idx[h] = i
	}
	return &MetaInfo{PieceSize: pieceSize, TotalSize: totalSize, Hashes: hashes, indexOf: idx}
}

// NumPieces returns the total piece count.
func (m *MetaInfo) NumPieces() int { return len(m.Hashes) }

// PieceLen returns the length of piece i, accounting for a final
// piece shorter than PieceSize.
func (m *MetaInfo) PieceLen(i int) int {
	low := i * m.PieceSize
	high := low + m.PieceSize
	if high > m.TotalSize {
		high = m.TotalSize
	}
	return high - low
}

// Hash returns the expected hash for piece i.
func (m *MetaInfo) Hash(i int) ident.ID { return m.Hashes[i] }

// IndexOf resolves a piece hash back to its index.
func (m *MetaInfo) IndexOf(hash ident.ID) (int, bool) {
	i, ok := m.indexOf[hash]
	return i, ok
}
