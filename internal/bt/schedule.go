package bt

// chunk is a byte range within a piece: (offset, length).
type chunk struct {
	offset int
	length int
}

// Schedule tracks, per piece, which fixed-size chunks are still
// wanted (pending) and which are currently in flight (active)
// (spec.md §4.8 / invariant I6: pending ∪ active == all outstanding
// chunks of a piece).
type Schedule struct {
	metainfo *MetaInfo
	pending  [][]chunk
	active   [][]chunk
}

// NewSchedule builds a Schedule for metainfo, skipping chunks for any
// piece storage already has, split into chunksize-sized requests.
func NewSchedule(storage Storage, metainfo *MetaInfo, chunksize int) *Schedule {
	n := metainfo.NumPieces()
	s := &Schedule{
		metainfo: metainfo,
		pending:  make([][]chunk, n),
		active:   make([][]chunk, n),
	}
	for pi := 0; pi < n; pi++ {
		if storage.Have(pi) {
			continue
		}
		length := metainfo.PieceLen(pi)
		for off := 0; off < length; off += chunksize {
			l := chunksize
			if off+l > length {
				l = length - off
			}
			s.pending[pi] = append(s.pending[pi], chunk{offset: off, length: l})
		}
	}
	return s
}

// Done reports whether every piece has no remaining pending or active
// chunks.
func (s *Schedule) Done() bool {
	for i := range s.pending {
		if len(s.pending[i]) != 0 || len(s.active[i]) != 0 {
			return false
		}
	}
	return true
}

// HaveRequests reports whether piece still has pending chunk
// requests.
func (s *Schedule) HaveRequests(piece int) bool {
	return len(s.pending[piece]) != 0
}

// GetRequest pops the head of piece's pending queue into its active
// set and returns it, or ok=false if nothing is pending.
func (s *Schedule) GetRequest(piece int) (offset, length int, ok bool) {
	if len(s.pending[piece]) == 0 {
		return 0, 0, false
	}
	c := s.pending[piece][0]
	s.pending[piece] = s.pending[piece][1:]
	s.active[piece] = append(s.active[piece], c)
	return c.offset, c.length, true
}

// HonorRequest drops (offset, length) from piece's active set: the
// chunk arrived and was accepted.
func (s *Schedule) HonorRequest(piece, offset, length int) {
	s.active[piece] = removeChunk(s.active[piece], offset, length)
}

// PutRequest returns a rejected or lost chunk to piece's pending
// queue. It reports whether pending was already non-empty before the
// chunk was re-appended, signaling that the piece was already
// considered interesting to other peers.
func (s *Schedule) PutRequest(piece, offset, length int) bool {
	s.active[piece] = removeChunk(s.active[piece], offset, length)
	wasPending := len(s.pending[piece]) != 0
	s.pending[piece] = append(s.pending[piece], chunk{offset: offset, length: length})
	return wasPending
}

func removeChunk(s []chunk, offset, length int) []chunk {
	for i, c := range s {
		if c.offset == offset && c.length == length {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
