package bt

import "math/rand"

// PiecePicker tracks an interest level per piece (spec.md §4.8): a
// piece moves up one level each time another peer is seen advertising
// it, and down one when such a peer disconnects. Iterate offers only
// pieces at level >= 1 and does not order them by level.
type PiecePicker struct {
	interests [][]int    // interests[level] = pieces currently at that level
	level     map[int]int // piece -> level, for O(1) got/lost updates
	fixed     []int       // FIFO of pieces with at least one chunk received, until Complete
}

// NewPiecePicker creates a picker over num pieces, all starting at
// interest level 0 (least interesting / most common assumption).
func NewPiecePicker(num int) *PiecePicker {
	level0 := make([]int, num)
	lvl := make(map[int]int, num)
	for i := 0; i < num; i++ {
		level0[i] = i
		lvl[i] = 0
	}
	return &PiecePicker{interests: [][]int{level0}, level: lvl}
}

func removeFrom(s []int, v int) []int {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// GotHave moves piece up one interest level: another peer was just
// seen to hold it.
func (p *PiecePicker) GotHave(piece int) {
	lvl := p.level[piece]
	p.interests[lvl] = removeFrom(p.interests[lvl], piece)
	if lvl == len(p.interests)-1 {
		p.interests = append(p.interests, nil)
	}
	p.interests[lvl+1] = append(p.interests[lvl+1], piece)
	p.level[piece] = lvl + 1
}

// LostHave moves piece down one interest level: a peer that held it
// disconnected. A piece already at level 0 is unaffected.
func (p *PiecePicker) LostHave(piece int) {
	lvl := p.level[piece]
	if lvl == 0 {
		return
	}
	p.interests[lvl] = removeFrom(p.interests[lvl], piece)
	p.interests[lvl-1] = append(p.interests[lvl-1], piece)
	p.level[piece] = lvl - 1
}

// ChunkReceived marks piece as in-progress, preferring it in future
// iteration so partially-downloaded pieces finish before new ones
// start.
func (p *PiecePicker) ChunkReceived(piece int) {
	for _, f := range p.fixed {
		if f == piece {
			return
		}
	}
	p.fixed = append(p.fixed, piece)
}

// Complete removes piece from the in-progress set once it verifies.
func (p *PiecePicker) Complete(piece int) {
	p.fixed = removeFrom(p.fixed, piece)
}

// Iterate returns a full candidate ordering for this round: every
// in-progress piece first (continuity preferred over rarity), then
// every piece at interest level >= 1 in one uniform shuffle across all
// those levels, so a piece's level does not affect its position.
func (p *PiecePicker) Iterate() []int {
	out := make([]int, 0, len(p.fixed))
	out = append(out, p.fixed...)

	var rest []int
	for _, level := range p.interests[1:] {
		rest = append(rest, level...)
	}
	rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	return append(out, rest...)
}
