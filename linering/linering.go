// Package linering implements the Tower-side Line Ring: a circular buffer
// of sequence-numbered lines used to serve resume-by-seq requests from
// reconnecting UI WebSocket clients (spec §3, §4.6.2, §8 scenario S6).
package linering

// Line is one line of output tagged with its monotonic sequence number.
type Line struct {
	Seq  uint64
	Text string
}

// Ring is a bounded, sequence-numbered line buffer. Seq is strictly
// monotonic across the lifetime of a Ring; size never exceeds capacity.
type Ring struct {
	capacity int
	lines    []Line // oldest first
	nextSeq  uint64
}

// New creates a Ring holding at most capacity lines.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{capacity: capacity, nextSeq: 1}
}

// Push appends a line, assigning it the next sequence number, and evicts
// the oldest line if the ring is at capacity. Returns the assigned seq.
func (r *Ring) Push(text string) uint64 {
	seq := r.nextSeq
	r.nextSeq++

	r.lines = append(r.lines, Line{Seq: seq, Text: text})
	if len(r.lines) > r.capacity {
		r.lines = r.lines[len(r.lines)-r.capacity:]
	}
	return seq
}

// PushLines pushes each already-split line in order and returns the seqs
// assigned to them. It does no splitting of its own; callers decide how to
// handle partial lines across chunk boundaries (see sessionwrap for the
// accumulation logic).
func (r *Ring) PushLines(lines []string) []uint64 {
	seqs := make([]uint64, len(lines))
	for i, l := range lines {
		seqs[i] = r.Push(l)
	}
	return seqs
}

// All returns every line currently resident, oldest first.
func (r *Ring) All() []Line {
	out := make([]Line, len(r.lines))
	copy(out, r.lines)
	return out
}

// GetSince returns every resident line with Seq > since, in order. If since
// is older than the oldest resident line, the full resident set is returned
// (best-effort resume against a gap, per spec §4.6.2).
func (r *Ring) GetSince(since uint64) []Line {
	var out []Line
	for _, l := range r.lines {
		if l.Seq > since {
			out = append(out, l)
		}
	}
	return out
}

// LastSeq returns the most recently assigned sequence number, or 0 if no
// line has ever been pushed.
func (r *Ring) LastSeq() uint64 {
	if r.nextSeq == 1 {
		return 0
	}
	return r.nextSeq - 1
}

// OldestSeq returns the seq of the oldest resident line, or 0 if empty.
func (r *Ring) OldestSeq() uint64 {
	if len(r.lines) == 0 {
		return 0
	}
	return r.lines[0].Seq
}

// Len returns the number of lines currently resident.
func (r *Ring) Len() int {
	return len(r.lines)
}
