// Package ring implements the shellper's replay buffer: a bounded FIFO of
// raw byte chunks that preserves escape sequences verbatim (it evicts by
// chunk and, as a last resort, by byte offset — never by re-parsing lines).
package ring

// Ring is a fixed-line, unbounded-byte-count-until-eviction buffer of raw
// PTY output. Newline (0x0a) count drives eviction; the bytes themselves are
// never inspected or rewritten, only appended and dropped from the head.
type Ring struct {
	maxLines  int
	chunks    [][]byte
	bytes     int
	lineCount int
}

// New creates a Ring that evicts once its content exceeds maxLines newlines.
func New(maxLines int) *Ring {
	if maxLines <= 0 {
		maxLines = 1
	}
	return &Ring{maxLines: maxLines}
}

// Append adds buf to the ring and evicts the oldest content until the line
// budget is restored. buf is copied; the ring never aliases caller memory.
func (r *Ring) Append(buf []byte) {
	if len(buf) == 0 {
		return
	}
	owned := make([]byte, len(buf))
	copy(owned, buf)

	r.chunks = append(r.chunks, owned)
	r.bytes += len(owned)
	r.lineCount += countNewlines(owned)

	r.evict()
}

func (r *Ring) evict() {
	for r.lineCount > r.maxLines && len(r.chunks) > 1 {
		oldest := r.chunks[0]
		r.chunks = r.chunks[1:]
		r.bytes -= len(oldest)
		r.lineCount -= countNewlines(oldest)
	}

	if r.lineCount > r.maxLines && len(r.chunks) == 1 {
		chunk := r.chunks[0]
		seen := 0
		cut := len(chunk)
		for i, b := range chunk {
			if b == '\n' {
				seen++
				if r.lineCount-seen == r.maxLines {
					cut = i + 1
					break
				}
			}
		}
		newlinesDropped := countNewlines(chunk[:cut])
		r.bytes -= cut
		r.lineCount -= newlinesDropped
		suffix := make([]byte, len(chunk)-cut)
		copy(suffix, chunk[cut:])
		r.chunks[0] = suffix
	}
}

// GetReplayData returns a single contiguous copy of the ring's current
// contents, oldest byte first.
func (r *Ring) GetReplayData() []byte {
	out := make([]byte, 0, r.bytes)
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}

// Len returns the number of bytes currently resident.
func (r *Ring) Len() int {
	return r.bytes
}

// LineCount returns the current newline count (invariant: <= maxLines).
func (r *Ring) LineCount() int {
	return r.lineCount
}

// Empty reports whether the ring currently holds no bytes.
func (r *Ring) Empty() bool {
	return r.bytes == 0
}

// Reset clears the ring, discarding all content. Used on SPAWN (spec §4.3.4:
// a new PTY generation starts with an empty replay buffer).
func (r *Ring) Reset() {
	r.chunks = nil
	r.bytes = 0
	r.lineCount = 0
}

func countNewlines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
