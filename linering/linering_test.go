package linering

import "testing"

func TestPushAssignsMonotonicSeq(t *testing.T) {
	r := New(5)
	var last uint64
	for i := 0; i < 10; i++ {
		seq := r.Push("line")
		if seq <= last {
			t.Fatalf("seq %d not strictly greater than previous %d", seq, last)
		}
		last = seq
	}
}

func TestEvictionRespectsCapacity(t *testing.T) {
	r := New(3)
	for i := 0; i < 10; i++ {
		r.Push("line")
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
}

func TestGetSinceExactMatch(t *testing.T) {
	r := New(100)
	for i := 0; i < 10; i++ {
		r.Push("l")
	}
	got := r.GetSince(5)
	if len(got) != 5 {
		t.Fatalf("got %d lines, want 5", len(got))
	}
	for _, l := range got {
		if l.Seq <= 5 {
			t.Fatalf("unexpected seq %d <= 5", l.Seq)
		}
	}
}

func TestGetSinceWithGapReturnsSurvivingTail(t *testing.T) {
	r := New(5)
	for i := 0; i < 20; i++ {
		r.Push("l")
	}
	// Oldest surviving seq is 16 (20 pushed, capacity 5 -> seqs 16..20).
	got := r.GetSince(1) // far older than anything resident
	if len(got) != 5 {
		t.Fatalf("got %d lines, want 5 (best-effort tail)", len(got))
	}
	if got[0].Seq != r.OldestSeq() {
		t.Fatalf("expected tail to start at oldest resident seq")
	}
}

func TestS6ResumeScenario(t *testing.T) {
	r := New(1000)
	for i := 0; i < 500; i++ {
		r.Push("l")
	}
	if r.LastSeq() != 500 {
		t.Fatalf("LastSeq() = %d, want 500", r.LastSeq())
	}

	var newSeqs []uint64
	for i := 0; i < 10; i++ {
		newSeqs = append(newSeqs, r.Push("l"))
	}

	got := r.GetSince(500)
	if len(got) != 10 {
		t.Fatalf("got %d lines, want 10", len(got))
	}
	for i, l := range got {
		if l.Seq != newSeqs[i] {
			t.Fatalf("line %d: seq %d != expected %d", i, l.Seq, newSeqs[i])
		}
		if l.Seq != uint64(501+i) {
			t.Fatalf("line %d: seq %d != expected %d", i, l.Seq, 501+i)
		}
	}
}
