package ring

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestAppendWithinBudgetPreservesAllBytes(t *testing.T) {
	r := New(10)
	r.Append([]byte("line1\nline2\nline3\n"))
	if r.LineCount() != 3 {
		t.Fatalf("lineCount = %d, want 3", r.LineCount())
	}
	got := r.GetReplayData()
	if string(got) != "line1\nline2\nline3\n" {
		t.Fatalf("got %q", got)
	}
}

func TestEvictionAcrossMultipleChunks(t *testing.T) {
	r := New(2)
	r.Append([]byte("a\n"))
	r.Append([]byte("b\n"))
	r.Append([]byte("c\n"))
	if r.LineCount() != 2 {
		t.Fatalf("lineCount = %d, want 2", r.LineCount())
	}
	got := string(r.GetReplayData())
	if got != "b\nc\n" {
		t.Fatalf("got %q, want %q", got, "b\nc\n")
	}
}

func TestEvictionWithinSingleChunk(t *testing.T) {
	r := New(2)
	r.Append([]byte("a\nb\nc\nd\n"))
	if r.LineCount() != 2 {
		t.Fatalf("lineCount = %d, want 2", r.LineCount())
	}
	got := string(r.GetReplayData())
	if got != "c\nd\n" {
		t.Fatalf("got %q, want %q", got, "c\nd\n")
	}
}

func TestEscapeSequenceStraddlingChunksSurvives(t *testing.T) {
	r := New(3)
	// A colored span whose opening and closing escapes arrive in separate
	// Append calls, preceded by one line and followed by lines that trigger
	// eviction of that first line only.
	r.Append([]byte("line0\n"))
	r.Append([]byte("\x1b[31m"))
	r.Append([]byte("red\x1b[0m\n"))
	r.Append([]byte("line2\n"))
	r.Append([]byte("line3\n"))

	got := r.GetReplayData()
	if !bytes.Contains(got, []byte("\x1b[0m")) {
		t.Fatalf("escape sequence was corrupted: %q", got)
	}
	if r.LineCount() > 3 {
		t.Fatalf("lineCount = %d, want <= 3", r.LineCount())
	}
}

func TestResetClearsContents(t *testing.T) {
	r := New(10)
	r.Append([]byte("hello\n"))
	r.Reset()
	if !r.Empty() {
		t.Fatal("expected empty ring after reset")
	}
	if len(r.GetReplayData()) != 0 {
		t.Fatal("expected no replay data after reset")
	}
}

func TestInvariantLineCountNeverExceedsMaxAfterRandomAppends(t *testing.T) {
	r := New(50)
	rng := rand.New(rand.NewSource(1))
	total := 0
	for i := 0; i < 500; i++ {
		n := rng.Intn(20)
		buf := make([]byte, 0, n)
		for j := 0; j < n; j++ {
			if rng.Intn(4) == 0 {
				buf = append(buf, '\n')
			} else {
				buf = append(buf, byte('a'+rng.Intn(26)))
			}
		}
		r.Append(buf)
		total += len(buf)

		if r.LineCount() > 50 {
			t.Fatalf("iteration %d: lineCount %d exceeds max", i, r.LineCount())
		}
		if r.Len() != len(r.GetReplayData()) {
			t.Fatalf("iteration %d: Len() %d != len(GetReplayData()) %d", i, r.Len(), len(r.GetReplayData()))
		}
	}
}
