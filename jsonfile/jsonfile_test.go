package jsonfile

import (
	"path/filepath"
	"testing"
)

type sample struct {
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

func TestGetOnMissingFileReturnsZeroValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	jf := New[sample](path)

	v, err := jf.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.Count != 0 || v.Tags != nil {
		t.Fatalf("expected zero value, got %+v", v)
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	jf := New[sample](path)

	want := sample{Count: 3, Tags: []string{"a", "b"}}
	if err := jf.Set(want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// A fresh handle over the same path, forcing a real disk read.
	jf2 := New[sample](path)
	got, err := jf2.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Count != want.Count || len(got.Tags) != len(want.Tags) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestUpdateMutatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	jf := New[sample](path)

	if err := jf.Update(func(s *sample) error {
		s.Count++
		s.Tags = append(s.Tags, "x")
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	jf2 := New[sample](path)
	got, err := jf2.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Count != 1 || len(got.Tags) != 1 || got.Tags[0] != "x" {
		t.Fatalf("unexpected state after update: %+v", got)
	}
}

func TestExistsReflectsDiskState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	jf := New[sample](path)

	if jf.Exists() {
		t.Fatalf("expected Exists() false before any write")
	}
	if err := jf.Set(sample{Count: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !jf.Exists() {
		t.Fatalf("expected Exists() true after Set")
	}
}
