package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		typ  Type
		v    interface{}
	}{
		{"hello", TypeHello, HelloPayload{Version: 1, ClientType: ClientTower}},
		{"welcome", TypeWelcome, WelcomePayload{Version: 1, Pid: 4242, Cols: 80, Rows: 24, StartTime: 1700000000000}},
		{"resize", TypeResize, ResizePayload{Cols: 120, Rows: 40}},
		{"signal", TypeSignal, SignalPayload{Signal: 15}},
		{"spawn", TypeSpawn, SpawnPayload{Command: "/bin/zsh", Args: []string{"-l"}, Cwd: "/tmp", Env: map[string]string{"PATH": "/bin"}}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf, err := EncodeJSON(nil, c.typ, c.v)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			var dec Decoder
			frames, err := dec.Feed(buf)
			if err != nil {
				t.Fatalf("feed: %v", err)
			}
			if len(frames) != 1 {
				t.Fatalf("expected 1 frame, got %d", len(frames))
			}
			if frames[0].Type != c.typ {
				t.Fatalf("type mismatch: got %s want %s", frames[0].Type, c.typ)
			}

			wantJSON, _ := json.Marshal(c.v)
			if !bytes.Equal(frames[0].Payload, wantJSON) {
				t.Fatalf("payload mismatch: got %s want %s", frames[0].Payload, wantJSON)
			}
		})
	}
}

func TestDecoderArbitraryChunkBoundaries(t *testing.T) {
	buf, err := Encode(nil, TypeData, []byte("hello world"))
	if err != nil {
		t.Fatal(err)
	}
	buf2, err := Encode(buf, TypePing, nil)
	if err != nil {
		t.Fatal(err)
	}

	var dec Decoder
	var got []Frame
	// Feed one byte at a time to exercise arbitrary chunk boundaries.
	for i := 0; i < len(buf2); i++ {
		frames, err := dec.Feed(buf2[i : i+1])
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, frames...)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if got[0].Type != TypeData || string(got[0].Payload) != "hello world" {
		t.Fatalf("unexpected first frame: %+v", got[0])
	}
	if got[1].Type != TypePing || len(got[1].Payload) != 0 {
		t.Fatalf("unexpected second frame: %+v", got[1])
	}
}

func TestDecoderOversizedFrameIsFatal(t *testing.T) {
	var hdr [5]byte
	hdr[0] = byte(TypeData)
	// Declare a payload length one byte over the max.
	big := uint32(MaxPayload) + 1
	hdr[1] = byte(big >> 24)
	hdr[2] = byte(big >> 16)
	hdr[3] = byte(big >> 8)
	hdr[4] = byte(big)

	var dec Decoder
	_, err := dec.Feed(hdr[:])
	if err == nil {
		t.Fatal("expected oversized-frame error")
	}
}

func TestDecoderMultipleFramesInOneFeed(t *testing.T) {
	buf, _ := Encode(nil, TypeData, []byte("a"))
	buf, _ = Encode(buf, TypeData, []byte("bb"))
	buf, _ = Encode(buf, TypeData, []byte("ccc"))

	var dec Decoder
	frames, err := dec.Feed(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	want := []string{"a", "bb", "ccc"}
	for i, f := range frames {
		if string(f.Payload) != want[i] {
			t.Fatalf("frame %d: got %q want %q", i, f.Payload, want[i])
		}
	}
	if dec.Pending() != 0 {
		t.Fatalf("expected no pending bytes, got %d", dec.Pending())
	}
}
