package wsproto

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeDecodeData(t *testing.T) {
	msg := EncodeData([]byte("hello"))
	d, err := Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Tag != TagData {
		t.Fatalf("Tag = %v, want TagData", d.Tag)
	}
	if !bytes.Equal(d.Data, []byte("hello")) {
		t.Fatalf("Data = %q, want %q", d.Data, "hello")
	}
}

func TestEncodeDecodeResizeControl(t *testing.T) {
	msg, err := EncodeControl(ControlResize, ResizePayload{Cols: 100, Rows: 40})
	if err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}
	d, err := Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Tag != TagControl || d.Control.Type != ControlResize {
		t.Fatalf("unexpected decoded control: %+v", d)
	}
	var rp ResizePayload
	if err := json.Unmarshal(d.Control.Payload, &rp); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if rp.Cols != 100 || rp.Rows != 40 {
		t.Fatalf("payload = %+v, want cols=100 rows=40", rp)
	}
}

func TestEncodeDecodeSeqControl(t *testing.T) {
	msg, err := EncodeControl(ControlSeq, SeqPayload{Seq: 510})
	if err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}
	d, err := Decode(msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var sp SeqPayload
	if err := json.Unmarshal(d.Control.Payload, &sp); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if sp.Seq != 510 {
		t.Fatalf("Seq = %d, want 510", sp.Seq)
	}
}

func TestDecodeEmptyMessageIsError(t *testing.T) {
	if _, err := Decode(nil); err != ErrEmptyMessage {
		t.Fatalf("Decode(nil) err = %v, want ErrEmptyMessage", err)
	}
}

func TestDecodeUnknownTagIsError(t *testing.T) {
	if _, err := Decode([]byte{0xff, 'x'}); err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}

func TestDecodeMalformedControlJSONIsError(t *testing.T) {
	msg := append([]byte{byte(TagControl)}, []byte("not-json")...)
	if _, err := Decode(msg); err == nil {
		t.Fatalf("expected error for malformed control JSON")
	}
}
