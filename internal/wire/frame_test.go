package wire

import (
	"bytes"
	"testing"

	"github.com/jrydberg/friendly/internal/ident"
)

func TestEncodeDecodeProbe(t *testing.T) {
	q, cid, sid := ident.Random(), ident.Random(), ident.Random()
	payload := EncodeProbe(q, cid, sid, 7)

	gq, gcid, gsid, ttl, err := DecodeProbe(payload)
	if err != nil {
		t.Fatalf("DecodeProbe: %v", err)
	}
	if gq != q || gcid != cid || gsid != sid || ttl != 7 {
		t.Fatalf("roundtrip mismatch: got q=%s cid=%s sid=%s ttl=%d", gq, gcid, gsid, ttl)
	}
}

func TestEncodeDecodeEstablish(t *testing.T) {
	pid, cid, sid := ident.Random(), ident.Random(), ident.Random()
	payload := EncodeEstablish(pid, cid, sid)

	gpid, gcid, gsid, err := DecodeEstablish(payload)
	if err != nil {
		t.Fatalf("DecodeEstablish: %v", err)
	}
	if gpid != pid || gcid != cid || gsid != sid {
		t.Fatalf("roundtrip mismatch")
	}
}

func TestEncodeDecodeReset(t *testing.T) {
	pid, cid := ident.Random(), ident.Random()
	payload := EncodeReset(pid, cid)

	gpid, gcid, err := DecodeReset(payload)
	if err != nil {
		t.Fatalf("DecodeReset: %v", err)
	}
	if gpid != pid || gcid != cid {
		t.Fatalf("roundtrip mismatch")
	}
}

func TestEncodeDecodeApp(t *testing.T) {
	pid, cid := ident.Random(), ident.Random()
	body := []byte("hello, overlay")
	payload := EncodeApp(pid, cid, body)

	gpid, gcid, gbody, err := DecodeApp(payload)
	if err != nil {
		t.Fatalf("DecodeApp: %v", err)
	}
	if gpid != pid || gcid != cid || !bytes.Equal(gbody, body) {
		t.Fatalf("roundtrip mismatch")
	}
}

func TestDecodeAppRejectsShortPayload(t *testing.T) {
	if _, _, _, err := DecodeApp(make([]byte, 39)); err == nil {
		t.Fatal("expected error for undersized app payload")
	}
}

func TestOpcodeIsApp(t *testing.T) {
	for _, op := range []Opcode{PROBE, ESTABLISH, RESET, 127} {
		if op.IsApp() {
			t.Errorf("opcode %d should not be an app opcode", op)
		}
	}
	for _, op := range []Opcode{128, 200, 255} {
		if !op.IsApp() {
			t.Errorf("opcode %d should be an app opcode", op)
		}
	}
}

func TestParserFeedsIncrementally(t *testing.T) {
	frame, err := Encode(nil, 128, []byte("abcdef"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var p Parser
	// Feed one byte at a time; Next must report "not ready" until the
	// whole frame has arrived.
	for i := 0; i < len(frame)-1; i++ {
		p.Feed(frame[i : i+1])
		if _, ok, _ := p.Next(); ok {
			t.Fatalf("Next reported a complete frame after %d of %d bytes", i+1, len(frame))
		}
	}
	p.Feed(frame[len(frame)-1:])

	msg, ok, err := p.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if msg.Opcode != 128 || string(msg.Payload) != "abcdef" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if _, ok, _ := p.Next(); ok {
		t.Fatal("Next returned a second frame from a single-frame buffer")
	}
}

func TestParserHandlesBackToBackFrames(t *testing.T) {
	var buf []byte
	buf, _ = Encode(buf, PROBE, []byte("one"))
	buf, _ = Encode(buf, RESET, []byte("two"))

	var p Parser
	p.Feed(buf)

	msg1, ok, err := p.Next()
	if err != nil || !ok || msg1.Opcode != PROBE || string(msg1.Payload) != "one" {
		t.Fatalf("first frame: msg=%+v ok=%v err=%v", msg1, ok, err)
	}
	msg2, ok, err := p.Next()
	if err != nil || !ok || msg2.Opcode != RESET || string(msg2.Payload) != "two" {
		t.Fatalf("second frame: msg=%+v ok=%v err=%v", msg2, ok, err)
	}
	if _, ok, _ := p.Next(); ok {
		t.Fatal("expected buffer to be drained")
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	if _, err := Encode(nil, 128, make([]byte, MaxPayload+1)); err == nil {
		t.Fatal("expected error for payload exceeding MaxPayload")
	}
}
