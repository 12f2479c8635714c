// Package wire implements the framed message codec shared by every
// friend link: a one-byte opcode, a three-byte big-endian length, and
// the payload (spec.md §4.1).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jrydberg/friendly/internal/ident"
)

// Opcode identifies the kind of a framed message. Opcodes 0-127 are
// reserved for overlay control; 128-255 carry application payloads on
// virtual paths.
type Opcode uint8

const (
	PROBE     Opcode = 0
	ESTABLISH Opcode = 1
	RESET     Opcode = 2
)

// IsApp reports whether op is an application-layer opcode carried on a
// virtual path, rather than an overlay control opcode.
func (op Opcode) IsApp() bool { return op >= 128 }

// MaxPayload is the largest payload a 24-bit length field can encode.
const MaxPayload = 1<<24 - 1

// HeaderSize is the size, in bytes, of the opcode+length header.
const HeaderSize = 4

// ErrTruncated names a frame whose declared length can never be
// satisfied. Parser.Next does not return it: every 24-bit length can
// be satisfied, so a short buffer only means more bytes are needed.
var ErrTruncated = errors.New("wire: truncated frame")

// Encode appends the framed representation of (op, payload) to dst and
// returns the result. It is the caller's responsibility to keep
// payload under MaxPayload.
func Encode(dst []byte, op Opcode, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("wire: payload of %d bytes exceeds max %d", len(payload), MaxPayload)
	}
	var hdr [HeaderSize]byte
	hdr[0] = byte(op)
	hdr[1] = byte(len(payload) >> 16)
	hdr[2] = byte(len(payload) >> 8)
	hdr[3] = byte(len(payload))
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	return dst, nil
}

// EncodeProbe builds a PROBE payload: q[20] cid[20] sid[20] pad[3] ttl[1].
func EncodeProbe(q, cid, sid ident.ID, ttl uint8) []byte {
	buf := make([]byte, 0, 20*3+4)
	buf = append(buf, q.Bytes()...)
	buf = append(buf, cid.Bytes()...)
	buf = append(buf, sid.Bytes()...)
	buf = append(buf, 0, 0, 0, ttl)
	return buf
}

// DecodeProbe parses a PROBE payload.
func DecodeProbe(payload []byte) (q, cid, sid ident.ID, ttl uint8, err error) {
	if len(payload) != 20*3+4 {
		return q, cid, sid, 0, fmt.Errorf("wire: bad PROBE length %d", len(payload))
	}
	q, _ = ident.FromBytes(payload[0:20])
	cid, _ = ident.FromBytes(payload[20:40])
	sid, _ = ident.FromBytes(payload[40:60])
	ttl = payload[63]
	return q, cid, sid, ttl, nil
}

// EncodeEstablish builds an ESTABLISH payload: pid[20] cid[20] sid[20].
func EncodeEstablish(pid, cid, sid ident.ID) []byte {
	buf := make([]byte, 0, 60)
	buf = append(buf, pid.Bytes()...)
	buf = append(buf, cid.Bytes()...)
	buf = append(buf, sid.Bytes()...)
	return buf
}

// DecodeEstablish parses an ESTABLISH payload.
func DecodeEstablish(payload []byte) (pid, cid, sid ident.ID, err error) {
	if len(payload) != 60 {
		return pid, cid, sid, fmt.Errorf("wire: bad ESTABLISH length %d", len(payload))
	}
	pid, _ = ident.FromBytes(payload[0:20])
	cid, _ = ident.FromBytes(payload[20:40])
	sid, _ = ident.FromBytes(payload[40:60])
	return pid, cid, sid, nil
}

// EncodeReset builds a RESET payload: pid[20] cid[20].
func EncodeReset(pid, cid ident.ID) []byte {
	buf := make([]byte, 0, 40)
	buf = append(buf, pid.Bytes()...)
	buf = append(buf, cid.Bytes()...)
	return buf
}

// DecodeReset parses a RESET payload.
func DecodeReset(payload []byte) (pid, cid ident.ID, err error) {
	if len(payload) != 40 {
		return pid, cid, fmt.Errorf("wire: bad RESET length %d", len(payload))
	}
	pid, _ = ident.FromBytes(payload[0:20])
	cid, _ = ident.FromBytes(payload[20:40])
	return pid, cid, nil
}

// EncodeApp builds an application-message payload: pid[20] cid[20] body.
func EncodeApp(pid, cid ident.ID, body []byte) []byte {
	buf := make([]byte, 0, 40+len(body))
	buf = append(buf, pid.Bytes()...)
	buf = append(buf, cid.Bytes()...)
	buf = append(buf, body...)
	return buf
}

// DecodeApp parses an application-message payload into its path,
// channel, and opaque body.
func DecodeApp(payload []byte) (pid, cid ident.ID, body []byte, err error) {
	if len(payload) < 40 {
		return pid, cid, nil, fmt.Errorf("wire: app payload too short (%d bytes)", len(payload))
	}
	pid, _ = ident.FromBytes(payload[0:20])
	cid, _ = ident.FromBytes(payload[20:40])
	return pid, cid, payload[40:], nil
}

// Message is one fully decoded frame.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// Parser accepts bytes incrementally and yields complete frames,
// mirroring the original Connection.dataReceived: it buffers until at
// least 4+length bytes are available, then slices a message off the
// front of the buffer.
type Parser struct {
	buf []byte
}

// Feed appends newly read bytes to the parser's buffer.
func (p *Parser) Feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// Next pops the next complete frame from the buffer, if any. It
// returns ok=false when more bytes are needed, and a non-nil error
// only for a header whose declared length is provably unsatisfiable
// in isolation — in practice Next never errors since any length fits
// in principle; truncation only means "wait for more bytes". The error
// return exists for symmetry with callers that want to distinguish a
// hard framing failure from "not enough data yet" in the future.
func (p *Parser) Next() (Message, bool, error) {
	if len(p.buf) < HeaderSize {
		return Message{}, false, nil
	}
	op := Opcode(p.buf[0])
	length := int(binary.BigEndian.Uint32([]byte{0, p.buf[1], p.buf[2], p.buf[3]}))
	if len(p.buf) < HeaderSize+length {
		return Message{}, false, nil
	}
	payload := make([]byte, length)
	copy(payload, p.buf[HeaderSize:HeaderSize+length])
	p.buf = p.buf[HeaderSize+length:]
	return Message{Opcode: op, Payload: payload}, true, nil
}
