package aacp

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Frame is one AACP message: an opcode and its payload.
//
// Wire layout (all little endian):
//
//	Offset 0-3:  preamble 04 00 04 00
//	Offset 4-5:  payload length
//	Offset 6-7:  opcode
//	Offset 8..:  payload
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("opcode=0x%04X payload=%s", uint16(f.Opcode), hex.EncodeToString(f.Payload))
}

const (
	headerLen = 8

	// maxPayload guards against a desynchronized stream declaring a runaway
	// length. No observed AACP packet comes close to 1 KiB.
	maxPayload = 1024
)

var framePreamble = []byte{0x04, 0x00, 0x04, 0x00}

// ErrFraming reports a malformed or oversized frame. It is connection-fatal:
// once the stream is desynchronized there is no way to find the next frame
// boundary.
var ErrFraming = errors.New("aacp: framing error")

// Encode serializes a frame into its wire representation.
func Encode(f Frame) []byte {
	buf := make([]byte, headerLen+len(f.Payload))
	copy(buf, framePreamble)
	binary.LittleEndian.PutUint16(buf[4:], uint16(len(f.Payload)))
	binary.LittleEndian.PutUint16(buf[6:], uint16(f.Opcode))
	copy(buf[headerLen:], f.Payload)
	return buf
}

// Decoder reassembles frames from an arbitrary sequence of byte chunks.
// The transport does not align reads to message boundaries, so partial
// frames are buffered until complete.
type Decoder struct {
	buf []byte
}

// Feed appends raw bytes received from the transport.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame. ok is false when more bytes are
// needed. A framing error leaves the decoder unusable; the caller must drop
// the connection.
func (d *Decoder) Next() (f Frame, ok bool, err error) {
	if len(d.buf) < headerLen {
		return Frame{}, false, nil
	}
	for i := range framePreamble {
		if d.buf[i] != framePreamble[i] {
			return Frame{}, false, fmt.Errorf("%w: bad preamble %s", ErrFraming, hex.EncodeToString(d.buf[:4]))
		}
	}
	n := int(binary.LittleEndian.Uint16(d.buf[4:]))
	if n > maxPayload {
		return Frame{}, false, fmt.Errorf("%w: declared payload %d exceeds %d", ErrFraming, n, maxPayload)
	}
	if len(d.buf) < headerLen+n {
		return Frame{}, false, nil
	}
	f = Frame{
		Opcode:  Opcode(binary.LittleEndian.Uint16(d.buf[6:])),
		Payload: append([]byte(nil), d.buf[headerLen:headerLen+n]...),
	}
	d.buf = d.buf[headerLen+n:]
	return f, true, nil
}

// Buffered reports how many undecoded bytes the decoder is holding.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
