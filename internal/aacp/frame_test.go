package aacp

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := []Frame{
		{Opcode: OpIdentification, Payload: []byte{0x4C, 0x00, 0x14, 0x20}},
		{Opcode: OpBatteryState, Payload: []byte{0x01, 0x04, 0x01, 0x50, 0x02, 0x01}},
		{Opcode: OpEarDetection, Payload: []byte{0x00, 0x01}},
		{Opcode: OpControlCommand, Payload: []byte{0x0D, 0x02}},
		{Opcode: OpNotifications, Payload: []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{Opcode: OpStemPress, Payload: []byte{0x01, 0x04}},
		{Opcode: OpMetadata, Payload: []byte{0x01, 0x01, 0x03, 'P', 'r', 'o'}},
		{Opcode: OpProximityKeysReq, Payload: []byte{0x05, 0x00}},
		{Opcode: OpProximityKeys, Payload: []byte{0x00, 0x01, 0x01, 0x00, 0x02, 0x00, 0xAA, 0xBB}},
		{Opcode: OpConversationAwareness, Payload: []byte{0x03}},
		{Opcode: OpFeatureFlags, Payload: []byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{Opcode: OpInitExt, Payload: []byte{0x00, 0x00, 0x01, 0x00}},
		{Opcode: Opcode(0x7777), Payload: nil}, // unknown opcodes are not a codec concern
	}
	for _, want := range frames {
		var d Decoder
		d.Feed(Encode(want))
		got, ok, err := d.Next()
		if err != nil {
			t.Fatalf("%v: decode error: %v", want, err)
		}
		if !ok {
			t.Fatalf("%v: decoder wants more data after a full frame", want)
		}
		if got.Opcode != want.Opcode || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("round trip mismatch: got %v, want %v", got, want)
		}
		if d.Buffered() != 0 {
			t.Errorf("%v: %d trailing bytes left in decoder", want, d.Buffered())
		}
	}
}

func TestDecoderChunkBoundaries(t *testing.T) {
	frames := []Frame{
		{Opcode: OpBatteryState, Payload: []byte{0x02, 0x04, 0x01, 0x50, 0x02, 0x01, 0x02, 0x01, 0x4B, 0x02, 0x01}},
		{Opcode: OpControlCommand, Payload: []byte{0x0D, 0x03}},
		{Opcode: OpEarDetection, Payload: []byte{0x00, 0x00}},
		{Opcode: OpConversationAwareness, Payload: []byte{0x09}},
	}
	var stream []byte
	for _, f := range frames {
		stream = append(stream, Encode(f)...)
	}

	// Every chunk size from single bytes up to the whole stream must yield
	// the same frames in the same order.
	for chunk := 1; chunk <= len(stream); chunk++ {
		var d Decoder
		var got []Frame
		for off := 0; off < len(stream); off += chunk {
			end := off + chunk
			if end > len(stream) {
				end = len(stream)
			}
			d.Feed(stream[off:end])
			for {
				f, ok, err := d.Next()
				if err != nil {
					t.Fatalf("chunk=%d: decode error: %v", chunk, err)
				}
				if !ok {
					break
				}
				got = append(got, f)
			}
		}
		if len(got) != len(frames) {
			t.Fatalf("chunk=%d: got %d frames, want %d", chunk, len(got), len(frames))
		}
		for i := range frames {
			if got[i].Opcode != frames[i].Opcode || !bytes.Equal(got[i].Payload, frames[i].Payload) {
				t.Errorf("chunk=%d: frame %d = %v, want %v", chunk, i, got[i], frames[i])
			}
		}
	}
}

func TestDecoderFramingErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{
			name:  "bad preamble",
			input: []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x00, 0x01, 0x00},
		},
		{
			name:  "oversized declared length",
			input: []byte{0x04, 0x00, 0x04, 0x00, 0xFF, 0xFF, 0x01, 0x00},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Decoder
			d.Feed(tt.input)
			_, ok, err := d.Next()
			if ok {
				t.Fatal("decoded a frame from garbage")
			}
			if !errors.Is(err, ErrFraming) {
				t.Fatalf("err = %v, want ErrFraming", err)
			}
		})
	}
}

func TestDecoderPartialHeader(t *testing.T) {
	enc := Encode(Frame{Opcode: OpControlCommand, Payload: []byte{0x0D, 0x02}})

	var d Decoder
	d.Feed(enc[:3])
	if _, ok, err := d.Next(); ok || err != nil {
		t.Fatalf("partial header: ok=%v err=%v, want pending", ok, err)
	}
	d.Feed(enc[3:])
	f, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("completed frame: ok=%v err=%v", ok, err)
	}
	if f.Opcode != OpControlCommand {
		t.Errorf("opcode = 0x%04X, want OpControlCommand", uint16(f.Opcode))
	}
}

func TestDecoderRetainsTrailingBytes(t *testing.T) {
	first := Encode(Frame{Opcode: OpEarDetection, Payload: []byte{0x00, 0x01}})
	second := Encode(Frame{Opcode: OpConversationAwareness, Payload: []byte{0x02}})

	var d Decoder
	d.Feed(append(append([]byte(nil), first...), second[:5]...))

	f, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("first frame: ok=%v err=%v", ok, err)
	}
	if f.Opcode != OpEarDetection {
		t.Fatalf("first opcode = 0x%04X", uint16(f.Opcode))
	}
	if _, ok, _ := d.Next(); ok {
		t.Fatal("emitted a frame from a partial tail")
	}
	d.Feed(second[5:])
	f, ok, err = d.Next()
	if err != nil || !ok {
		t.Fatalf("second frame: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(f, Frame{Opcode: OpConversationAwareness, Payload: []byte{0x02}}) {
		t.Errorf("second frame = %v", f)
	}
}
