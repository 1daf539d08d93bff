package wsframe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// readClientFrame reads one masked client frame from r, removes the mask
// and parses the result with ReadFrame, i.e. it plays the server's side.
func readClientFrame(r io.Reader) (*Frame, error) {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	if hdr[1]&0x80 == 0 {
		return nil, errors.New("client frame without the MASK bit")
	}
	var ext []byte
	switch hdr[1] & 0x7f {
	case 126:
		ext = make([]byte, 2)
	case 127:
		ext = make([]byte, 8)
	}
	if _, err := io.ReadFull(r, ext); err != nil {
		return nil, err
	}
	length := uint64(hdr[1] & 0x7f)
	switch len(ext) {
	case 2:
		length = uint64(binary.BigEndian.Uint16(ext))
	case 8:
		length = binary.BigEndian.Uint64(ext)
	}
	var key [4]byte
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	maskBytes(payload, key)
	raw := append([]byte{hdr[0], hdr[1] &^ 0x80}, ext...)
	return ReadFrame(bytes.NewReader(append(raw, payload...)))
}

// writeServerFrame writes one unmasked frame to w, the way a server sends it.
func writeServerFrame(w io.Writer, fin bool, opcode Opcode, payload []byte) error {
	b0 := byte(opcode)
	if fin {
		b0 |= 0x80
	}
	hdr := []byte{b0}
	switch n := len(payload); {
	case n < 126:
		hdr = append(hdr, byte(n))
	case n <= 0xffff:
		hdr = append(hdr, 126, byte(n>>8), byte(n))
	default:
		ext := make([]byte, 8)
		binary.BigEndian.PutUint64(ext, uint64(n))
		hdr = append(append(hdr, 127), ext...)
	}
	_, err := w.Write(append(hdr, payload...))
	return err
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		opcode  Opcode
		payload []byte
	}{
		{"empty binary", OpBinary, nil},
		{"short text", OpText, []byte("hello")},
		{"exactly 125", OpBinary, bytes.Repeat([]byte{'a'}, 125)},
		{"16-bit length", OpBinary, bytes.Repeat([]byte{'b'}, 1000)},
		{"64-bit length", OpBinary, bytes.Repeat([]byte{'c'}, 70000)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteFrame(&buf, true, tc.opcode, tc.payload); err != nil {
				t.Fatal(err)
			}
			frame, err := readClientFrame(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if !frame.Fin {
				t.Fatal("expected FIN set")
			}
			if frame.Opcode != tc.opcode {
				t.Fatalf("opcode: got %v want %v", frame.Opcode, tc.opcode)
			}
			if !bytes.Equal(frame.Payload, tc.payload) {
				t.Fatalf("payload mismatch: got %d bytes want %d bytes", len(frame.Payload), len(tc.payload))
			}
		})
	}
}

func TestWriteFrameMasksPayload(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("secret")
	if err := WriteFrame(&buf, true, OpText, payload); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	// header(1) + length(1) + mask(4), then masked payload.
	maskedPayload := raw[6:]
	if bytes.Equal(maskedPayload, payload) {
		t.Fatal("payload was not masked on the wire")
	}
	if raw[1]&0x80 == 0 {
		t.Fatal("client frame must set the MASK bit")
	}
}

func TestReadFrameRejectsServerMasking(t *testing.T) {
	// A "server" frame that incorrectly sets the MASK bit.
	raw := []byte{0x82, 0x80 | 0x03, 'k', 'e', 'y', '!', 'a', 'b', 'c'}
	_, err := ReadFrame(bytes.NewReader(raw))
	if err != ErrServerMustNotMask {
		t.Fatalf("got %v, want ErrServerMustNotMask", err)
	}
}

func TestReadFrameRejectsReservedBits(t *testing.T) {
	raw := []byte{0x82 | 0x10, 0x00}
	_, err := ReadFrame(bytes.NewReader(raw))
	if err != ErrReservedBitsSet {
		t.Fatalf("got %v, want ErrReservedBitsSet", err)
	}
}

func TestReadFrameRejectsUnknownOpcode(t *testing.T) {
	raw := []byte{0x83, 0x00} // opcode 3 is reserved/unknown
	_, err := ReadFrame(bytes.NewReader(raw))
	if err != ErrUnknownOpcode {
		t.Fatalf("got %v, want ErrUnknownOpcode", err)
	}
}

func TestWriteFrameRejectsOversizeControlFrame(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, true, OpPing, bytes.Repeat([]byte{'x'}, 200))
	if err != ErrControlTooLarge {
		t.Fatalf("got %v, want ErrControlTooLarge", err)
	}
}

func TestWriteFrameRejectsFragmentedControlFrame(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, false, OpPing, nil)
	if err != ErrControlFragmented {
		t.Fatalf("got %v, want ErrControlFragmented", err)
	}
}

func TestReadFrameRejectsFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	// Fabricate a 64-bit length header claiming more than MaxFramePayload,
	// without actually writing that much payload -- ReadFrame must reject
	// before attempting to read it.
	buf.Write([]byte{0x82, 0x7f})
	lenBytes := make([]byte, 8)
	lenBytes[5] = 0x02
	lenBytes[6] = 0xff
	lenBytes[7] = 0xff
	buf.Write(lenBytes)
	_, err := ReadFrame(&buf)
	if err != ErrFrameTooLarge {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestMaskingIsSelfInverse(t *testing.T) {
	key, err := NewMaskKey()
	if err != nil {
		t.Fatal(err)
	}
	original := []byte("round and round we go")
	b := append([]byte{}, original...)
	maskBytes(b, key)
	if bytes.Equal(b, original) {
		t.Fatal("masking did not change the payload")
	}
	maskBytes(b, key)
	if !bytes.Equal(b, original) {
		t.Fatal("masking twice with the same key did not restore the payload")
	}
}
