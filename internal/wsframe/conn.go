package wsframe

import (
	"io"
)

// Conn is a WebSocket connection layered over an arbitrary byte stream
// (a plain TCP conn or a TLS conn). It implements the message-level
// semantics of spec §4.3: transparent ping/pong handling, close
// handshake, and fragmented-message reassembly.
type Conn struct {
	rw     io.ReadWriter
	closed bool
}

// NewConn wraps rw (already connected and, if needed, already upgraded)
// as a WebSocket message conn.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// SendFrame writes a single frame (used by the ndt5 codec, which sends a
// message as two frames: a header frame and a continuation frame).
func (c *Conn) SendFrame(fin bool, opcode Opcode, payload []byte) error {
	return WriteFrame(c.rw, fin, opcode, payload)
}

// SendMessage sends payload as a single unfragmented data message.
func (c *Conn) SendMessage(opcode Opcode, payload []byte) error {
	return c.SendFrame(true, opcode, payload)
}

// RecvMessage reads one complete message, transparently answering pings
// with pongs (carrying the identical payload), discarding pongs, and
// turning a peer-initiated close into io.EOF after replying with our own
// close frame. The returned opcode is always text or binary.
func (c *Conn) RecvMessage() (Opcode, []byte, error) {
	var (
		msgOpcode Opcode
		payload   []byte
		started   bool
	)
	for {
		frame, err := ReadFrame(c.rw)
		if err != nil {
			return 0, nil, err
		}
		switch frame.Opcode {
		case OpPing:
			if err := c.SendFrame(true, OpPong, frame.Payload); err != nil {
				return 0, nil, err
			}
			continue
		case OpPong:
			continue
		case OpClose:
			// Reply with a FIN-flagged close of our own, then report a
			// clean session end.
			_ = c.SendFrame(true, OpClose, nil)
			c.closed = true
			return 0, nil, io.EOF
		case OpText, OpBinary:
			if started {
				return 0, nil, ErrBadMessageStart
			}
			started = true
			msgOpcode = frame.Opcode
			payload = append(payload, frame.Payload...)
			if frame.Fin {
				return msgOpcode, payload, nil
			}
		case OpContinuation:
			if !started {
				return 0, nil, ErrBadContinuation
			}
			payload = append(payload, frame.Payload...)
			if frame.Fin {
				return msgOpcode, payload, nil
			}
		default:
			return 0, nil, ErrUnknownOpcode
		}
	}
}

// Close sends a close frame if one has not already been exchanged, then
// half-closes the underlying stream's write side when the stream has a
// CloseWrite method. It does not fully close the underlying stream;
// callers own that.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if closer, ok := c.rw.(interface{ CloseWrite() error }); ok {
		defer closer.CloseWrite()
	}
	return c.SendFrame(true, OpClose, nil)
}
