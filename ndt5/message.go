package ndt5

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bassosimone/libndt/internal/wsframe"
)

// MsgType is an ndt5 message type, the first byte of the 3-byte header.
type MsgType byte

// Message types, per spec §6.
const (
	MsgCommFailure    MsgType = 0
	MsgSrvQueue       MsgType = 1
	MsgLogin          MsgType = 2
	MsgTestPrepare    MsgType = 3
	MsgTestStart      MsgType = 4
	MsgTestMsg        MsgType = 5
	MsgTestFinalize   MsgType = 6
	MsgError          MsgType = 7
	MsgResults        MsgType = 8
	MsgLogout         MsgType = 9
	MsgWaiting        MsgType = 10
	MsgExtendedLogin  MsgType = 11
)

// kickoffLiteral is the 13-byte literal the server sends right after
// login when WebSocket framing is not in use.
const kickoffLiteral = "123456 654321"

// Message is one decoded ndt5 protocol message.
type Message struct {
	Type MsgType
	Body []byte
}

var (
	ErrBodyTooLarge    = errors.New("ndt5: message body exceeds 65535 bytes")
	ErrShortMessage    = errors.New("ndt5: websocket message shorter than the 3-byte header")
	ErrWrongOpcode     = errors.New("ndt5: websocket message was not a binary frame")
	ErrMissingMsgField = errors.New("ndt5: JSON envelope missing the \"msg\" field")
)

// jsonEnvelope is the {"msg": "..."} wire wrapper used when Config.JSON is
// set.
type jsonEnvelope struct {
	Msg string `json:"msg"`
}

// codec reads and writes ndt5 messages over either a raw stream or a
// WebSocket-framed one, and optionally wraps bodies in the JSON envelope.
// It is the only place C4's framing rules live; the driver never touches
// the header bytes directly.
type codec struct {
	raw  io.ReadWriter
	ws   *wsframe.Conn
	json bool
}

func newCodec(raw io.ReadWriter, ws *wsframe.Conn, jsonMode bool) *codec {
	return &codec{raw: raw, ws: ws, json: jsonMode}
}

// writeMessage encodes and sends one message, per spec §4.4.
func (c *codec) writeMessage(typ MsgType, body []byte) error {
	if c.json {
		envelope, err := json.Marshal(jsonEnvelope{Msg: string(body)})
		if err != nil {
			return err
		}
		body = envelope
	}
	if len(body) > 0xFFFF {
		return ErrBodyTooLarge
	}
	header := [3]byte{byte(typ)}
	binary.BigEndian.PutUint16(header[1:], uint16(len(body)))

	if c.ws != nil {
		fin := len(body) == 0
		if err := c.ws.SendFrame(fin, wsframe.OpBinary, header[:]); err != nil {
			return err
		}
		if !fin {
			if err := c.ws.SendFrame(true, wsframe.OpContinuation, body); err != nil {
				return err
			}
		}
		return nil
	}
	if _, err := c.raw.Write(header[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := c.raw.Write(body)
	return err
}

// writeLogin sends the login message, choosing the non-JSON (type=2, raw
// flag byte) or extended-JSON (type=11) encoding per Config.JSON.
func (c *codec) writeLogin(subtests SubtestFlags) error {
	if !c.json {
		return c.writeMessage(MsgLogin, []byte{byte(subtests)})
	}
	envelope := struct {
		Msg   string `json:"msg"`
		Tests string `json:"tests"`
	}{
		Msg:   "",
		Tests: fmt.Sprintf("%d", subtests),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return c.writeRawFramed(MsgExtendedLogin, body)
}

// writeRawFramed bypasses the JSON-envelope wrapping in writeMessage
// (the extended login already built its own JSON body).
func (c *codec) writeRawFramed(typ MsgType, body []byte) error {
	if len(body) > 0xFFFF {
		return ErrBodyTooLarge
	}
	header := [3]byte{byte(typ)}
	binary.BigEndian.PutUint16(header[1:], uint16(len(body)))
	if c.ws != nil {
		fin := len(body) == 0
		if err := c.ws.SendFrame(fin, wsframe.OpBinary, header[:]); err != nil {
			return err
		}
		if !fin {
			return c.ws.SendFrame(true, wsframe.OpContinuation, body)
		}
		return nil
	}
	if _, err := c.raw.Write(header[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := c.raw.Write(body)
	return err
}

// readMessage receives and decodes one message, per spec §4.4.
func (c *codec) readMessage() (Message, error) {
	var typ MsgType
	var body []byte

	if c.ws != nil {
		opcode, payload, err := c.ws.RecvMessage()
		if err != nil {
			return Message{}, err
		}
		if opcode != wsframe.OpBinary {
			return Message{}, ErrWrongOpcode
		}
		if len(payload) < 3 {
			return Message{}, ErrShortMessage
		}
		typ = MsgType(payload[0])
		length := binary.BigEndian.Uint16(payload[1:3])
		if int(length) > len(payload)-3 {
			return Message{}, ErrShortMessage
		}
		body = payload[3 : 3+length]
	} else {
		var header [3]byte
		if _, err := io.ReadFull(c.raw, header[:]); err != nil {
			return Message{}, err
		}
		typ = MsgType(header[0])
		length := binary.BigEndian.Uint16(header[1:])
		body = make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(c.raw, body); err != nil {
				return Message{}, err
			}
		}
	}

	if c.json {
		var envelope jsonEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return Message{}, err
		}
		body = []byte(envelope.Msg)
	}
	return Message{Type: typ, Body: body}, nil
}

// readKickoff reads and verifies the fixed 13-byte literal the server
// sends after login on non-WebSocket connections.
func readKickoff(r io.Reader) error {
	buf := make([]byte, len(kickoffLiteral))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if string(buf) != kickoffLiteral {
		return fmt.Errorf("ndt5: unexpected kickoff literal %q", buf)
	}
	return nil
}
