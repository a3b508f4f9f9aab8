// Package speedd implements the SPEEDD client/server binary frame protocol
// (§4.1): fixed one-byte tags, big-endian integers, length-prefixed strings.
//
// Decoding is incremental: Decoder accumulates bytes written to it via Write
// and Decode reports ErrShortBuffer ("need more bytes") without consuming
// input until a complete frame is buffered, mirroring the accumulate-then-
// decode shape of the teacher's serial.Codec.DecodeStream, adapted from a
// byte-preamble-scanning design to a tag-anchored one: there is no garbage to
// resync past, so an unrecognized tag is always fatal.
package speedd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Client→server tags.
const (
	TagPlate         byte = 0x20
	TagWantHeartbeat byte = 0x40
	TagIAmCamera     byte = 0x80
	TagIAmDispatcher byte = 0x81
)

// Server→client tags.
const (
	TagError     byte = 0x10
	TagTicket    byte = 0x21
	TagHeartbeat byte = 0x41
)

// ErrShortBuffer signals that a full frame is not yet buffered. Callers
// should Write more bytes and retry.
var ErrShortBuffer = errors.New("speedd: need more bytes")

// ErrUnknownTag signals a fatal protocol error: an unrecognized tag byte.
// Per §4.1, the connection must be closed after a best-effort Error frame.
type ErrUnknownTag struct{ Tag byte }

func (e *ErrUnknownTag) Error() string { return fmt.Sprintf("speedd: unknown frame tag 0x%02x", e.Tag) }

// ClientFrame is the sum type of client→server frames. Exactly one of the
// Is* predicates below distinguishes the variant; the irrelevant fields on
// other variants are zero.
type ClientFrame struct {
	Tag byte

	// TagPlate
	Plate     string
	Timestamp uint32

	// TagWantHeartbeat
	Interval uint32 // deciseconds

	// TagIAmCamera
	Camera Camera

	// TagIAmDispatcher
	Roads []uint16
}

// Camera mirrors model.Camera without importing internal/model, keeping the
// wire package free of a dependency on collector-side types.
type Camera struct {
	Road  uint16
	Mile  uint16
	Limit uint16
}

func (f *ClientFrame) IsPlate() bool         { return f.Tag == TagPlate }
func (f *ClientFrame) IsWantHeartbeat() bool { return f.Tag == TagWantHeartbeat }
func (f *ClientFrame) IsIAmCamera() bool     { return f.Tag == TagIAmCamera }
func (f *ClientFrame) IsIAmDispatcher() bool { return f.Tag == TagIAmDispatcher }

// Decoder incrementally decodes client frames from a byte stream.
type Decoder struct {
	buf bytes.Buffer
}

// NewDecoder returns an empty incremental decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Write appends newly-read bytes to the decoder's accumulator.
func (d *Decoder) Write(p []byte) { d.buf.Write(p) }

// Decode attempts to decode one complete client frame from the accumulator.
// It returns ErrShortBuffer if not enough bytes are buffered yet (input is
// left untouched so a subsequent Write+Decode can retry), or an
// *ErrUnknownTag / other error on a malformed frame.
func (d *Decoder) Decode() (*ClientFrame, error) {
	data := d.buf.Bytes()
	if len(data) < 1 {
		return nil, ErrShortBuffer
	}
	tag := data[0]
	switch tag {
	case TagPlate:
		return d.decodePlate(data)
	case TagWantHeartbeat:
		return d.decodeWantHeartbeat(data)
	case TagIAmCamera:
		return d.decodeIAmCamera(data)
	case TagIAmDispatcher:
		return d.decodeIAmDispatcher(data)
	default:
		return nil, &ErrUnknownTag{Tag: tag}
	}
}

// readString parses a length-prefixed string starting at data[1:] (data[0]
// is the frame tag already consumed by the caller's switch). Returns the
// string, the number of bytes consumed from data (including the tag byte),
// and ErrShortBuffer if incomplete.
func readString(data []byte, off int) (string, int, error) {
	if len(data) < off+1 {
		return "", 0, ErrShortBuffer
	}
	n := int(data[off])
	end := off + 1 + n
	if len(data) < end {
		return "", 0, ErrShortBuffer
	}
	return string(data[off+1 : end]), end, nil
}

func (d *Decoder) decodePlate(data []byte) (*ClientFrame, error) {
	plate, off, err := readString(data, 1)
	if err != nil {
		return nil, err
	}
	if len(data) < off+4 {
		return nil, ErrShortBuffer
	}
	ts := binary.BigEndian.Uint32(data[off : off+4])
	total := off + 4
	d.buf.Next(total)
	return &ClientFrame{Tag: TagPlate, Plate: plate, Timestamp: ts}, nil
}

func (d *Decoder) decodeWantHeartbeat(data []byte) (*ClientFrame, error) {
	if len(data) < 5 {
		return nil, ErrShortBuffer
	}
	interval := binary.BigEndian.Uint32(data[1:5])
	d.buf.Next(5)
	return &ClientFrame{Tag: TagWantHeartbeat, Interval: interval}, nil
}

func (d *Decoder) decodeIAmCamera(data []byte) (*ClientFrame, error) {
	if len(data) < 7 {
		return nil, ErrShortBuffer
	}
	road := binary.BigEndian.Uint16(data[1:3])
	mile := binary.BigEndian.Uint16(data[3:5])
	limit := binary.BigEndian.Uint16(data[5:7])
	d.buf.Next(7)
	return &ClientFrame{Tag: TagIAmCamera, Camera: Camera{Road: road, Mile: mile, Limit: limit}}, nil
}

func (d *Decoder) decodeIAmDispatcher(data []byte) (*ClientFrame, error) {
	if len(data) < 2 {
		return nil, ErrShortBuffer
	}
	numRoads := int(data[1])
	total := 2 + numRoads*2
	if len(data) < total {
		return nil, ErrShortBuffer
	}
	roads := make([]uint16, numRoads)
	for i := 0; i < numRoads; i++ {
		roads[i] = binary.BigEndian.Uint16(data[2+i*2 : 4+i*2])
	}
	d.buf.Next(total)
	return &ClientFrame{Tag: TagIAmDispatcher, Roads: roads}, nil
}

// EncodeError writes a server→client Error frame.
func EncodeError(buf *bytes.Buffer, msg string) {
	writeString(buf, TagError, msg)
}

// EncodeTicket writes a server→client Ticket frame.
func EncodeTicket(buf *bytes.Buffer, plate string, road, mile1 uint16, ts1 uint32, mile2 uint16, ts2 uint32, speed uint16) {
	buf.WriteByte(TagTicket)
	writeLenPrefixed(buf, plate)
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], road)
	buf.Write(tmp[:])
	binary.BigEndian.PutUint16(tmp[:], mile1)
	buf.Write(tmp[:])
	writeUint32(buf, ts1)
	binary.BigEndian.PutUint16(tmp[:], mile2)
	buf.Write(tmp[:])
	writeUint32(buf, ts2)
	binary.BigEndian.PutUint16(tmp[:], speed)
	buf.Write(tmp[:])
}

// EncodeHeartbeat writes a server→client Heartbeat frame (no payload).
func EncodeHeartbeat(buf *bytes.Buffer) {
	buf.WriteByte(TagHeartbeat)
}

func writeString(buf *bytes.Buffer, tag byte, s string) {
	buf.WriteByte(tag)
	writeLenPrefixed(buf, s)
}

func writeLenPrefixed(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}
