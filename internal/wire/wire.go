// Package wire implements the binary packet formats exchanged on the
// media wire: the control family (fixed header plus length-prefixed
// UTF-8 fields) and the media family (fixed header plus opaque
// payload plus an optional position triple).
//
// Every multi-byte integer is big-endian. Bounds checks precede every
// read; a malformed packet never yields partial decoded state — it
// yields the single Malformed outcome.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// Packet type prefixes (byte 0 of every datagram).
const (
	TypeAuth            byte = 0x01
	TypeAudio           byte = 0x02
	TypeAuthAck         byte = 0x03
	TypeDisconnect      byte = 0x04
	TypeTestAudio       byte = 0x05
	TypeGroupOp         byte = 0x06
	TypeGroupState      byte = 0x07
	TypeGroupList       byte = 0x08
	TypeServerShutdown  byte = 0x09
	TypeDisconnectAck   byte = 0x0A
	TypePlayerName      byte = 0x0B
)

// Codec tags carried in the media header's low 7 bits.
const (
	CodecPCM  byte = 0x00
	CodecOpus byte = 0x01

	positionPresentFlag byte = 0x80
	codecMask           byte = 0x7F
)

// Header sizes for the media family.
const (
	shortHeaderSize  = 14 // type, codecTag, shortID(4), seq(4), len(4)
	legacyHeaderSize = 26 // type, codecTag, fullID(16), seq(4), len(4)
	positionSize     = 12 // x, y, z as float32
)

// ErrMalformed is returned whenever a packet fails
// a bounds or length-consistency check. Callers should treat any error
// from this package identically: drop the packet, count it, never panic.
var ErrMalformed = errors.New("wire: malformed packet")

// Kind discriminates a decoded packet's family. It exists so callers
// never need to probe fields dynamically — the zero value (KindInvalid)
// never appears in a decode result returned without an error.
type Kind int

const (
	KindInvalid Kind = iota
	KindMedia
	KindControl
)

// MediaFrame is the decoded form of an AUDIO or TEST_AUDIO packet.
type MediaFrame struct {
	Type       byte // TypeAudio or TypeTestAudio
	Codec      byte // CodecPCM or CodecOpus
	ShortID    uint32
	FullID     [16]byte // populated only when Legacy is true
	Legacy     bool     // true if the packet used the full 128-bit id form
	Seq        uint32
	Payload    []byte
	HasPos     bool
	X, Y, Z    float32
}

// EncodeMedia writes the short-id form of a media frame. The encoder
// MUST emit this form for any peer that has been announced via
// PLAYER_NAME; legacy encoding is EncodeMediaLegacy.
func EncodeMedia(f MediaFrame) []byte {
	size := shortHeaderSize + len(f.Payload)
	if f.HasPos {
		size += positionSize
	}
	buf := make([]byte, size)
	buf[0] = f.Type
	buf[1] = encodeCodecTag(f.Codec, f.HasPos)
	binary.BigEndian.PutUint32(buf[2:6], f.ShortID)
	binary.BigEndian.PutUint32(buf[6:10], f.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(f.Payload)))
	off := shortHeaderSize
	off += copy(buf[off:], f.Payload)
	if f.HasPos {
		putPosition(buf[off:], f.X, f.Y, f.Z)
	}
	return buf
}

// EncodeMediaLegacy writes the full 128-bit sender-id form, used only
// for peers that have not yet received a PLAYER_NAME mapping.
func EncodeMediaLegacy(f MediaFrame) []byte {
	size := legacyHeaderSize + len(f.Payload)
	if f.HasPos {
		size += positionSize
	}
	buf := make([]byte, size)
	buf[0] = f.Type
	buf[1] = encodeCodecTag(f.Codec, f.HasPos)
	copy(buf[2:18], f.FullID[:])
	binary.BigEndian.PutUint32(buf[18:22], f.Seq)
	binary.BigEndian.PutUint32(buf[22:26], uint32(len(f.Payload)))
	off := legacyHeaderSize
	off += copy(buf[off:], f.Payload)
	if f.HasPos {
		putPosition(buf[off:], f.X, f.Y, f.Z)
	}
	return buf
}

func encodeCodecTag(codec byte, hasPos bool) byte {
	tag := codec & codecMask
	if hasPos {
		tag |= positionPresentFlag
	}
	return tag
}

func putPosition(buf []byte, x, y, z float32) {
	binary.BigEndian.PutUint32(buf[0:4], math.Float32bits(x))
	binary.BigEndian.PutUint32(buf[4:8], math.Float32bits(y))
	binary.BigEndian.PutUint32(buf[8:12], math.Float32bits(z))
}

func getPosition(buf []byte) (x, y, z float32) {
	x = math.Float32frombits(binary.BigEndian.Uint32(buf[0:4]))
	y = math.Float32frombits(binary.BigEndian.Uint32(buf[4:8]))
	z = math.Float32frombits(binary.BigEndian.Uint32(buf[8:12]))
	return
}

// DecodeMedia decodes an AUDIO or TEST_AUDIO packet, accepting both the
// short-id and legacy full-id header forms. Bounds checks precede every
// read; on any malformed input it returns ErrMalformed and a zero
// MediaFrame — never a partially populated one.
func DecodeMedia(data []byte) (MediaFrame, error) {
	if len(data) < 2 {
		return MediaFrame{}, ErrMalformed
	}
	typ := data[0]
	if typ != TypeAudio && typ != TypeTestAudio {
		return MediaFrame{}, ErrMalformed
	}
	tag := data[1]
	hasPos := tag&positionPresentFlag != 0
	codec := tag & codecMask

	// Distinguish short vs legacy header purely by whether the declared
	// length is consistent with the packet size under each hypothesis;
	// the short form is tried first since it's the common case.
	if f, err := decodeMediaHeader(data, typ, codec, hasPos, shortHeaderSize, false); err == nil {
		return f, nil
	}
	return decodeMediaHeader(data, typ, codec, hasPos, legacyHeaderSize, true)
}

func decodeMediaHeader(data []byte, typ, codec byte, hasPos bool, headerSize int, legacy bool) (MediaFrame, error) {
	if len(data) < headerSize {
		return MediaFrame{}, ErrMalformed
	}

	var shortID uint32
	var fullID [16]byte
	var seq, length uint32

	if legacy {
		copy(fullID[:], data[2:18])
		seq = binary.BigEndian.Uint32(data[18:22])
		length = binary.BigEndian.Uint32(data[22:26])
	} else {
		shortID = binary.BigEndian.Uint32(data[2:6])
		seq = binary.BigEndian.Uint32(data[6:10])
		length = binary.BigEndian.Uint32(data[10:14])
	}

	// Bounds check: the declared payload length plus the optional
	// trailing position triple must exactly consume the remaining bytes.
	want := headerSize + int(length)
	if hasPos {
		want += positionSize
	}
	if length > uint32(len(data)) || want != len(data) {
		return MediaFrame{}, ErrMalformed
	}

	payload := make([]byte, length)
	copy(payload, data[headerSize:headerSize+int(length)])

	f := MediaFrame{
		Type:    typ,
		Codec:   codec,
		ShortID: shortID,
		FullID:  fullID,
		Legacy:  legacy,
		Seq:     seq,
		Payload: payload,
		HasPos:  hasPos,
	}
	if hasPos {
		f.X, f.Y, f.Z = getPosition(data[headerSize+int(length):])
	}
	return f, nil
}

// SeqLess reports whether a comes strictly before b in the circular
// 32-bit sequence space, per spec's modulo-2^31 comparison.
func SeqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// DecodeResult is the tagged-union outcome of Decode: exactly one of
// Media or Control is populated, according to Kind. Callers switch on
// Kind rather than probing which field is non-zero.
type DecodeResult struct {
	Kind    Kind
	Media   MediaFrame
	Control ControlFrame
}

// Decode dispatches a raw packet to DecodeMedia or DecodeControl by its
// type prefix and wraps the result as a single tagged union, so the
// routing engine has one entry point instead of guessing which decoder
// to call. A malformed packet never sets Kind to anything but
// KindInvalid alongside ErrMalformed.
func Decode(data []byte) (DecodeResult, error) {
	if len(data) < 1 {
		return DecodeResult{}, ErrMalformed
	}
	switch data[0] {
	case TypeAudio, TypeTestAudio:
		f, err := DecodeMedia(data)
		if err != nil {
			return DecodeResult{}, err
		}
		return DecodeResult{Kind: KindMedia, Media: f}, nil
	default:
		f, err := DecodeControl(data)
		if err != nil {
			return DecodeResult{}, err
		}
		return DecodeResult{Kind: KindControl, Control: f}, nil
	}
}
