package wire

import "encoding/binary"

// ControlFrame is the decoded form of any control-family packet
// (AUTH, AUTH_ACK, DISCONNECT, GROUP_OP, GROUP_STATE, GROUP_LIST,
// SERVER_SHUTDOWN, DISCONNECT_ACK, PLAYER_NAME). Only the fields
// relevant to Type are populated; the rest are zero.
type ControlFrame struct {
	Type byte

	// AUTH
	AuthToken string
	AuthName  string

	// AUTH_ACK
	AckCode       byte // 0 accepted, 1 player-not-found, 2 server-not-ready, 3 invalid-credentials
	AckSampleRate uint32

	// DISCONNECT / DISCONNECT_ACK
	Reason string

	// GROUP_OP
	GroupOp     byte // see GroupOp* constants
	GroupID     [16]byte
	GroupName   string
	MaxMembers  uint32
	Isolated    bool

	// GROUP_STATE / GROUP_LIST entries are variable-length and decoded
	// by the caller from Payload using the length-prefixed field reader,
	// since their shape (member lists) is naturally a repeated group.
	Payload []byte

	// PLAYER_NAME
	StableID [16]byte
	ShortID  uint32
	Name     string
}

// Group operation codes for GROUP_OP packets.
const (
	GroupOpCreate byte = iota
	GroupOpJoin
	GroupOpLeave
	GroupOpUpdateSettings
)

// fieldReader reads length-prefixed UTF-8 fields from a control packet,
// refusing to read past the end of the buffer.
type fieldReader struct {
	buf []byte
	off int
}

func newFieldReader(buf []byte, start int) *fieldReader {
	return &fieldReader{buf: buf, off: start}
}

// u32 reads a 4-byte big-endian unsigned integer.
func (r *fieldReader) u32() (uint32, bool) {
	if r.off+4 > len(r.buf) {
		return 0, false
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, true
}

// u16 reads a 2-byte big-endian unsigned integer.
func (r *fieldReader) u16() (uint16, bool) {
	if r.off+2 > len(r.buf) {
		return 0, false
	}
	v := binary.BigEndian.Uint16(r.buf[r.off : r.off+2])
	r.off += 2
	return v, true
}

// byteN reads n raw bytes.
func (r *fieldReader) byteN(n int) ([]byte, bool) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, false
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, true
}

// str reads a 2-byte length prefix followed by that many UTF-8 bytes.
// The length prefix itself must not read past the buffer, and neither
// may the string body — this is the bounds check the spec requires
// before "every read".
func (r *fieldReader) str() (string, bool) {
	n, ok := r.u16()
	if !ok {
		return "", false
	}
	b, ok := r.byteN(int(n))
	if !ok {
		return "", false
	}
	return string(b), true
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendStr(buf []byte, s string) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(len(s)))
	buf = append(buf, tmp[:]...)
	return append(buf, s...)
}

// DecodeControl decodes any control-family packet. On malformed input
// it returns ErrMalformed and a zero ControlFrame.
func DecodeControl(data []byte) (ControlFrame, error) {
	if len(data) < 1 {
		return ControlFrame{}, ErrMalformed
	}
	typ := data[0]
	r := newFieldReader(data, 1)

	switch typ {
	case TypeAuth:
		name, ok := r.str()
		if !ok {
			return ControlFrame{}, ErrMalformed
		}
		token, ok := r.str()
		if !ok {
			return ControlFrame{}, ErrMalformed
		}
		return ControlFrame{Type: typ, AuthName: name, AuthToken: token}, nil

	case TypeAuthAck:
		if r.off+1 > len(data) {
			return ControlFrame{}, ErrMalformed
		}
		code := data[r.off]
		r.off++
		rate, ok := r.u32()
		if !ok {
			return ControlFrame{}, ErrMalformed
		}
		return ControlFrame{Type: typ, AckCode: code, AckSampleRate: rate}, nil

	case TypeDisconnect, TypeDisconnectAck:
		reason, ok := r.str()
		if !ok {
			return ControlFrame{}, ErrMalformed
		}
		return ControlFrame{Type: typ, Reason: reason}, nil

	case TypeServerShutdown:
		return ControlFrame{Type: typ}, nil

	case TypePlayerName:
		id, ok := r.byteN(16)
		if !ok {
			return ControlFrame{}, ErrMalformed
		}
		short, ok := r.u32()
		if !ok {
			return ControlFrame{}, ErrMalformed
		}
		name, ok := r.str()
		if !ok {
			return ControlFrame{}, ErrMalformed
		}
		var stable [16]byte
		copy(stable[:], id)
		return ControlFrame{Type: typ, StableID: stable, ShortID: short, Name: name}, nil

	case TypeGroupOp:
		if r.off+1 > len(data) {
			return ControlFrame{}, ErrMalformed
		}
		op := data[r.off]
		r.off++
		id, ok := r.byteN(16)
		if !ok {
			return ControlFrame{}, ErrMalformed
		}
		name, ok := r.str()
		if !ok {
			return ControlFrame{}, ErrMalformed
		}
		maxMembers, ok := r.u32()
		if !ok {
			return ControlFrame{}, ErrMalformed
		}
		if r.off+1 > len(data) {
			return ControlFrame{}, ErrMalformed
		}
		isolated := data[r.off] != 0
		r.off++
		var gid [16]byte
		copy(gid[:], id)
		return ControlFrame{
			Type: typ, GroupOp: op, GroupID: gid, GroupName: name,
			MaxMembers: maxMembers, Isolated: isolated,
		}, nil

	case TypeGroupState, TypeGroupList:
		// Variable-length repeated-group payload, kept raw here and
		// decoded by DecodeGroupStatePayload / DecodeGroupListPayload,
		// which read the counts encoded in the payload.
		return ControlFrame{Type: typ, Payload: append([]byte(nil), data[r.off:]...)}, nil

	default:
		return ControlFrame{}, ErrMalformed
	}
}

// EncodeAuth encodes an AUTH packet.
func EncodeAuth(name, token string) []byte {
	buf := []byte{TypeAuth}
	buf = appendStr(buf, name)
	buf = appendStr(buf, token)
	return buf
}

// EncodeAuthAck encodes an AUTH_ACK packet.
func EncodeAuthAck(code byte, sampleRate uint32) []byte {
	buf := []byte{TypeAuthAck, code}
	return appendU32(buf, sampleRate)
}

// EncodeDisconnect encodes a DISCONNECT or DISCONNECT_ACK packet.
func EncodeDisconnect(typ byte, reason string) []byte {
	buf := []byte{typ}
	return appendStr(buf, reason)
}

// EncodePlayerName encodes a PLAYER_NAME announcement.
func EncodePlayerName(stableID [16]byte, shortID uint32, name string) []byte {
	buf := []byte{TypePlayerName}
	buf = append(buf, stableID[:]...)
	buf = appendU32(buf, shortID)
	buf = appendStr(buf, name)
	return buf
}

// GroupSnapshot is the wire shape of one group's membership and
// settings, shared by GROUP_STATE (one group) and GROUP_LIST (many).
type GroupSnapshot struct {
	ID       [16]byte
	Name     string
	Isolated bool
	Members  [][16]byte
}

func appendGroupSnapshot(buf []byte, g GroupSnapshot) []byte {
	buf = append(buf, g.ID[:]...)
	buf = appendStr(buf, g.Name)
	if g.Isolated {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU32(buf, uint32(len(g.Members)))
	for _, m := range g.Members {
		buf = append(buf, m[:]...)
	}
	return buf
}

func (r *fieldReader) groupSnapshot() (GroupSnapshot, bool) {
	id, ok := r.byteN(16)
	if !ok {
		return GroupSnapshot{}, false
	}
	name, ok := r.str()
	if !ok {
		return GroupSnapshot{}, false
	}
	if r.off+1 > len(r.buf) {
		return GroupSnapshot{}, false
	}
	isolated := r.buf[r.off] != 0
	r.off++
	count, ok := r.u32()
	if !ok {
		return GroupSnapshot{}, false
	}
	members := make([][16]byte, count)
	for i := range members {
		b, ok := r.byteN(16)
		if !ok {
			return GroupSnapshot{}, false
		}
		copy(members[i][:], b)
	}
	var gid [16]byte
	copy(gid[:], id)
	return GroupSnapshot{ID: gid, Name: name, Isolated: isolated, Members: members}, true
}

// EncodeGroupState encodes a GROUP_STATE packet describing one group.
func EncodeGroupState(g GroupSnapshot) []byte {
	buf := []byte{TypeGroupState}
	return appendGroupSnapshot(buf, g)
}

// DecodeGroupStatePayload decodes a GROUP_STATE packet's Payload field
// (as captured by DecodeControl) back into a GroupSnapshot.
func DecodeGroupStatePayload(payload []byte) (GroupSnapshot, error) {
	r := newFieldReader(payload, 0)
	g, ok := r.groupSnapshot()
	if !ok {
		return GroupSnapshot{}, ErrMalformed
	}
	return g, nil
}

// EncodeGroupList encodes a GROUP_LIST packet describing every group.
func EncodeGroupList(groups []GroupSnapshot) []byte {
	buf := []byte{TypeGroupList}
	buf = appendU32(buf, uint32(len(groups)))
	for _, g := range groups {
		buf = appendGroupSnapshot(buf, g)
	}
	return buf
}

// DecodeGroupListPayload decodes a GROUP_LIST packet's Payload field
// back into the list of GroupSnapshot values.
func DecodeGroupListPayload(payload []byte) ([]GroupSnapshot, error) {
	r := newFieldReader(payload, 0)
	count, ok := r.u32()
	if !ok {
		return nil, ErrMalformed
	}
	out := make([]GroupSnapshot, count)
	for i := range out {
		g, ok := r.groupSnapshot()
		if !ok {
			return nil, ErrMalformed
		}
		out[i] = g
	}
	return out, nil
}

// EncodeGroupOp encodes a GROUP_OP request.
func EncodeGroupOp(op byte, groupID [16]byte, name string, maxMembers uint32, isolated bool) []byte {
	buf := []byte{TypeGroupOp, op}
	buf = append(buf, groupID[:]...)
	buf = appendStr(buf, name)
	buf = appendU32(buf, maxMembers)
	if isolated {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}
