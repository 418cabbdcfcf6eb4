package swim

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire-level variant tags. Declared once and shared across Request,
// Response and Gossip so each sum type's encoding is tag(u32) + fields, in
// declaration order, little-endian.
const (
	tagRequestJoin uint32 = iota
	tagRequestPing
	tagRequestPingReq
	tagRequestQuery
)

const (
	tagResponseJoin uint32 = iota
	tagResponseAck
	tagResponseRespond
)

const (
	tagGossipJoin uint32 = iota
	tagGossipAlive
	tagGossipSuspect
	tagGossipConfirm
)

// Request is the sum type sent client to server.
type Request struct {
	tag uint32

	// Join: Addr. Ping: Addr, Gossip. PingReq: Addr (requester), Suspect.
	// Query: Addr, Color.
	Addr    Address
	Gossip  []Gossip
	Suspect Address
	Color   Color
}

func RequestJoin(addr Address) Request { return Request{tag: tagRequestJoin, Addr: addr} }

func RequestPing(addr Address, gossip []Gossip) Request {
	return Request{tag: tagRequestPing, Addr: addr, Gossip: gossip}
}

func RequestPingReq(requester, suspect Address) Request {
	return Request{tag: tagRequestPingReq, Addr: requester, Suspect: suspect}
}

func RequestQuery(addr Address, col Color) Request {
	return Request{tag: tagRequestQuery, Addr: addr, Color: col}
}

func (r Request) IsJoin() bool    { return r.tag == tagRequestJoin }
func (r Request) IsPing() bool    { return r.tag == tagRequestPing }
func (r Request) IsPingReq() bool { return r.tag == tagRequestPingReq }
func (r Request) IsQuery() bool   { return r.tag == tagRequestQuery }

// Response is the sum type sent server to client.
type Response struct {
	tag uint32

	Addr   Address  // Join
	Gossip []Gossip // Ack
	Color  Color    // Respond
}

func ResponseJoin(addr Address) Response   { return Response{tag: tagResponseJoin, Addr: addr} }
func ResponseAck(gossip []Gossip) Response { return Response{tag: tagResponseAck, Gossip: gossip} }
func ResponseRespond(col Color) Response   { return Response{tag: tagResponseRespond, Color: col} }

func (r Response) IsJoin() bool    { return r.tag == tagResponseJoin }
func (r Response) IsAck() bool     { return r.tag == tagResponseAck }
func (r Response) IsRespond() bool { return r.tag == tagResponseRespond }

// --- Gossip encoding -------------------------------------------------

func encodeGossip(buf *encodeBuffer, g Gossip) {
	switch g.Tag {
	case GossipJoin:
		buf.putU32(tagGossipJoin)
	case GossipAlive:
		buf.putU32(tagGossipAlive)
	case GossipSuspect:
		buf.putU32(tagGossipSuspect)
	case GossipConfirm:
		buf.putU32(tagGossipConfirm)
	default:
		panic(fmt.Sprintf("swim: unknown gossip tag %d", g.Tag))
	}
	buf.putAddress(g.Addr)
}

func decodeGossip(buf *decodeBuffer) (Gossip, error) {
	tag, err := buf.getU32()
	if err != nil {
		return Gossip{}, err
	}
	addr, err := buf.getAddress()
	if err != nil {
		return Gossip{}, err
	}
	switch tag {
	case tagGossipJoin:
		return GossipJoinOf(addr), nil
	case tagGossipAlive:
		return GossipAliveOf(addr), nil
	case tagGossipSuspect:
		return GossipSuspectOf(addr), nil
	case tagGossipConfirm:
		return GossipConfirmOf(addr), nil
	default:
		return Gossip{}, fmt.Errorf("swim: decode gossip: unknown tag %d", tag)
	}
}

// --- Request/Response encoding ----------------------------------------

// EncodeRequest serializes r per the fixed little-endian, tag-prefixed
// scheme.
func EncodeRequest(r Request) []byte {
	buf := &encodeBuffer{}
	buf.putU32(r.tag)
	switch r.tag {
	case tagRequestJoin:
		buf.putAddress(r.Addr)
	case tagRequestPing:
		buf.putAddress(r.Addr)
		buf.putGossipSlice(r.Gossip)
	case tagRequestPingReq:
		buf.putAddress(r.Addr)
		buf.putAddress(r.Suspect)
	case tagRequestQuery:
		buf.putAddress(r.Addr)
		buf.putColor(r.Color)
	default:
		panic(fmt.Sprintf("swim: unknown request tag %d", r.tag))
	}
	return buf.bytes
}

// DecodeRequest deserializes a Request from its wire encoding.
func DecodeRequest(data []byte) (Request, error) {
	buf := &decodeBuffer{data: data}
	tag, err := buf.getU32()
	if err != nil {
		return Request{}, err
	}
	switch tag {
	case tagRequestJoin:
		addr, err := buf.getAddress()
		if err != nil {
			return Request{}, err
		}
		return RequestJoin(addr), nil
	case tagRequestPing:
		addr, err := buf.getAddress()
		if err != nil {
			return Request{}, err
		}
		gossip, err := buf.getGossipSlice()
		if err != nil {
			return Request{}, err
		}
		return RequestPing(addr, gossip), nil
	case tagRequestPingReq:
		requester, err := buf.getAddress()
		if err != nil {
			return Request{}, err
		}
		suspect, err := buf.getAddress()
		if err != nil {
			return Request{}, err
		}
		return RequestPingReq(requester, suspect), nil
	case tagRequestQuery:
		addr, err := buf.getAddress()
		if err != nil {
			return Request{}, err
		}
		col, err := buf.getColor()
		if err != nil {
			return Request{}, err
		}
		return RequestQuery(addr, col), nil
	default:
		return Request{}, fmt.Errorf("swim: decode request: unknown tag %d", tag)
	}
}

// EncodeResponse serializes r per the fixed wire scheme.
func EncodeResponse(r Response) []byte {
	buf := &encodeBuffer{}
	buf.putU32(r.tag)
	switch r.tag {
	case tagResponseJoin:
		buf.putAddress(r.Addr)
	case tagResponseAck:
		buf.putGossipSlice(r.Gossip)
	case tagResponseRespond:
		buf.putColor(r.Color)
	default:
		panic(fmt.Sprintf("swim: unknown response tag %d", r.tag))
	}
	return buf.bytes
}

// DecodeResponse deserializes a Response from its wire encoding.
func DecodeResponse(data []byte) (Response, error) {
	buf := &decodeBuffer{data: data}
	tag, err := buf.getU32()
	if err != nil {
		return Response{}, err
	}
	switch tag {
	case tagResponseJoin:
		addr, err := buf.getAddress()
		if err != nil {
			return Response{}, err
		}
		return ResponseJoin(addr), nil
	case tagResponseAck:
		gossip, err := buf.getGossipSlice()
		if err != nil {
			return Response{}, err
		}
		return ResponseAck(gossip), nil
	case tagResponseRespond:
		col, err := buf.getColor()
		if err != nil {
			return Response{}, err
		}
		return ResponseRespond(col), nil
	default:
		return Response{}, fmt.Errorf("swim: decode response: unknown tag %d", tag)
	}
}

// --- low-level buffer helpers ------------------------------------------

type encodeBuffer struct {
	bytes []byte
}

func (b *encodeBuffer) putU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.bytes = append(b.bytes, tmp[:]...)
}

func (b *encodeBuffer) putU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.bytes = append(b.bytes, tmp[:]...)
}

func (b *encodeBuffer) putString(s string) {
	b.putU64(uint64(len(s)))
	b.bytes = append(b.bytes, s...)
}

func (b *encodeBuffer) putAddress(a Address) {
	b.putString(a.String())
}

func (b *encodeBuffer) putColor(c Color) {
	b.putU32(uint32(c))
}

func (b *encodeBuffer) putGossipSlice(gs []Gossip) {
	b.putU64(uint64(len(gs)))
	for _, g := range gs {
		encodeGossip(b, g)
	}
}

type decodeBuffer struct {
	data []byte
	pos  int
}

func (b *decodeBuffer) getU32() (uint32, error) {
	if len(b.data)-b.pos < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *decodeBuffer) getU64() (uint64, error) {
	if len(b.data)-b.pos < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint64(b.data[b.pos:])
	b.pos += 8
	return v, nil
}

func (b *decodeBuffer) getString() (string, error) {
	n, err := b.getU64()
	if err != nil {
		return "", err
	}
	if uint64(len(b.data)-b.pos) < n {
		return "", io.ErrUnexpectedEOF
	}
	s := string(b.data[b.pos : b.pos+int(n)])
	b.pos += int(n)
	return s, nil
}

func (b *decodeBuffer) getAddress() (Address, error) {
	s, err := b.getString()
	if err != nil {
		return Address{}, err
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return Address{}, fmt.Errorf("swim: decode address: %w", err)
	}
	return addr, nil
}

func (b *decodeBuffer) getColor() (Color, error) {
	v, err := b.getU32()
	if err != nil {
		return Undecided, err
	}
	if v > uint32(Blue) {
		return Undecided, fmt.Errorf("swim: decode color: invalid value %d", v)
	}
	return Color(v), nil
}

func (b *decodeBuffer) getGossipSlice() ([]Gossip, error) {
	n, err := b.getU64()
	if err != nil {
		return nil, err
	}
	// A gossip item is at least 12 bytes (u32 tag + u64 address-string
	// length); cap the preallocation so a forged huge count can't be
	// used to force a large allocation before the length is checked
	// against the data actually on the wire.
	const minGossipSize = 12
	capHint := n
	if remaining := uint64(len(b.data) - b.pos); capHint > remaining/minGossipSize {
		capHint = remaining / minGossipSize
	}
	out := make([]Gossip, 0, capHint)
	for i := uint64(0); i < n; i++ {
		g, err := decodeGossip(b)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}
