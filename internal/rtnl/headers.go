package rtnl

import "encoding/binary"

// ifinfomsg is the 16-byte fixed header carried by RTM_{NEW,GET}LINK
// messages (linux/rtnetlink.h), followed by a TLV attribute stream.
type ifinfomsg struct {
	Family uint8
	_      uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

const ifinfomsgLen = 16

func packIfinfomsg(h ifinfomsg) []byte {
	b := make([]byte, ifinfomsgLen)
	b[0] = h.Family
	binary.NativeEndian.PutUint16(b[2:4], h.Type)
	binary.NativeEndian.PutUint32(b[4:8], uint32(h.Index))
	binary.NativeEndian.PutUint32(b[8:12], h.Flags)
	binary.NativeEndian.PutUint32(b[12:16], h.Change)
	return b
}

func unpackIfinfomsg(b []byte) (ifinfomsg, []byte, bool) {
	if len(b) < ifinfomsgLen {
		return ifinfomsg{}, nil, false
	}
	h := ifinfomsg{
		Family: b[0],
		Type:   binary.NativeEndian.Uint16(b[2:4]),
		Index:  int32(binary.NativeEndian.Uint32(b[4:8])),
		Flags:  binary.NativeEndian.Uint32(b[8:12]),
		Change: binary.NativeEndian.Uint32(b[12:16]),
	}
	return h, b[ifinfomsgLen:], true
}

// ndmsg is the 12-byte fixed header carried by RTM_{NEW,GET}NEIGH messages
// (linux/neighbour.h), followed by a TLV attribute stream.
type ndmsg struct {
	Family  uint8
	_       uint8
	_       uint16
	Ifindex int32
	State   uint16
	Flags   uint8
	NdmType uint8
}

const ndmsgLen = 12

func packNdmsg(h ndmsg) []byte {
	b := make([]byte, ndmsgLen)
	b[0] = h.Family
	binary.NativeEndian.PutUint32(b[4:8], uint32(h.Ifindex))
	binary.NativeEndian.PutUint16(b[8:10], h.State)
	b[10] = h.Flags
	b[11] = h.NdmType
	return b
}

func unpackNdmsg(b []byte) (ndmsg, []byte, bool) {
	if len(b) < ndmsgLen {
		return ndmsg{}, nil, false
	}
	h := ndmsg{
		Family:  b[0],
		Ifindex: int32(binary.NativeEndian.Uint32(b[4:8])),
		State:   binary.NativeEndian.Uint16(b[8:10]),
		Flags:   b[10],
		NdmType: b[11],
	}
	return h, b[ndmsgLen:], true
}
