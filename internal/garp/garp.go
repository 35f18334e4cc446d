// Package garp implements b1b's gratuitous ARP emitter (spec.md C6): raw
// Ethernet/ARP frame construction and transmission on AF_PACKET/SOCK_RAW
// sockets, one frame per (VLAN, MAC) destination.
package garp

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	ethPARP    = 0x0806
	ethP8021Q  = 0x8100
	ethPIP     = 0x0800
	arphrdETH  = 1
	arpopReply = 2
	ethALen    = 6
)

var broadcastMAC = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
var zeroMAC = [6]byte{}

// Socket is a raw packet socket used to transmit gratuitous ARP frames.
// It is bound to no interface; the destination interface is chosen
// per-send via the ifindex in the socket address.
type Socket struct {
	fd int
}

// Open creates an AF_PACKET/SOCK_RAW socket.
func Open() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, 0)
	if err != nil {
		return nil, fmt.Errorf("garp: open raw packet socket: %w", err)
	}
	return &Socket{fd: fd}, nil
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	if err := unix.Close(s.fd); err != nil {
		return fmt.Errorf("garp: close raw packet socket: %w", err)
	}
	return nil
}

// Send transmits one gratuitous ARP reply announcing mac on ifindex,
// tagged with vlan (0 means untagged). Failures here are transient per
// spec.md §7 and must be logged by the caller, not treated as fatal.
func (s *Socket) Send(ifindex int32, vlan uint16, mac [6]byte) error {
	frame := buildFrame(vlan, mac)

	sa := unix.SockaddrLinklayer{
		Ifindex: int(ifindex),
		Halen:   ethALen,
	}
	copy(sa.Addr[:], broadcastMAC[:])

	if err := unix.Sendto(s.fd, frame, 0, &sa); err != nil {
		return fmt.Errorf("garp: send to ifindex %d: %w", ifindex, err)
	}
	return nil
}

// buildFrame constructs a gratuitous ARP reply frame per spec.md §4.6: 42
// bytes untagged, or 46 with an 802.1Q header inserted after the
// Ethernet addresses when vlan != 0. All multi-byte fields are big-endian.
func buildFrame(vlan uint16, mac [6]byte) []byte {
	size := 42
	if vlan != 0 {
		size = 46
	}
	b := make([]byte, size)

	copy(b[0:6], broadcastMAC[:])
	copy(b[6:12], mac[:])

	off := 12
	if vlan != 0 {
		binary.BigEndian.PutUint16(b[off:off+2], ethP8021Q)
		binary.BigEndian.PutUint16(b[off+2:off+4], vlan&0x0fff)
		off += 4
	}

	binary.BigEndian.PutUint16(b[off:off+2], ethPARP)
	binary.BigEndian.PutUint16(b[off+2:off+4], arphrdETH)
	binary.BigEndian.PutUint16(b[off+4:off+6], ethPIP)
	b[off+6] = ethALen
	b[off+7] = 4
	binary.BigEndian.PutUint16(b[off+8:off+10], arpopReply)
	copy(b[off+10:off+16], mac[:])       // sender hardware address
	copy(b[off+16:off+20], []byte{0, 0, 0, 0}) // sender protocol address
	copy(b[off+20:off+26], zeroMAC[:])   // target hardware address
	copy(b[off+26:off+30], []byte{0, 0, 0, 0}) // target protocol address

	return b
}
