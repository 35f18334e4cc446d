package rtnl

import "testing"

func TestIfinfomsgRoundTrip(t *testing.T) {
	h := ifinfomsg{Family: afBridge, Type: 1, Index: 7, Flags: 0x1003, Change: 0xffffffff}
	b := packIfinfomsg(h)

	got, rest, ok := unpackIfinfomsg(b)
	if !ok {
		t.Fatalf("unpackIfinfomsg reported short message")
	}
	if got != h {
		t.Fatalf("unpackIfinfomsg = %+v, want %+v", got, h)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %d", len(rest))
	}
}

func TestNdmsgRoundTrip(t *testing.T) {
	h := ndmsg{Family: afBridge, Ifindex: 42, State: nudPermanent, Flags: 1, NdmType: 0}
	b := packNdmsg(h)

	got, rest, ok := unpackNdmsg(b)
	if !ok {
		t.Fatalf("unpackNdmsg reported short message")
	}
	if got != h {
		t.Fatalf("unpackNdmsg = %+v, want %+v", got, h)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %d", len(rest))
	}
}

func TestUnpackShortMessage(t *testing.T) {
	if _, _, ok := unpackIfinfomsg(make([]byte, 4)); ok {
		t.Fatalf("expected short ifinfomsg to be rejected")
	}
	if _, _, ok := unpackNdmsg(make([]byte, 4)); ok {
		t.Fatalf("expected short ndmsg to be rejected")
	}
}
