package destset

import "testing"

func TestInsertDedup(t *testing.T) {
	s := New()
	d := Dest{VLAN: 10, MAC: [6]byte{0x02, 0xaa, 0, 0, 0, 1}}

	if !s.Insert(d) {
		t.Fatalf("first insert should report new")
	}
	if s.Insert(d) {
		t.Fatalf("duplicate insert should report not-new")
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestOrderedSortsByKey(t *testing.T) {
	s := New()
	hi := Dest{VLAN: 20, MAC: [6]byte{0, 0, 0, 0, 0, 1}}
	lo := Dest{VLAN: 0, MAC: [6]byte{0, 0, 0, 0, 0, 2}}
	mid := Dest{VLAN: 10, MAC: [6]byte{0, 0, 0, 0, 0, 1}}

	s.Insert(hi)
	s.Insert(lo)
	s.Insert(mid)

	got := s.Ordered()
	want := []Dest{lo, mid, hi}
	if len(got) != len(want) {
		t.Fatalf("Ordered() returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Ordered()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestKeyRoundTrip(t *testing.T) {
	d := Dest{VLAN: 0x1234, MAC: [6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}}
	got := keyToDest(d.Key())
	if got != d {
		t.Fatalf("keyToDest(d.Key()) = %+v, want %+v", got, d)
	}
}
