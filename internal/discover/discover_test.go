package discover

import (
	"fmt"
	"testing"

	"github.com/arequipeno/b1b/internal/ovsctl"
	"github.com/arequipeno/b1b/internal/rtnl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLinks struct {
	byName  map[string]rtnl.LinkInfo
	byIndex map[int32]rtnl.LinkInfo
	dump    []rtnl.LinkInfo
}

func (f *fakeLinks) GetLinkByName(name string) (rtnl.LinkInfo, error) {
	li, ok := f.byName[name]
	if !ok {
		return rtnl.LinkInfo{}, fmt.Errorf("no such interface: %s", name)
	}
	return li, nil
}

func (f *fakeLinks) GetLinkByIndex(index int32) (rtnl.LinkInfo, error) {
	li, ok := f.byIndex[index]
	if !ok {
		return rtnl.LinkInfo{}, fmt.Errorf("no such ifindex: %d", index)
	}
	return li, nil
}

func (f *fakeLinks) DumpLinks(fn func(rtnl.LinkInfo)) error {
	for _, li := range f.dump {
		fn(li)
	}
	return nil
}

type fakeOVS struct {
	bp  ovsctl.BridgePort
	err error
}

func (f *fakeOVS) FindBridgePort(ifname string) (ovsctl.BridgePort, error) {
	return f.bp, f.err
}

func newFixture() *fakeLinks {
	bond0 := rtnl.LinkInfo{Index: 10, Name: "bond0", Master: 20, Kind: "bond", BondMode: 1, HasBondMode: true}
	br0 := rtnl.LinkInfo{Index: 20, Name: "br0", Kind: "bridge"}

	return &fakeLinks{
		byName:  map[string]rtnl.LinkInfo{"bond0": bond0, "br0": br0},
		byIndex: map[int32]rtnl.LinkInfo{20: br0},
		dump:    []rtnl.LinkInfo{bond0, br0},
	}
}

func TestDiscoverExplicitQualifies(t *testing.T) {
	f := newFixture()
	sessions, err := Discover(f, nil, []string{"bond0"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, int32(10), sessions[0].Ifindex)
	assert.Equal(t, BridgeLinux, sessions[0].BridgeType)
	assert.Equal(t, int32(20), sessions[0].BrIndex)
}

func TestDiscoverExplicitRejectsNonBond(t *testing.T) {
	f := newFixture()
	_, err := Discover(f, nil, []string{"br0"})
	assert.Error(t, err)
}

func TestDiscoverAutoDetectSkipsNonQualifying(t *testing.T) {
	f := newFixture()
	sessions, err := Discover(f, nil, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "bond0", sessions[0].Ifname)
}

func TestDiscoverAutoDetectFatalWhenNoneQualify(t *testing.T) {
	f := &fakeLinks{dump: []rtnl.LinkInfo{{Index: 1, Name: "eth0", Kind: "device"}}}
	_, err := Discover(f, nil, nil)
	assert.Error(t, err)
}

func TestDiscoverWrongBondMode(t *testing.T) {
	f := &fakeLinks{
		byName: map[string]rtnl.LinkInfo{
			"bond0": {Index: 10, Name: "bond0", Master: 20, Kind: "bond", BondMode: 0, HasBondMode: true},
		},
	}
	_, err := Discover(f, nil, []string{"bond0"})
	assert.Error(t, err)
}

func TestDiscoverOVSResolution(t *testing.T) {
	bond0 := rtnl.LinkInfo{Index: 10, Name: "bond0", Master: 20, Kind: "bond", BondMode: 1, HasBondMode: true}
	ovsSystem := rtnl.LinkInfo{Index: 20, Name: "ovs-system", Kind: "openvswitch"}
	br0 := rtnl.LinkInfo{Index: 30, Name: "br0", Kind: "bridge"}

	f := &fakeLinks{
		byName:  map[string]rtnl.LinkInfo{"bond0": bond0, "br0": br0},
		byIndex: map[int32]rtnl.LinkInfo{20: ovsSystem},
	}
	ovs := &fakeOVS{bp: ovsctl.BridgePort{BridgeName: "br0", OFPort: 3}}

	sessions, err := Discover(f, ovs, []string{"bond0"})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, BridgeOVS, sessions[0].BridgeType)
	assert.Equal(t, int32(30), sessions[0].BrIndex)
	assert.EqualValues(t, 3, sessions[0].OFPort)
}

func TestDiscoverSortsByIfindex(t *testing.T) {
	bondA := rtnl.LinkInfo{Index: 30, Name: "bondA", Master: 50, Kind: "bond", BondMode: 1, HasBondMode: true}
	bondB := rtnl.LinkInfo{Index: 10, Name: "bondB", Master: 51, Kind: "bond", BondMode: 1, HasBondMode: true}
	brA := rtnl.LinkInfo{Index: 50, Name: "brA", Kind: "bridge"}
	brB := rtnl.LinkInfo{Index: 51, Name: "brB", Kind: "bridge"}

	f := &fakeLinks{
		byName:  map[string]rtnl.LinkInfo{"bondA": bondA, "bondB": bondB},
		byIndex: map[int32]rtnl.LinkInfo{50: brA, 51: brB},
	}

	sessions, err := Discover(f, nil, []string{"bondA", "bondB"})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, int32(10), sessions[0].Ifindex)
	assert.Equal(t, int32(30), sessions[1].Ifindex)
}
