package daemon

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arequipeno/b1b/internal/destset"
	"github.com/arequipeno/b1b/internal/discover"
)

type fakeFDB struct {
	dests []destset.Dest
	err   error
	calls int
}

func (f *fakeFDB) ReadFDB(_ discover.Session, dst *destset.Set) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, d := range f.dests {
		dst.Insert(d)
	}
	return nil
}

type sentFrame struct {
	ifindex int32
	vlan    uint16
	mac     [6]byte
}

type fakeARP struct {
	sent []sentFrame
	fail map[uint16]bool
}

func (f *fakeARP) Send(ifindex int32, vlan uint16, mac [6]byte) error {
	if f.fail[vlan] {
		return errors.New("send: device busy")
	}
	f.sent = append(f.sent, sentFrame{ifindex: ifindex, vlan: vlan, mac: mac})
	return nil
}

func newTestDaemon(t *testing.T, sessions []session, linux, ovs *fakeFDB, arp *fakeARP) (*Daemon, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	d := &Daemon{
		arp:      arp,
		linuxFDB: linux,
		sessions: sessions,
		logger:   logger,
	}
	if ovs != nil {
		d.ovsFDB = ovs
	}
	return d, &buf
}

func mac(b byte) [6]byte {
	return [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, b}
}

func TestRecoverLinuxBondSendsOneGARPPerDest(t *testing.T) {
	sessions := []session{{discover.Session{Ifindex: 10, Ifname: "bond0", BridgeType: discover.BridgeLinux, BrIndex: 20, BrName: "br0"}}}
	linux := &fakeFDB{dests: []destset.Dest{{VLAN: 0, MAC: mac(1)}, {VLAN: 100, MAC: mac(2)}}}
	arp := &fakeARP{}

	d, _ := newTestDaemon(t, sessions, linux, nil, arp)
	d.recover(&d.sessions[0])

	require.Equal(t, 1, linux.calls)
	assert.Len(t, arp.sent, 2)
}

func TestRecoverOVSBondUsesOVSReader(t *testing.T) {
	sessions := []session{{discover.Session{Ifindex: 10, Ifname: "bond0", BridgeType: discover.BridgeOVS, BrName: "br0", OFPort: 3}}}
	linux := &fakeFDB{}
	ovs := &fakeFDB{dests: []destset.Dest{{VLAN: 0, MAC: mac(1)}}}
	arp := &fakeARP{}

	d, _ := newTestDaemon(t, sessions, linux, ovs, arp)
	d.recover(&d.sessions[0])

	assert.Equal(t, 0, linux.calls)
	assert.Equal(t, 1, ovs.calls)
	assert.Len(t, arp.sent, 1)
}

func TestRecoverOVSBondWithoutConnectionIsNonFatal(t *testing.T) {
	sessions := []session{{discover.Session{Ifindex: 10, Ifname: "bond0", BridgeType: discover.BridgeOVS, BrName: "br0", OFPort: 3}}}
	linux := &fakeFDB{}
	arp := &fakeARP{}

	d, buf := newTestDaemon(t, sessions, linux, nil, arp)
	d.recover(&d.sessions[0])

	assert.Empty(t, arp.sent)
	assert.Contains(t, buf.String(), "failed to read forwarding database")
}

func TestRecoverFDBErrorAbortsWithoutSending(t *testing.T) {
	sessions := []session{{discover.Session{Ifindex: 10, Ifname: "bond0", BridgeType: discover.BridgeLinux}}}
	linux := &fakeFDB{err: errors.New("netlink: dump failed")}
	arp := &fakeARP{}

	d, buf := newTestDaemon(t, sessions, linux, nil, arp)
	d.recover(&d.sessions[0])

	assert.Empty(t, arp.sent)
	assert.Contains(t, buf.String(), "failed to read forwarding database")
}

func TestRecoverContinuesAfterOneSendFailure(t *testing.T) {
	sessions := []session{{discover.Session{Ifindex: 10, Ifname: "bond0", BridgeType: discover.BridgeLinux}}}
	linux := &fakeFDB{dests: []destset.Dest{{VLAN: 10, MAC: mac(1)}, {VLAN: 20, MAC: mac(2)}}}
	arp := &fakeARP{fail: map[uint16]bool{10: true}}

	d, buf := newTestDaemon(t, sessions, linux, nil, arp)
	d.recover(&d.sessions[0])

	require.Len(t, arp.sent, 1)
	assert.Equal(t, uint16(20), arp.sent[0].vlan)
	assert.Contains(t, buf.String(), "failed to send gratuitous ARP")
}

func TestRecoverBatchDispatchesOnlyFlaggedSessions(t *testing.T) {
	sessions := []session{
		{discover.Session{Ifindex: 10, Ifname: "bond0", BridgeType: discover.BridgeLinux}},
		{discover.Session{Ifindex: 20, Ifname: "bond1", BridgeType: discover.BridgeLinux}},
		{discover.Session{Ifindex: 30, Ifname: "bond2", BridgeType: discover.BridgeLinux}},
	}
	linux := &fakeFDB{dests: []destset.Dest{{VLAN: 0, MAC: mac(1)}}}
	arp := &fakeARP{}

	d, _ := newTestDaemon(t, sessions, linux, nil, arp)
	d.recoverBatch([]int32{20})

	assert.Equal(t, 1, linux.calls)
	require.Len(t, arp.sent, 1)
	assert.Equal(t, int32(20), arp.sent[0].ifindex)
}

func TestRecoverBatchIgnoresUnknownIfindex(t *testing.T) {
	sessions := []session{{discover.Session{Ifindex: 10, Ifname: "bond0", BridgeType: discover.BridgeLinux}}}
	linux := &fakeFDB{}
	arp := &fakeARP{}

	d, _ := newTestDaemon(t, sessions, linux, nil, arp)
	d.recoverBatch([]int32{999})

	assert.Equal(t, 0, linux.calls)
	assert.Empty(t, arp.sent)
}

func TestSessionByIfindexBinarySearch(t *testing.T) {
	sessions := []session{
		{discover.Session{Ifindex: 5}},
		{discover.Session{Ifindex: 10}},
		{discover.Session{Ifindex: 30}},
	}
	d := &Daemon{sessions: sessions}

	s, ok := d.sessionByIfindex(10)
	require.True(t, ok)
	assert.Equal(t, int32(10), s.Ifindex)

	_, ok = d.sessionByIfindex(20)
	assert.False(t, ok)
}
