// Package discover implements b1b's bond discovery (spec.md C3): validating
// caller-supplied bond interfaces, or auto-detecting every qualifying
// active-backup bond on the host, and resolving each one's bridge master
// (Linux bridge or Open vSwitch).
package discover

import (
	"fmt"
	"sort"

	"github.com/arequipeno/b1b/internal/ovsctl"
	"github.com/arequipeno/b1b/internal/rtnl"
)

const bondModeActiveBackup = 1

// linkResolver is the subset of *rtnl.Conn discovery depends on, broken
// out so tests can exercise qualify's decision logic without a real
// netlink socket.
type linkResolver interface {
	GetLinkByName(name string) (rtnl.LinkInfo, error)
	GetLinkByIndex(index int32) (rtnl.LinkInfo, error)
	DumpLinks(fn func(rtnl.LinkInfo)) error
}

// bridgeResolver is the subset of *ovsctl.Client discovery depends on.
type bridgeResolver interface {
	FindBridgePort(ifname string) (ovsctl.BridgePort, error)
}

// BridgeType classifies the bridge a qualifying bond is enslaved to.
type BridgeType int

const (
	// BridgeLinux is a plain Linux bridge (kind "bridge").
	BridgeLinux BridgeType = iota
	// BridgeOVS is an Open vSwitch bridge (master kind "openvswitch").
	BridgeOVS
)

// Session is one discovered, qualifying bond: a mode-1 bond enslaved to a
// bridge this daemon can refresh.
type Session struct {
	Ifindex int32
	Ifname  string

	BridgeType BridgeType
	// BrIndex is the kernel ifindex of the logical bridge device: the
	// Linux bridge master directly, or (for OVS) the bridge re-resolved
	// from its logical name after consulting ovsctl.
	BrIndex int32
	// BrName is the Linux bridge's interface name, or the logical OVS
	// bridge name for OVS bonds.
	BrName string
	// OFPort is the OVS ofport of the bond within BrName. Unused for
	// Linux-bridge bonds.
	OFPort uint32
}

// Discover validates names (explicit mode) or scans every interface
// (auto-detect mode, when names is empty) and returns the qualifying
// sessions sorted by ifindex, ready for binary search in the event loop.
func Discover(conn linkResolver, ovs bridgeResolver, names []string) ([]Session, error) {
	var sessions []Session

	if len(names) > 0 {
		for _, name := range names {
			li, err := conn.GetLinkByName(name)
			if err != nil {
				return nil, fmt.Errorf("discover: %s: %w", name, err)
			}
			s, err := qualify(conn, ovs, li)
			if err != nil {
				return nil, fmt.Errorf("discover: %s: %w", name, err)
			}
			sessions = append(sessions, s)
		}
	} else {
		err := conn.DumpLinks(func(li rtnl.LinkInfo) {
			s, err := qualify(conn, ovs, li)
			if err != nil {
				return // auto-detect silently skips non-qualifying interfaces
			}
			sessions = append(sessions, s)
		})
		if err != nil {
			return nil, fmt.Errorf("discover: link dump: %w", err)
		}
		if len(sessions) == 0 {
			return nil, fmt.Errorf("discover: no qualifying bond interfaces found")
		}
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Ifindex < sessions[j].Ifindex })
	return sessions, nil
}

// qualify checks li against the mode-1-bond-on-a-supported-bridge
// requirements and, if it qualifies, resolves its bridge master.
func qualify(conn linkResolver, ovs bridgeResolver, li rtnl.LinkInfo) (Session, error) {
	if li.Kind != "bond" {
		return Session{}, fmt.Errorf("not a bonding interface (kind %q)", li.Kind)
	}
	if !li.HasBondMode || li.BondMode != bondModeActiveBackup {
		return Session{}, fmt.Errorf("bonding mode is not active-backup (mode 1)")
	}
	if li.Master == 0 {
		return Session{}, fmt.Errorf("bond has no master interface")
	}

	master, err := conn.GetLinkByIndex(li.Master)
	if err != nil {
		return Session{}, fmt.Errorf("resolve master interface %d: %w", li.Master, err)
	}

	switch master.Kind {
	case "bridge":
		return Session{
			Ifindex:    li.Index,
			Ifname:     li.Name,
			BridgeType: BridgeLinux,
			BrIndex:    master.Index,
			BrName:     master.Name,
		}, nil
	case "openvswitch":
		return resolveOVS(conn, ovs, li)
	default:
		return Session{}, fmt.Errorf("master interface %q is neither a Linux bridge nor an OVS bridge (kind %q)", master.Name, master.Kind)
	}
}

// resolveOVS implements spec.md §4.5: replace the kernel-visible OVS
// "system" master with the logical bridge name, record the bond's ofport,
// and re-resolve brindex to the logical bridge device's kernel ifindex.
func resolveOVS(conn linkResolver, ovs bridgeResolver, li rtnl.LinkInfo) (Session, error) {
	if ovs == nil {
		return Session{}, fmt.Errorf("bond is enslaved to an OVS bridge but no OVS control connection is available")
	}

	bp, err := ovs.FindBridgePort(li.Name)
	if err != nil {
		return Session{}, fmt.Errorf("resolve OVS bridge/port: %w", err)
	}

	brLink, err := conn.GetLinkByName(bp.BridgeName)
	if err != nil {
		return Session{}, fmt.Errorf("resolve OVS bridge index %q: %w", bp.BridgeName, err)
	}
	if brLink.Index == 0 {
		return Session{}, fmt.Errorf("failed to resolve OVS bridge ifindex: %s", bp.BridgeName)
	}

	return Session{
		Ifindex:    li.Index,
		Ifname:     li.Name,
		BridgeType: BridgeOVS,
		BrIndex:    brLink.Index,
		BrName:     bp.BridgeName,
		OFPort:     bp.OFPort,
	}, nil
}
