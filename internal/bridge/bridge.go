// Package bridge implements b1b's Linux-bridge forwarding-database reader
// (spec.md C4): dumping the bridge FDB for a bond's master and populating a
// destination set with the entries that must be re-announced after a
// failover.
package bridge

import (
	"fmt"

	"github.com/arequipeno/b1b/internal/destset"
	"github.com/arequipeno/b1b/internal/rtnl"
)

// permanentFlag mirrors NUD_PERMANENT from linux/neighbour.h: entries with
// this state bit are statically configured, not learned, and are skipped.
const permanentFlag = 0x80

// ReadFDB dumps the bridge family neighbour table for the bridge at
// brIndex and inserts every qualifying entry into dst.
//
// An entry is skipped when its interface index is bondIfindex (the bond's
// own MAC, which the kernel bonding driver already re-announces on
// failover), when its NUD state includes NUD_PERMANENT, or when its MAC is
// all-zero. VLAN 0 means untagged.
func ReadFDB(conn *rtnl.Conn, brIndex int32, bondIfindex int32, dst *destset.Set) error {
	var firstErr error

	err := conn.DumpBridgeNeigh(brIndex, func(n rtnl.NeighInfo) {
		if firstErr != nil {
			return
		}
		if !qualifies(n, bondIfindex) {
			return
		}
		dst.Insert(destset.Dest{VLAN: n.VLAN, MAC: n.MAC})
	})
	if err != nil {
		return fmt.Errorf("bridge: read FDB (master %d): %w", brIndex, err)
	}
	return firstErr
}

// qualifies reports whether a bridge FDB entry should be re-announced after
// a failover of the bond at bondIfindex.
func qualifies(n rtnl.NeighInfo, bondIfindex int32) bool {
	if n.Ifindex == bondIfindex {
		return false
	}
	if n.State&permanentFlag != 0 {
		return false
	}
	return !isZeroMAC(n.MAC)
}

func isZeroMAC(mac [6]byte) bool {
	return mac == [6]byte{}
}
