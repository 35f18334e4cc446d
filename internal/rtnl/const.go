package rtnl

// Numeric constants for the rtnetlink link/neighbour/bonding protocol
// surface this package needs. golang.org/x/sys/unix does not carry the
// bonding- and link-event-specific IFLA_* values, so the full set is
// hand-rolled here from the kernel UAPI headers, in the style of
// other_examples/siderolabs-talos__vars.go.

// Route family (linux/rtnetlink.h).
const (
	rtmNewlink  = 16
	rtmGetlink  = 18
	rtmNewneigh = 28
	rtmGetneigh = 30
)

// Generic netlink message types (linux/netlink.h).
const (
	nlmsgDone = 3
)

// Netlink multicast groups, expressed as the bit position expected by
// mdlayher/netlink's Config.Groups (bit N-1 for RTNLGRP_N, linux/rtnetlink.h).
const (
	rtnlGrpLink = 1 << (1 - 1) // RTNLGRP_LINK
)

// ifinfomsg attributes (linux/if_link.h, enum).
const (
	iflaUnspec    = 0
	iflaAddress   = 1
	iflaIfname    = 3
	iflaMaster    = 10
	iflaLinkinfo  = 18
	iflaEvent     = 44
)

// Nested attributes of IFLA_LINKINFO (linux/if_link.h, enum rtnl_link_ifinfo).
const (
	iflaInfoKind = 1
	iflaInfoData = 2
)

// Nested attributes of IFLA_INFO_DATA for kind "bond" (linux/if_link.h,
// enum IFLA_BOND_*). Only the mode is consumed.
const (
	iflaBondMode = 1
)

// netdev_event values carried in IFLA_EVENT (linux/if_link.h).
const (
	iflaEventBondingFailover = 3
)

// ndmsg attributes (linux/neighbour.h, enum).
const (
	ndaLladdr = 2
	ndaVlan   = 5
	ndaMaster = 9
)

// ndmsg states (linux/neighbour.h); NUD_PERMANENT marks a statically
// configured entry rather than one learned by the bridge.
const (
	nudPermanent = 0x80
)

// afBridge is the address family used to scope neighbour (FDB) dumps to
// the bridge forwarding table rather than IP neighbour tables.
const afBridge = 7

// bondModeActiveBackup is the only bonding mode b1b monitors (spec.md §3).
const bondModeActiveBackup = 1
