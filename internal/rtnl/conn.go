// Package rtnl implements b1b's kernel link/neighbor channel (spec.md C2):
// a request/response connection to NETLINK_ROUTE used for interface and
// bridge-FDB lookups, and a second connection subscribed to the link-state
// multicast group used to detect bonding failover events.
package rtnl

import (
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// ErrResponseTooLarge names a reply that would not fit in a read buffer.
// No function in this package returns it; replies are read through
// netlink.Conn.Execute, which manages its own buffers.
var ErrResponseTooLarge = errors.New("rtnl: response exceeds read buffer")

// Conn is the request/response half of the kernel channel: GETLINK and
// GETNEIGH dumps, issued synchronously.
type Conn struct {
	nl *netlink.Conn
}

// Open dials NETLINK_ROUTE with strict attribute checking enabled, matching
// the socket-level strict-checking requirement of spec.md §4.2.
func Open() (*Conn, error) {
	nl, err := netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{Strict: true})
	if err != nil {
		return nil, fmt.Errorf("rtnl: open request channel: %w", err)
	}
	return &Conn{nl: nl}, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	if err := c.nl.Close(); err != nil {
		return fmt.Errorf("rtnl: close request channel: %w", err)
	}
	return nil
}

// LinkInfo is the subset of an RTM_NEWLINK reply b1b cares about.
type LinkInfo struct {
	Index  int32
	Name   string
	Master int32 // IFLA_MASTER; 0 if the interface has no master
	Kind   string // IFLA_LINKINFO -> IFLA_INFO_KIND ("bond", "bridge", "openvswitch", ...)

	BondMode    uint8
	HasBondMode bool
}

// GetLinkByName issues a non-dump GETLINK request for the named interface
// and returns its parsed attributes.
func (c *Conn) GetLinkByName(name string) (LinkInfo, error) {
	return c.getLink(name, 0)
}

// GetLinkByIndex issues a non-dump GETLINK request for the interface at the
// given kernel index.
func (c *Conn) GetLinkByIndex(index int32) (LinkInfo, error) {
	return c.getLink("", index)
}

func (c *Conn) getLink(name string, index int32) (LinkInfo, error) {
	ae := netlink.NewAttributeEncoder()
	if name != "" {
		ae.String(iflaIfname, name)
	}
	attrs, err := ae.Encode()
	if err != nil {
		return LinkInfo{}, fmt.Errorf("rtnl: encode GETLINK request: %w", err)
	}

	req := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(rtmGetlink),
			Flags: netlink.Request,
		},
		Data: append(packIfinfomsg(ifinfomsg{Index: index}), attrs...),
	}

	replies, err := c.nl.Execute(req)
	if err != nil {
		return LinkInfo{}, fmt.Errorf("rtnl: GETLINK %s: %w", name, err)
	}

	for _, m := range replies {
		if li, ok, err := parseLinkMessage(m); err != nil {
			return LinkInfo{}, err
		} else if ok {
			return li, nil
		}
	}
	return LinkInfo{}, fmt.Errorf("rtnl: no RTM_NEWLINK reply for %q (index %d)", name, index)
}

// DumpLinks issues a full GETLINK dump and invokes fn for every
// RTM_NEWLINK reply. A reply that fails to parse stops the iteration and
// its error is returned; fn itself reports no errors.
func (c *Conn) DumpLinks(fn func(LinkInfo)) error {
	req := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(rtmGetlink),
			Flags: netlink.Request | netlink.Dump,
		},
		Data: packIfinfomsg(ifinfomsg{}),
	}

	replies, err := c.nl.Execute(req)
	if err != nil {
		return fmt.Errorf("rtnl: GETLINK dump: %w", err)
	}

	for _, m := range replies {
		li, ok, err := parseLinkMessage(m)
		if err != nil {
			return err
		}
		if ok {
			fn(li)
		}
	}
	return nil
}

// NeighInfo is one bridge forwarding-database entry from an RTM_NEWNEIGH
// reply.
type NeighInfo struct {
	Ifindex int32
	VLAN    uint16
	MAC     [6]byte
	State   uint16
}

// DumpBridgeNeigh issues an AF_BRIDGE GETNEIGH dump restricted to the given
// bridge master index and invokes fn for every RTM_NEWNEIGH reply.
func (c *Conn) DumpBridgeNeigh(master int32, fn func(NeighInfo)) error {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(ndaMaster, uint32(master))
	attrs, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("rtnl: encode GETNEIGH request: %w", err)
	}

	req := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(rtmGetneigh),
			Flags: netlink.Request | netlink.Dump,
		},
		Data: append(packNdmsg(ndmsg{Family: afBridge}), attrs...),
	}

	replies, err := c.nl.Execute(req)
	if err != nil {
		return fmt.Errorf("rtnl: GETNEIGH dump (master %d): %w", master, err)
	}

	for _, m := range replies {
		ni, ok, err := parseNeighMessage(m)
		if err != nil {
			return err
		}
		if ok {
			fn(ni)
		}
	}
	return nil
}

func parseLinkMessage(m netlink.Message) (LinkInfo, bool, error) {
	if int(m.Header.Type) != rtmNewlink {
		return LinkInfo{}, false, nil
	}

	hdr, rest, ok := unpackIfinfomsg(m.Data)
	if !ok {
		return LinkInfo{}, false, fmt.Errorf("rtnl: short RTM_NEWLINK message")
	}

	li := LinkInfo{Index: hdr.Index}

	ad, err := netlink.NewAttributeDecoder(rest)
	if err != nil {
		return LinkInfo{}, false, fmt.Errorf("rtnl: decode RTM_NEWLINK attributes: %w", err)
	}

	for ad.Next() {
		switch ad.Type() {
		case iflaIfname:
			li.Name = ad.String()
		case iflaMaster:
			li.Master = int32(ad.Uint32())
		case iflaLinkinfo:
			kind, mode, hasMode, err := parseLinkInfo(ad.Bytes())
			if err != nil {
				return LinkInfo{}, false, err
			}
			li.Kind = kind
			li.BondMode = mode
			li.HasBondMode = hasMode
		}
	}
	if err := ad.Err(); err != nil {
		return LinkInfo{}, false, fmt.Errorf("rtnl: parse RTM_NEWLINK attributes: %w", err)
	}

	return li, true, nil
}

// parseLinkInfo decodes a nested IFLA_LINKINFO attribute. When
// IFLA_INFO_DATA is encountered before IFLA_INFO_KIND has been seen (the
// open question in spec.md §9), it is skipped rather than treated as fatal:
// the kind is still recorded once IFLA_INFO_KIND arrives, but no bond mode
// is, so discovery rejects the candidate as not being in active-backup
// mode.
func parseLinkInfo(b []byte) (kind string, bondMode uint8, hasBondMode bool, err error) {
	ad, derr := netlink.NewAttributeDecoder(b)
	if derr != nil {
		return "", 0, false, fmt.Errorf("rtnl: decode IFLA_LINKINFO: %w", derr)
	}

	for ad.Next() {
		switch ad.Type() {
		case iflaInfoKind:
			kind = ad.String()
		case iflaInfoData:
			if kind != "bond" {
				continue
			}
			mode, has, derr := parseBondData(ad.Bytes())
			if derr != nil {
				return "", 0, false, derr
			}
			bondMode, hasBondMode = mode, has
		}
	}
	if err := ad.Err(); err != nil {
		return "", 0, false, fmt.Errorf("rtnl: parse IFLA_LINKINFO: %w", err)
	}
	return kind, bondMode, hasBondMode, nil
}

func parseBondData(b []byte) (mode uint8, has bool, err error) {
	ad, derr := netlink.NewAttributeDecoder(b)
	if derr != nil {
		return 0, false, fmt.Errorf("rtnl: decode IFLA_INFO_DATA: %w", derr)
	}
	for ad.Next() {
		if ad.Type() == iflaBondMode {
			mode = ad.Uint8()
			has = true
		}
	}
	if err := ad.Err(); err != nil {
		return 0, false, fmt.Errorf("rtnl: parse bond IFLA_INFO_DATA: %w", err)
	}
	return mode, has, nil
}

func parseNeighMessage(m netlink.Message) (NeighInfo, bool, error) {
	if int(m.Header.Type) != rtmNewneigh {
		return NeighInfo{}, false, nil
	}

	hdr, rest, ok := unpackNdmsg(m.Data)
	if !ok {
		return NeighInfo{}, false, fmt.Errorf("rtnl: short RTM_NEWNEIGH message")
	}

	ni := NeighInfo{Ifindex: hdr.Ifindex, State: hdr.State}

	ad, err := netlink.NewAttributeDecoder(rest)
	if err != nil {
		return NeighInfo{}, false, fmt.Errorf("rtnl: decode RTM_NEWNEIGH attributes: %w", err)
	}

	for ad.Next() {
		switch ad.Type() {
		case ndaLladdr:
			copy(ni.MAC[:], ad.Bytes())
		case ndaVlan:
			ni.VLAN = ad.Uint16()
		}
	}
	if err := ad.Err(); err != nil {
		return NeighInfo{}, false, fmt.Errorf("rtnl: parse RTM_NEWNEIGH attributes: %w", err)
	}

	return ni, true, nil
}
