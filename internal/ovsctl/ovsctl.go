// Package ovsctl implements b1b's Open vSwitch control-plane client
// (spec.md C5): a JSON-RPC client for the ovs-vswitchd unixctl socket, used
// to resolve the OVS bridge and port backing a bonded system interface and
// to read that bridge's forwarding database.
//
// This talks to ovs-vswitchd's unixctl protocol, not OVSDB, so it is hand
// rolled on top of encoding/json and net.UnixConn rather than
// github.com/ovn-org/libovsdb (see DESIGN.md).
package ovsctl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/arequipeno/b1b/internal/destset"
	"golang.org/x/sys/unix"
)

// DefaultPIDFilePath is the standard location of ovs-vswitchd's PID file.
// Test environments where /run/openvswitch isn't writable can override
// this via internal/config's OVS.PIDFile setting.
const DefaultPIDFilePath = "/run/openvswitch/ovs-vswitchd.pid"

const maxResponseBytes = 1 << 20

// Client is a connection to a running ovs-vswitchd's unixctl socket.
type Client struct {
	conn  net.Conn
	path  string
	reqID uint64
}

// Open locates the running ovs-vswitchd (via the advisory write lock held
// on its PID file, not the file's contents, which may be stale) and
// connects to its unixctl control socket.
func Open() (*Client, error) {
	return OpenWithPIDFile(DefaultPIDFilePath)
}

// OpenWithPIDFile is Open with an overridden PID file path, for test
// environments where /run/openvswitch isn't writable.
func OpenWithPIDFile(pidFilePath string) (*Client, error) {
	pid, err := vswitchdPID(pidFilePath)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/run/openvswitch/ovs-vswitchd.%d.ctl", pid)
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ovsctl: connect %s: %w", path, err)
	}

	return &Client{conn: conn, path: path}, nil
}

// Close closes the control socket.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("ovsctl: close %s: %w", c.path, err)
	}
	return nil
}

// vswitchdPID returns the PID of the process holding ovs-vswitchd's PID
// file write lock.
func vswitchdPID(pidFilePath string) (int, error) {
	f, err := os.Open(pidFilePath)
	if err != nil {
		return 0, fmt.Errorf("ovsctl: open PID file %s: %w", pidFilePath, err)
	}
	defer f.Close()

	lock := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(f.Fd(), unix.F_GETLK, &lock); err != nil {
		return 0, fmt.Errorf("ovsctl: query PID file lock %s: %w", pidFilePath, err)
	}
	if lock.Type == unix.F_UNLCK {
		return 0, fmt.Errorf("ovsctl: PID file not locked: %s", pidFilePath)
	}
	return int(lock.Pid), nil
}

type rpcRequest struct {
	ID     uint64   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Error  json.RawMessage `json:"error"`
	Result json.RawMessage `json:"result"`
}

// call sends a JSON-RPC 1.0 request to ovs-vswitchd and returns the decoded
// "result" string. An empty param sends an empty "params" array, matching
// dpif/show's zero-argument call.
func (c *Client) call(method, param string) (string, error) {
	c.reqID++
	req := rpcRequest{ID: c.reqID, Method: method}
	if param != "" {
		req.Params = []string{param}
	} else {
		req.Params = []string{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("ovsctl: encode request %s: %w", method, err)
	}
	if _, err := c.conn.Write(body); err != nil {
		return "", fmt.Errorf("ovsctl: send request %s: %w", method, err)
	}

	buf := make([]byte, maxResponseBytes)
	n, err := c.conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("ovsctl: receive response to %s: %w", method, err)
	}
	if n == len(buf) {
		return "", fmt.Errorf("ovsctl: response to %s exceeds %d bytes", method, maxResponseBytes)
	}

	var resp rpcResponse
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		return "", fmt.Errorf("ovsctl: decode response to %s: %w", method, err)
	}
	if resp.ID != req.ID {
		return "", fmt.Errorf("ovsctl: response id %d does not match request id %d", resp.ID, req.ID)
	}

	if !isJSONNull(resp.Error) {
		var errStr string
		if err := json.Unmarshal(resp.Error, &errStr); err != nil {
			return "", fmt.Errorf("ovsctl: error response to %s: %s", method, resp.Error)
		}
		return "", fmt.Errorf("ovsctl: %s: %s", method, errStr)
	}

	var result string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("ovsctl: decode result of %s: %w", method, err)
	}
	return result, nil
}

func isJSONNull(b json.RawMessage) bool {
	return len(b) == 0 || string(b) == "null"
}

// BridgePort identifies the OVS bridge and ofport backing a system
// interface, as reported by dpif/show.
type BridgePort struct {
	BridgeName string
	OFPort     uint32
}

// FindBridgePort runs dpif/show and returns the bridge name and ofport of
// the named system interface (e.g. the bond device enslaved to an OVS
// bridge).
func (c *Client) FindBridgePort(ifname string) (BridgePort, error) {
	out, err := c.call("dpif/show", "")
	if err != nil {
		return BridgePort{}, err
	}
	return parseDpifShow(out, ifname)
}

// parseDpifShow scans dpif/show output (one datapath header line, then a
// "bridge <name>:" line followed by its indented port lines, each
// "<ifname> <ofport>/<stats>: (<type>)") for the bridge and ofport of
// ifname. Only the interface name and the leading digits of the ofport
// field are meaningful: trailing text such as "/100: (internal)" is left
// unconsumed, matching the original C parser's lenient
// "%m[^: ] %SCNu32" sscanf pattern rather than requiring an exact token
// count.
func parseDpifShow(out, ifname string) (BridgePort, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Scan() // datapath header line

	var curBridge string
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "bridge" {
			curBridge = strings.TrimSuffix(fields[1], ":")
			continue
		}
		if fields[0] != ifname {
			continue
		}
		port, err := leadingUint32(fields[1])
		if err != nil {
			return BridgePort{}, fmt.Errorf("ovsctl: parse dpif/show ofport for %s: %w", ifname, err)
		}
		if curBridge == "" {
			return BridgePort{}, fmt.Errorf("ovsctl: dpif/show: %s has no bridge", ifname)
		}
		return BridgePort{BridgeName: curBridge, OFPort: port}, nil
	}
	if err := sc.Err(); err != nil {
		return BridgePort{}, fmt.Errorf("ovsctl: scan dpif/show output: %w", err)
	}
	return BridgePort{}, fmt.Errorf("ovsctl: %s not found in dpif/show output", ifname)
}

// leadingUint32 parses the leading decimal digits of s as a uint32,
// ignoring any trailing text -- the Go equivalent of sscanf's "%SCNu32"
// stopping at the first non-digit character.
func leadingUint32(s string) (uint32, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("no leading digits in %q", s)
	}
	v, err := strconv.ParseUint(s[:i], 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// ReadFDB runs fdb/show for brname and inserts every entry not owned by
// ownOFPort into dst.
func (c *Client) ReadFDB(brname string, ownOFPort uint32, dst *destset.Set) error {
	out, err := c.call("fdb/show", brname)
	if err != nil {
		return err
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Scan() // header line

	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "LOCAL") {
			continue
		}

		d, ofport, err := parseFDBLine(line)
		if err != nil {
			return fmt.Errorf("ovsctl: parse fdb/show %s: %w", brname, err)
		}
		if ofport == ownOFPort {
			continue
		}
		dst.Insert(d)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("ovsctl: scan fdb/show %s output: %w", brname, err)
	}
	return nil
}

// parseFDBLine parses a "<ofport> <vlan> <mac> [age]" fdb/show entry line.
// Only the first three fields are meaningful; any trailing fields (such as
// the age column ovs-vswitchd reports) are ignored.
func parseFDBLine(line string) (destset.Dest, uint32, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return destset.Dest{}, 0, fmt.Errorf("expected at least 3 fields, got %d: %q", len(fields), line)
	}

	ofport, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return destset.Dest{}, 0, fmt.Errorf("ofport: %w", err)
	}
	vlan, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return destset.Dest{}, 0, fmt.Errorf("vlan: %w", err)
	}

	macParts := strings.Split(fields[2], ":")
	if len(macParts) != 6 {
		return destset.Dest{}, 0, fmt.Errorf("mac: expected 6 octets, got %d: %q", len(macParts), fields[2])
	}
	var mac [6]byte
	for i, p := range macParts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return destset.Dest{}, 0, fmt.Errorf("mac octet %d: %w", i, err)
		}
		mac[i] = byte(b)
	}

	return destset.Dest{VLAN: uint16(vlan), MAC: mac}, uint32(ofport), nil
}
