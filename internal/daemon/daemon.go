// Package daemon implements b1b's event loop (spec.md C7): wiring the
// kernel link/neighbor channel, the GARP emitter, and the bridge/OVS
// forwarding-database readers into the recovery state machine described
// in spec.md §4.6/§4.7.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/arequipeno/b1b/internal/bridge"
	"github.com/arequipeno/b1b/internal/destset"
	"github.com/arequipeno/b1b/internal/discover"
	"github.com/arequipeno/b1b/internal/garp"
	"github.com/arequipeno/b1b/internal/metrics"
	"github.com/arequipeno/b1b/internal/ovsctl"
	"github.com/arequipeno/b1b/internal/rtnl"
)

// session is one bond's runtime recovery state, built from a
// discover.Session at startup and never mutated except by the event
// loop's own recovery pass.
type session struct {
	discover.Session
}

// fdbReader drains the destination set relevant to one bond session. The
// two production implementations wrap internal/bridge and internal/ovsctl;
// a fake implementation lets the recovery logic below be tested without a
// real netlink or OVS control connection.
type fdbReader interface {
	ReadFDB(s discover.Session, dst *destset.Set) error
}

type linuxFDBReader struct{ conn *rtnl.Conn }

func (r linuxFDBReader) ReadFDB(s discover.Session, dst *destset.Set) error {
	return bridge.ReadFDB(r.conn, s.BrIndex, s.Ifindex, dst)
}

type ovsFDBReader struct{ client *ovsctl.Client }

func (r ovsFDBReader) ReadFDB(s discover.Session, dst *destset.Set) error {
	return r.client.ReadFDB(s.BrName, s.OFPort, dst)
}

// arpSender transmits one gratuitous ARP reply out a bond interface.
type arpSender interface {
	Send(ifindex int32, vlan uint16, mac [6]byte) error
}

// Daemon owns the kernel channels, the raw packet socket, and the sorted
// bond session array, and runs the single-threaded-equivalent recovery
// loop described in spec.md §5.
//
// The original program is a single thread of control that relaxes its
// signal mask only while blocked in ppoll(); the idiomatic Go equivalent
// used here is one goroutine reading the multicast event channel into a
// buffered Go channel, and the loop below -- the only goroutine that
// touches session state or issues requests on the other sockets --
// consuming that channel via select alongside context cancellation. This
// preserves the spec's ordering guarantee (every flagged session's
// recovery completes before the next wait) without needing a signal mask.
type Daemon struct {
	conn     *rtnl.Conn
	events   *rtnl.EventReader
	arpSock  *garp.Socket
	arp      arpSender
	ovs      *ovsctl.Client

	linuxFDB fdbReader
	ovsFDB   fdbReader

	sessions []session
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// Config selects which bond interfaces to monitor; an empty Names slice
// triggers auto-detect (spec.md §4.3).
type Config struct {
	Names []string
	// OVSPIDFile overrides the path to ovs-vswitchd's PID file. Empty
	// uses ovsctl.DefaultPIDFilePath.
	OVSPIDFile string
}

// Open performs the full startup sequence of spec.md §4.7: opens both
// kernel channels and the raw packet socket, lazily opens an OVS control
// connection only if discovery needs one, and runs discovery.
func Open(cfg Config, logger *slog.Logger, mc *metrics.Collector) (*Daemon, error) {
	conn, err := rtnl.Open()
	if err != nil {
		return nil, err
	}

	events, err := rtnl.OpenEvents()
	if err != nil {
		conn.Close()
		return nil, err
	}

	arpSock, err := garp.Open()
	if err != nil {
		conn.Close()
		events.Close()
		return nil, err
	}

	d := &Daemon{
		conn:     conn,
		events:   events,
		arpSock:  arpSock,
		arp:      arpSock,
		linuxFDB: linuxFDBReader{conn: conn},
		logger:   logger,
		metrics:  mc,
	}

	if err := d.discoverSessions(cfg.Names, cfg.OVSPIDFile); err != nil {
		d.Close()
		return nil, err
	}

	if d.ovs != nil {
		d.ovsFDB = ovsFDBReader{client: d.ovs}
	}

	for _, s := range d.sessions {
		if mc != nil {
			mc.RegisterSession(s.Ifname, s.BrName)
		}
	}

	return d, nil
}

// discoverSessions runs discovery, opening an OVS control connection
// lazily and only if a candidate turns out to be OVS-enslaved.
func (d *Daemon) discoverSessions(names []string, pidFile string) error {
	if pidFile == "" {
		pidFile = ovsctl.DefaultPIDFilePath
	}

	sessions, err := discoverWithLazyOVS(d.conn, names, func() (*ovsctl.Client, error) {
		if d.ovs == nil {
			ovs, err := ovsctl.OpenWithPIDFile(pidFile)
			if err != nil {
				return nil, err
			}
			d.ovs = ovs
		}
		return d.ovs, nil
	})
	if err != nil {
		return err
	}

	d.sessions = make([]session, len(sessions))
	for i, s := range sessions {
		d.sessions[i] = session{Session: s}
	}
	return nil
}

// discoverWithLazyOVS adapts discover.Discover's bridgeResolver parameter
// to a connection opened on first use, so hosts with no OVS bonds never
// touch the OVS control socket.
func discoverWithLazyOVS(conn *rtnl.Conn, names []string, openOVS func() (*ovsctl.Client, error)) ([]discover.Session, error) {
	return discover.Discover(conn, &lazyOVS{open: openOVS}, names)
}

type lazyOVS struct {
	open   func() (*ovsctl.Client, error)
	client *ovsctl.Client
}

func (l *lazyOVS) FindBridgePort(ifname string) (ovsctl.BridgePort, error) {
	if l.client == nil {
		c, err := l.open()
		if err != nil {
			return ovsctl.BridgePort{}, fmt.Errorf("daemon: open OVS control socket: %w", err)
		}
		l.client = c
	}
	return l.client.FindBridgePort(ifname)
}

// Close releases every socket the daemon owns.
func (d *Daemon) Close() {
	if d.ovs != nil {
		if err := d.ovs.Close(); err != nil {
			d.logger.Warn("failed to close OVS control socket", slog.String("error", err.Error()))
		}
	}
	if err := d.arpSock.Close(); err != nil {
		d.logger.Warn("failed to close ARP socket", slog.String("error", err.Error()))
	}
	if err := d.events.Close(); err != nil {
		d.logger.Warn("failed to close netlink event socket", slog.String("error", err.Error()))
	}
	if err := d.conn.Close(); err != nil {
		d.logger.Warn("failed to close netlink request socket", slog.String("error", err.Error()))
	}
}

// Run starts the multicast reader goroutine and blocks, dispatching
// recovery for each batch of failed-over bonds, until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	out := make(chan []int32, 1)
	errCh := make(chan error, 1)

	go func() {
		errCh <- d.events.Run(ctx, out)
	}()

	d.logger.Log(ctx, slog.LevelInfo, "ready")

	for {
		select {
		case <-ctx.Done():
			// The reader goroutine may still be blocked in Receive; it
			// returns once Close shuts the event socket.
			return nil
		case batch := <-out:
			d.recoverBatch(batch)
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("daemon: event reader: %w", err)
			}
			return nil
		}
	}
}

// recoverBatch resolves each flagged ifindex to its session via binary
// search over the ifindex-sorted array and runs one recovery per hit,
// silently ignoring ifindexes that don't belong to any monitored bond.
func (d *Daemon) recoverBatch(ifindexes []int32) {
	for _, idx := range ifindexes {
		s, ok := d.sessionByIfindex(idx)
		if !ok {
			continue
		}
		d.recover(s)
	}
}

// sessionByIfindex finds a session by ifindex via binary search over the
// ifindex-sorted array produced at discovery.
func (d *Daemon) sessionByIfindex(ifindex int32) (*session, bool) {
	i := sort.Search(len(d.sessions), func(i int) bool { return d.sessions[i].Ifindex >= ifindex })
	if i < len(d.sessions) && d.sessions[i].Ifindex == ifindex {
		return &d.sessions[i], true
	}
	return nil, false
}

// recover implements the per-bond state machine of spec.md §4.6: read
// the destination set, drain it emitting one gratuitous ARP per entry.
func (d *Daemon) recover(s *session) {
	start := time.Now()
	d.logger.Log(context.Background(), slog.LevelInfo, "recovering bond",
		slog.String("ifname", s.Ifname), slog.String("bridge", s.BrName))

	if d.metrics != nil {
		d.metrics.IncFailoverEvents(s.Ifname, s.BrName)
	}

	dst := destset.New()
	if err := d.readFDB(s, dst); err != nil {
		d.logger.Error("failed to read forwarding database",
			slog.String("ifname", s.Ifname), slog.String("error", err.Error()))
		return
	}

	for _, entry := range dst.Ordered() {
		if err := d.arp.Send(s.Ifindex, entry.VLAN, entry.MAC); err != nil {
			d.logger.Error("failed to send gratuitous ARP",
				slog.String("ifname", s.Ifname), slog.String("error", err.Error()))
			if d.metrics != nil {
				d.metrics.IncGARPsFailed(s.Ifname, s.BrName)
			}
			continue
		}
		d.logger.Debug("sent gratuitous ARP",
			slog.String("ifname", s.Ifname),
			slog.Int("vlan", int(entry.VLAN)))
		if d.metrics != nil {
			d.metrics.IncGARPsSent(s.Ifname, s.BrName)
		}
	}

	if d.metrics != nil {
		d.metrics.ObserveRecoveryDuration(s.Ifname, s.BrName, time.Since(start).Seconds())
	}
}

// readFDB dispatches to the bridge or OVS forwarding-database reader
// according to the session's bridge type.
func (d *Daemon) readFDB(s *session, dst *destset.Set) error {
	switch s.BridgeType {
	case discover.BridgeLinux:
		return d.linuxFDB.ReadFDB(s.Session, dst)
	case discover.BridgeOVS:
		if d.ovsFDB == nil {
			return fmt.Errorf("daemon: no OVS control connection for %s", s.Ifname)
		}
		return d.ovsFDB.ReadFDB(s.Session, dst)
	default:
		return fmt.Errorf("daemon: unknown bridge type for %s", s.Ifname)
	}
}
