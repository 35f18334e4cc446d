// b1b daemon -- preserves L2 reachability across bonding-mode-1 failovers
// by emitting gratuitous ARP for every bridge-learned destination behind
// a bond, as soon as the kernel reports the bond switched active slaves.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/arequipeno/b1b/internal/blog"
	"github.com/arequipeno/b1b/internal/config"
	b1bdaemon "github.com/arequipeno/b1b/internal/daemon"
	"github.com/arequipeno/b1b/internal/metrics"
)

var (
	debugFlag  bool
	syslogFlag bool
	stderrFlag bool
	configPath string
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "b1b:", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "b1b [interface ...]",
		Short: "Preserve L2 reachability across bonding-mode-1 failovers",
		Long: "b1b watches Linux bonding-mode-1 (active-backup) interfaces enslaved to a\n" +
			"Linux bridge or Open vSwitch bridge and, on every failover, emits a\n" +
			"gratuitous ARP reply for each bridge-learned destination so upstream\n" +
			"switches relearn the new active slave immediately.\n\n" +
			"With no positional arguments, every qualifying bond on the host is\n" +
			"monitored. Naming one or more bond interfaces restricts monitoring to\n" +
			"exactly those interfaces, and it is fatal if any of them doesn't qualify.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}

	cmd.Flags().BoolVarP(&debugFlag, "debug", "d", false, "enable debug logging and file:line annotations")
	cmd.Flags().BoolVarP(&syslogFlag, "syslog", "l", false, "prefix log lines with an RFC-3164 <N> priority tag")
	cmd.Flags().BoolVarP(&stderrFlag, "stderr", "e", false, "log bare text with no priority tag")
	cmd.Flags().StringVar(&configPath, "config", "", "path to an optional YAML configuration file")

	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print b1b build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(versionString("b1b"))
		},
	}
}

// runDaemon is the cobra entrypoint: validates flags, performs the full
// startup sequence of spec.md §4.7, and runs the event loop until a
// termination signal arrives.
func runDaemon(cmd *cobra.Command, args []string) error {
	if err := validateLogFlags(syslogFlag, stderrFlag); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = newMetricsServer(cfg.Metrics, reg)
		go func() {
			logger.Log(cmd.Context(), slog.LevelInfo, "metrics server listening",
				slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.String("error", err.Error()))
			}
		}()
	}

	d, err := b1bdaemon.Open(b1bdaemon.Config{Names: args, OVSPIDFile: cfg.OVS.PIDFile}, logger, collector)
	if err != nil {
		return fmt.Errorf("start up: %w", err)
	}
	defer d.Close()

	notifyReady(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalHandler(logger, cancel)

	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("event loop: %w", err)
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down metrics server", slog.String("error", err.Error()))
		}
	}

	return nil
}

// validateLogFlags rejects specifying both -l/--syslog and -e/--stderr,
// matching main.c's b1b_parse_args fatal "log destination already set"
// check.
func validateLogFlags(syslog, stderr bool) error {
	if syslog && stderr {
		return errors.New("duplicate/conflicting option: -l/--syslog and -e/--stderr both set a log destination")
	}
	return nil
}

// installSignalHandler replicates main.c's one-shot signal semantics: the
// first SIGTERM/SIGINT begins graceful shutdown by cancelling ctx; a
// second signal before shutdown completes forces an immediate exit,
// mirroring SA_RESETHAND's revert-to-default-disposition behavior that
// Go's os/signal has no direct equivalent for.
func installSignalHandler(logger *slog.Logger, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Log(context.Background(), blog.LevelNotice, "received termination signal, shutting down",
			slog.String("signal", sig.String()))
		cancel()

		sig = <-sigCh
		logger.Log(context.Background(), blog.LevelAbort, "second termination signal received, forcing exit",
			slog.String("signal", sig.String()))
		os.Exit(1)
	}()
}

// newLogger builds b1b's wire-format logger: syslog-style tagging is
// explicit via -l/-e, or defaults to whether stderr is a terminal,
// exactly as spec.md §6 describes.
func newLogger() *slog.Logger {
	tag := resolveTag(syslogFlag, stderrFlag, isTerminal(os.Stderr))
	handler := blog.NewHandler(os.Stderr, blog.Options{Debug: debugFlag, Tag: tag})
	return slog.New(handler)
}

// resolveTag decides whether log lines carry an RFC-3164 <N> priority
// prefix: an explicit -l/-e flag always wins; with neither given, it
// defaults to whether stderr is NOT a terminal, matching spec.md §6's
// "b1b_use_syslog = !isatty(STDERR_FILENO)" default.
func resolveTag(syslog, stderr, isTTY bool) bool {
	if syslog {
		return true
	}
	if stderr {
		return false
	}
	return !isTTY
}

// isTerminal reports whether f is connected to a terminal, via the
// TCGETS ioctl -- the same "is this a tty" test the original b1b program
// performs via isatty(3) to pick its default log destination.
func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	return cfg, nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// notifyReady sends READY=1 to systemd, for daemons managed by a systemd
// unit with Type=notify.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Log(context.Background(), slog.LevelInfo, "notified systemd: READY")
	}
}
