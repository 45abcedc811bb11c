// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/insplane/insfleetd/internal/bus"
	"github.com/insplane/insfleetd/internal/console"
	"github.com/insplane/insfleetd/internal/dispatch"
	"github.com/insplane/insfleetd/internal/forwarder"
	"github.com/insplane/insfleetd/internal/httpapi"
	"github.com/insplane/insfleetd/internal/ins"
	"github.com/insplane/insfleetd/internal/loadbalancer"
	"github.com/insplane/insfleetd/internal/logging"
	"github.com/insplane/insfleetd/internal/metrics"
	"github.com/insplane/insfleetd/internal/netflow"
	"github.com/insplane/insfleetd/internal/paths"
	"github.com/insplane/insfleetd/internal/spawnconfig"
	"github.com/insplane/insfleetd/internal/sshconsole"
	"github.com/insplane/insfleetd/internal/supervisor"
)

// maxInsCount is the compile-time instance cap §6's
// --ins-instance-limit is clamped against.
const maxInsCount = 64

func main() {
	os.Exit(run(os.Args[1:]))
}

type cliFlags struct {
	maxInsLoad        int
	monitorPeriod     int
	logLevel          string
	overloadedTrigger string
	startAll          bool
	insInstanceLimit  int
	root              string
	spawnConfig       string
	metricsListen     string
	consoleSSHListen  string
	console           string
}

func parseFlags(args []string) (*cliFlags, error) {
	fs := flag.NewFlagSet("insfleetd", flag.ContinueOnError)
	f := &cliFlags{}
	fs.IntVar(&f.maxInsLoad, "max-ins-load", 50, "overload percent, 1-100")
	fs.IntVar(&f.monitorPeriod, "monitor-period", 0, "seconds between periodic load logs, 0 disables")
	fs.StringVar(&f.logLevel, "log-level", "info", "critical|error|warning|info|debug")
	fs.StringVar(&f.overloadedTrigger, "overloaded-trigger", "", "optional sentinel file path")
	fs.BoolVar(&f.startAll, "start-all", false, "pre-spawn all instances up front")
	fs.IntVar(&f.insInstanceLimit, "ins-instance-limit", maxInsCount, "hard cap on concurrent instances")
	fs.StringVar(&f.root, "root", "", "root of the surrounding project tree")
	fs.StringVar(&f.spawnConfig, "spawn-config", "", "path to the HCL spawn-config file")
	fs.StringVar(&f.metricsListen, "metrics-listen", "127.0.0.1:9540", "address for /metrics and /status, empty disables")
	fs.StringVar(&f.consoleSSHListen, "console-ssh-listen", "", "address to expose the operator console over SSH, empty disables")
	fs.StringVar(&f.console, "console", "tty", "none|tty|both")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if f.maxInsLoad < 1 || f.maxInsLoad > 100 {
		return nil, fmt.Errorf("--max-ins-load must be in 1..100, got %d", f.maxInsLoad)
	}
	if f.insInstanceLimit < 1 || f.insInstanceLimit > maxInsCount {
		return nil, fmt.Errorf("--ins-instance-limit must be in 1..%d, got %d", maxInsCount, f.insInstanceLimit)
	}
	switch f.console {
	case "none", "tty", "both":
	default:
		return nil, fmt.Errorf("--console must be one of none|tty|both, got %q", f.console)
	}
	return f, nil
}

func run(args []string) int {
	flags, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log := logging.New(logging.Config{Level: logging.Level(flags.logLevel), Prefix: "insfleetd"})
	logging.SetDefault(log)

	if err := checkEnvironment(); err != nil {
		log.Error("environment precondition failed", "error", err)
		return 1
	}

	roots := paths.NewRoots(flags.root)
	spawnConfigPath := flags.spawnConfig
	if spawnConfigPath == "" {
		spawnConfigPath = roots.SpawnConfigPath()
	}
	spawnCfg, err := spawnconfig.Load(spawnConfigPath)
	if err != nil {
		log.Error("failed to load spawn config", "path", spawnConfigPath, "error", err)
		return 1
	}

	hv, err := supervisor.NewShellHypervisor(spawnCfg.HypervisorSpawnBin, spawnCfg.HypervisorDestroyBin)
	if err != nil {
		log.Error("hypervisor binaries not resolvable", "error", err)
		return 1
	}

	conn, err := forwarder.NewRealConn()
	if err != nil {
		log.Error("failed to open packet-filter connection", "error", err)
		return 1
	}

	registry := ins.NewRegistry(flags.insInstanceLimit)
	macPool := ins.NewMACPool(spawnCfg.MACPool)

	// The hypervisor-hosted KV bus wire protocol is out of scope; the
	// in-memory bus is the only Bus implementation this process ships,
	// satisfying the same consumer contract a real client would.
	kvBus := bus.NewMemoryBus()
	disp := dispatch.New(registry, kvBus, log)
	disp.Root = spawnCfg.BusRoot

	promReg := prometheus.NewRegistry()
	var metricsCollectors *metrics.Metrics
	if flags.metricsListen != "" {
		metricsCollectors = metrics.New(promReg)
	}

	supCfg := supervisor.Config{
		PollInterval:        time.Second,
		HeartbeatInterval:   10 * time.Second,
		HeartbeatMaxMisses:  3,
		StartAll:            flags.startAll,
		RegistrationTimeout: 30 * time.Second,
		SpawnTimeout:        30 * time.Second,
		DestroyTimeout:      10 * time.Second,
		LoadBalancer: loadbalancer.Config{
			OverloadThreshold: float64(flags.maxInsLoad) / 100.0,
			TriggerPath:       flags.overloadedTrigger,
		},
	}
	sup := supervisor.New(registry, macPool, conn, hv, supCfg, log)
	sup.Metrics = metricsCollectors

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := disp.Run(ctx); err != nil {
			log.Error("kv dispatcher exited", "error", err)
		}
	}()
	go func() {
		if err := sup.Run(ctx); err != nil {
			log.Error("supervisor exited", "error", err)
		}
	}()
	if flags.monitorPeriod > 0 {
		go runMonitorLog(ctx, registry, time.Duration(flags.monitorPeriod)*time.Second, log)
	}

	var httpSrv *httpServer
	if flags.metricsListen != "" {
		srv := httpapi.NewServer(flags.metricsListen, registry, promReg)
		httpSrv = &httpServer{srv: srv}
		httpSrv.start(log)
	}

	netflowClient, consoleCore := dialConsole(ctx, kvBus, spawnCfg.NetflowBusPath, log)

	var teaProgram *tea.Program
	if consoleCore != nil && (flags.console == "tty" || flags.console == "both") {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			log.Warn("stdin is not a terminal, skipping tty console")
		} else {
			teaProgram = tea.NewProgram(console.NewModel(consoleCore), tea.WithAltScreen())
			go func() {
				if _, err := teaProgram.Run(); err != nil {
					log.Error("console tui exited", "error", err)
				}
			}()
		}
	}

	var sshSrv *sshconsole.Server
	if consoleCore != nil && flags.consoleSSHListen != "" {
		hostKeyPath := filepath.Join(roots.StateDir(), "console_ssh_host_key")
		sshSrv, err = sshconsole.NewServer(flags.consoleSSHListen, hostKeyPath, consoleCore)
		if err != nil {
			log.Error("failed to start console ssh server", "error", err)
		} else {
			sshSrv.Start(ctx)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGABRT, syscall.SIGQUIT)
	<-stop
	log.Info("shutdown signal received, destroying all instances")
	cancel()

	shutdownAll(registry, macPool, hv, log)

	if teaProgram != nil {
		teaProgram.Quit()
	}
	if sshSrv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		sshSrv.Stop(shutCtx)
		shutCancel()
	}
	if httpSrv != nil {
		httpSrv.stop(log)
	}
	if netflowClient != nil {
		netflowClient.Close()
	}

	return 0
}

// checkEnvironment enforces the two start-up preconditions: the
// process must be privileged, and IPv4 forwarding must already be
// enabled on the host (this process configures packet-filter rules,
// it doesn't flip forwarding on). Both are read via sysctl rather
// than parsed out of /proc directly.
func checkEnvironment() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("insfleetd must run with root privileges")
	}

	sysctls := []string{
		"net.ipv4.ip_forward",
		"net.ipv4.conf.all.forwarding",
	}
	for _, name := range sysctls {
		v, err := unix.Sysctl(name)
		if err != nil {
			continue
		}
		if len(v) > 0 && v[0] == '1' {
			return nil
		}
	}
	return fmt.Errorf("ipv4 forwarding is not enabled (checked sysctls %v)", sysctls)
}

// dialConsole reads the netflow endpoint published at busPath and, if
// present, dials it and wraps it in a console.Console. Absence is
// never fatal: the console is advisory (§4.H).
func dialConsole(ctx context.Context, b bus.Bus, busPath string, log *logging.Logger) (*netflow.Client, *console.Console) {
	addr, ok, err := b.Get(ctx, busPath)
	if err != nil || !ok || addr == "" {
		log.Warn("netflow endpoint not yet published, console will be unavailable", "path", busPath)
		return nil, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := netflow.Dial(dialCtx, addr, log)
	if err != nil {
		log.Warn("failed to dial netflow endpoint, console will be unavailable", "addr", addr, "error", err)
		return nil, nil
	}
	return client, console.New(client, log)
}

// runMonitorLog periodically logs aggregate load across the fleet,
// gated by --monitor-period (0 disables).
func runMonitorLog(ctx context.Context, registry *ins.Registry, period time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			all := registry.Snapshot()
			active := 0
			for _, i := range all {
				if i.Active() {
					active++
				}
			}
			log.Info("fleet load snapshot", "instances", len(all), "active", active)
		}
	}
}

// shutdownAll destroys every tracked instance and releases its MAC,
// matching §7's signal-handling recovery row.
func shutdownAll(registry *ins.Registry, macPool *ins.MACPool, hv supervisor.Hypervisor, log *logging.Logger) {
	for _, i := range registry.Snapshot() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := hv.Destroy(ctx, i.DomainID); err != nil {
			log.Error("failed to destroy instance during shutdown", "domain_id", i.DomainID, "error", err)
		}
		cancel()
		registry.Delete(i.DomainID)
		macPool.Release(i.MAC)
	}
}

// httpServer is a tiny start/stop wrapper so main's shutdown sequence
// reads linearly regardless of whether metrics are enabled.
type httpServer struct {
	srv interface {
		ListenAndServe() error
		Shutdown(ctx context.Context) error
	}
}

func (h *httpServer) start(log *logging.Logger) {
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http admin server exited", "error", err)
		}
	}()
}

func (h *httpServer) stop(log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		log.Error("http admin server shutdown error", "error", err)
	}
}
