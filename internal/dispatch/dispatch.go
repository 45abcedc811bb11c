// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dispatch implements §4.B: it consumes bus events under
// /mw/<domain_id>/<suffix> and mutates the registry accordingly.
// Errors in parsing a single event are logged and the event skipped;
// they never abort the stream (§7).
package dispatch

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/insplane/insfleetd/internal/bus"
	"github.com/insplane/insfleetd/internal/ins"
	"github.com/insplane/insfleetd/internal/inserr"
	"github.com/insplane/insfleetd/internal/logging"
	"github.com/insplane/insfleetd/internal/netparams"
)

// Suffix is the closed set of recognized event kinds (§9 design
// note: dynamic-typed dispatch becomes a closed tagged variant).
type Suffix int

const (
	SuffixUnknown Suffix = iota
	SuffixInsDomID
	SuffixIPAddrs
	SuffixNetworkStats
	SuffixHeartbeat
	SuffixListeningPorts
)

func classify(suffix string) Suffix {
	switch suffix {
	case "ins_dom_id":
		return SuffixInsDomID
	case "ip_addrs":
		return SuffixIPAddrs
	case "network_stats":
		return SuffixNetworkStats
	case "heartbeat":
		return SuffixHeartbeat
	case "listening_ports":
		return SuffixListeningPorts
	default:
		return SuffixUnknown
	}
}

// Dispatcher consumes events from a Bus root and mutates a Registry.
type Dispatcher struct {
	Registry *ins.Registry
	Bus      bus.Bus
	Root     string
	Log      *logging.Logger
	Now      func() time.Time
}

// New creates a Dispatcher with sane defaults (time.Now, root "/mw").
func New(registry *ins.Registry, b bus.Bus, log *logging.Logger) *Dispatcher {
	return &Dispatcher{Registry: registry, Bus: b, Root: "/mw", Log: log, Now: time.Now}
}

// Run subscribes to Root and handles events until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	events, err := d.Bus.Subscribe(ctx, d.Root)
	if err != nil {
		return inserr.Wrap(err, inserr.KindUnavailable, "dispatch: subscribe failed")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := d.Handle(ev); err != nil {
				d.Log.Warn("dropping malformed bus event", "path", ev.Path, "error", err)
			}
		}
	}
}

// Handle processes a single event. It returns a non-nil error only
// to let callers log and count drops; the caller must never treat
// that as fatal to the stream.
func (d *Dispatcher) Handle(ev bus.Event) error {
	domainID, suffix, ok := parsePath(ev.Path, d.Root)
	if !ok {
		// Paths violating the /mw/<domain_id>/<suffix> shape are
		// forwarded as-is for the dispatcher to ignore.
		return nil
	}

	switch classify(suffix) {
	case SuffixInsDomID:
		return d.handleInsDomID(domainID, ev.Value)
	case SuffixIPAddrs:
		return d.handleIPAddrs(domainID, ev.Value)
	case SuffixNetworkStats:
		return d.handleNetworkStats(domainID, ev.Value)
	case SuffixHeartbeat:
		return d.handleHeartbeat(domainID)
	case SuffixListeningPorts:
		return d.handleListeningPorts(domainID, ev.Value)
	default:
		return nil
	}
}

func parsePath(path, root string) (domainID int, suffix string, ok bool) {
	trimmed := strings.TrimPrefix(path, root+"/")
	if trimmed == path {
		return 0, "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return id, parts[1], true
}

func (d *Dispatcher) handleInsDomID(domainID int, value string) error {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed != domainID {
		return inserr.Errorf(inserr.KindValidation, "ins_dom_id value %q does not match path domain %d", value, domainID)
	}
	_, err = d.Registry.BindDomainID(domainID)
	return err
}

func (d *Dispatcher) handleIPAddrs(domainID int, value string) error {
	var nonLoopback []string
	for _, field := range strings.Fields(value) {
		ip := net.ParseIP(field)
		if ip == nil {
			return inserr.Errorf(inserr.KindValidation, "ip_addrs: unparseable address %q", field)
		}
		if ip.IsLoopback() {
			continue
		}
		nonLoopback = append(nonLoopback, field)
	}
	if len(nonLoopback) != 1 {
		return inserr.Errorf(inserr.KindValidation, "ip_addrs: expected exactly one non-loopback address, got %d", len(nonLoopback))
	}

	i := d.Registry.EnsureByID(domainID)
	i.SetAddress(net.ParseIP(nonLoopback[0]))

	opts := netparams.Generate()
	return d.Bus.Put(context.Background(), d.Root+"/"+strconv.Itoa(domainID)+"/sockopts", opts)
}

func (d *Dispatcher) handleNetworkStats(domainID int, value string) error {
	fields := strings.Split(value, ":")
	if len(fields) != 4 {
		return inserr.Errorf(inserr.KindValidation, "network_stats: expected 4 colon-separated counters, got %d", len(fields))
	}
	parsed := make([]uint64, 4)
	for idx, f := range fields {
		v, err := strconv.ParseUint(f, 16, 64)
		if err != nil {
			return inserr.Wrapf(err, inserr.KindValidation, "network_stats: bad counter %q", f)
		}
		parsed[idx] = v
	}
	i := d.Registry.EnsureByID(domainID)
	i.UpdateStats(ins.Stats{
		MaxSockets:  parsed[0],
		UsedSockets: parsed[1],
		RecvBytes:   parsed[2],
		SentBytes:   parsed[3],
	})
	return nil
}

func (d *Dispatcher) handleHeartbeat(domainID int) error {
	i := d.Registry.EnsureByID(domainID)
	i.Heartbeat(d.Now())
	return nil
}

func (d *Dispatcher) handleListeningPorts(domainID int, value string) error {
	i := d.Registry.EnsureByID(domainID)
	for _, field := range strings.Fields(value) {
		port, err := strconv.ParseUint(field, 16, 16)
		if err != nil {
			return inserr.Wrapf(err, inserr.KindValidation, "listening_ports: bad port %q", field)
		}
		i.EnsureForwarder(uint16(port))
	}
	return nil
}
