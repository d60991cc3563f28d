// Package discovery finds chat nodes on the local network over mDNS so a node
// can join without being handed a bootstrap address.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_kchat._udp"
	Domain  = "local."
)

// Announcement keeps a node registered until Close.
type Announcement struct {
	server *zeroconf.Server
}

// Announce registers instance on port for every interface.
func Announce(instance string, port int, txt ...string) (*Announcement, error) {
	server, err := zeroconf.Register(instance, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register %s: %w", instance, err)
	}
	slog.Debug("mdns service registered", "instance", instance, "port", port)
	return &Announcement{server: server}, nil
}

func (a *Announcement) Close() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Browse listens for wait (or until ctx ends) and returns the host:port of
// every node seen, skipping the instance named self.
func Browse(ctx context.Context, wait time.Duration, self string) ([]string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	found := make(map[string]struct{})
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return sorted(found), nil
			}
			if addr, ok := seedAddress(entry, self); ok {
				slog.Debug("mdns discovered peer", "instance", entry.Instance, "addr", addr)
				found[addr] = struct{}{}
			}
		case <-ctx.Done():
			return sorted(found), nil
		}
	}
}

// seedAddress picks a dialable address for entry, preferring IPv4.
func seedAddress(entry *zeroconf.ServiceEntry, self string) (string, bool) {
	if entry == nil || entry.Instance == self || entry.Port <= 0 {
		return "", false
	}
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)), true
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
