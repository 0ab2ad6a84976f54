// Package discovery announces and finds warpchat relays on the local
// network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_warpchat._tcp"
	Domain      = "local."

	// pathKey carries the websocket path in the TXT record.
	pathKey     = "path="
	defaultPath = "/ws"
)

var ErrNoRelayFound = errors.New("no relay found on the local network")

// Advertise announces a relay listening on port. The returned function
// stops the announcement.
func Advertise(port int, instance string) (func(), error) {
	if instance == "" {
		instance = "warpchat-relay"
	}
	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		port,
		[]string{pathKey + defaultPath},
		nil, // all interfaces
	)
	if err != nil {
		return nil, fmt.Errorf("advertise relay: %w", err)
	}
	return server.Shutdown, nil
}

// Browse returns the websocket URL of the first relay that answers
// within timeout.
func Browse(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return "", fmt.Errorf("browse relays: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ErrNoRelayFound
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNoRelayFound
			}
			if entry == nil {
				continue
			}
			if u, ok := relayURL(entry); ok {
				return u, nil
			}
		}
	}
}

// relayURL builds ws://host:port/path from a resolved entry, preferring
// IPv4.
func relayURL(entry *zeroconf.ServiceEntry) (string, bool) {
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	if entry.Port <= 0 {
		return "", false
	}

	path := defaultPath
	for _, txt := range entry.Text {
		if p, ok := strings.CutPrefix(txt, pathKey); ok && strings.HasPrefix(p, "/") {
			path = p
		}
	}
	host := net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port))
	return "ws://" + host + path, true
}
