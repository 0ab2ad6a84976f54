package webrtc

import (
	"net"
	"strings"
	"time"

	"github.com/BioHazard786/warpchat/internal/config"
	pion "github.com/pion/webrtc/v4"
)

const DefaultGatherTimeout = 10 * time.Second

// ICEConfig is everything a Peer needs to find a path to the other side.
type ICEConfig struct {
	Servers       []pion.ICEServer
	Policy        pion.ICETransportPolicy
	GatherTimeout time.Duration
}

// NewICEConfig builds the ICE configuration from the loaded config. Relay
// only mode is used when asked for, or when this machine looks like it sits
// behind a VPN or CGNAT, as long as a TURN server is configured.
func NewICEConfig(cfg *config.Config) ICEConfig {
	ice := ICEConfig{
		Policy:        pion.ICETransportPolicyAll,
		GatherTimeout: cfg.ICEGatherTimeout,
	}
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		ice.Servers = append(ice.Servers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		ice.Servers = append(ice.Servers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
		if cfg.ForceRelay || ShouldForceRelay() {
			ice.Policy = pion.ICETransportPolicyRelay
		}
	}
	return ice
}

var cgnatBlock = func() *net.IPNet {
	_, block, _ := net.ParseCIDR("100.64.0.0/10")
	return block
}()

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or CGNAT
// and returns true if we should force TURN usage.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if tunnelInterface(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if inCGNAT(addr) {
				return true
			}
		}
	}
	return false
}

// tunnelInterface matches OpenVPN, tap adapters, WireGuard, PPP and WARP.
func tunnelInterface(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// Tailscale, Cloudflare WARP and carrier grade NAT all hand out 100.64.0.0/10.
func inCGNAT(addr net.Addr) bool {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	return ip != nil && cgnatBlock.Contains(ip)
}
