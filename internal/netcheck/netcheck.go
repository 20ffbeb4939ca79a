// Package netcheck guesses whether direct peer connections are likely to
// fail. Calls have no TURN relay, so VPN tunnels and carrier-grade NAT are
// worth a warning before joining.
package netcheck

import (
	"net"
	"strings"
)

// cgnat is 100.64.0.0/10, used by carrier-grade NAT, Tailscale and WARP.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// Interface is the subset of an interface inspected by Restricted.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []net.IP
}

// Restricted reports the first interface that looks like a tunnel or sits
// behind carrier-grade NAT, with a short reason.
func Restricted(ifaces []Interface) (string, bool) {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, t := range tunnelNames {
			if strings.Contains(name, t) {
				return "VPN interface " + iface.Name, true
			}
		}
		for _, ip := range iface.Addrs {
			if cgnat.Contains(ip) {
				return "carrier-grade NAT address " + ip.String() + " on " + iface.Name, true
			}
		}
	}
	return "", false
}

// Local inspects the host's interfaces. Errors yield an empty list.
func Local() []Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		entry := Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					entry.Addrs = append(entry.Addrs, v.IP)
				case *net.IPAddr:
					entry.Addrs = append(entry.Addrs, v.IP)
				}
			}
		}
		out = append(out, entry)
	}
	return out
}
