// Package iface selects network interfaces suitable for mDNS multicast.
package iface

import "net"

// Default returns the interfaces the Advertiser takes its addresses from when
// the caller hasn't supplied an explicit list: up, multicast-capable,
// non-loopback interfaces, with VPN and container bridges excluded so a
// stray tunnel doesn't end up carrying multicast traffic it was never meant
// to carry.
func Default() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	filtered := make([]net.Interface, 0, len(all))
	for _, i := range all {
		if i.Flags&net.FlagUp == 0 {
			continue
		}
		if i.Flags&net.FlagMulticast == 0 {
			continue
		}
		if i.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVPN(i.Name) || isDocker(i.Name) {
			continue
		}
		filtered = append(filtered, i)
	}

	return filtered, nil
}

// isVPN reports whether name matches a common VPN tunnel naming convention:
// utun/tun (macOS/Linux TUN devices, OpenVPN), ppp (PPTP/L2TP), wg/wireguard,
// and tailscale.
func isVPN(name string) bool {
	for _, prefix := range []string{"utun", "tun", "ppp", "wg", "tailscale", "wireguard"} {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// isDocker reports whether name matches Docker's default bridge (docker0),
// veth pairs, or custom bridge networks (br-*).
func isDocker(name string) bool {
	if name == "docker0" {
		return true
	}
	for _, prefix := range []string{"veth", "br-"} {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Addrs returns the non-loopback unicast IP addresses across the given
// interfaces, split by IPv4/IPv6 family.
func Addrs(ifaces []net.Interface) (v4, v6 []net.IP, err error) {
	for _, i := range ifaces {
		addrs, aerr := i.Addrs()
		if aerr != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				v4 = append(v4, ip4)
			} else {
				v6 = append(v6, ipnet.IP)
			}
		}
	}
	return v4, v6, nil
}
