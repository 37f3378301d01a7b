package utils

import (
	"net"
	"strings"
)

// GetLocalIPs returns all non-loopback IPv4 addresses.
// Link-local (169.254.x.x) addresses are dropped only if a routable one exists;
// a base camp laptop on an ad-hoc hotspot may have nothing else.
func GetLocalIPs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	var ips []net.IP
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok {
			ips = append(ips, ipnet.IP)
		}
	}
	return filterLocalIPs(ips)
}

func filterLocalIPs(ips []net.IP) []string {
	var all []string
	hasRoutable := false
	for _, ip := range ips {
		if ip.IsLoopback() || ip.To4() == nil {
			continue
		}
		s := ip.String()
		all = append(all, s)
		if !strings.HasPrefix(s, "169.254") {
			hasRoutable = true
		}
	}

	var out []string
	for _, s := range all {
		if hasRoutable && strings.HasPrefix(s, "169.254") {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ScannerURLs lists the base URLs scanners on the same network can use as
// their primary route
func ScannerURLs(port string) []string {
	var urls []string
	for _, ip := range GetLocalIPs() {
		urls = append(urls, "http://"+net.JoinHostPort(ip, port))
	}
	return urls
}
