/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package channel

import (
	"net"
	"strconv"
)

// LocalCandidates lists link base URLs for every non-loopback unicast
// address on this host, falling back to loopback when there are none.
func LocalCandidates(scheme string, port int, prefix string) []string {
	var hosts []string

	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
				continue
			}
			hosts = append(hosts, ipnet.IP.String())
		}
	}

	if len(hosts) == 0 {
		hosts = append(hosts, "127.0.0.1")
	}

	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, scheme+"://"+net.JoinHostPort(h, strconv.Itoa(port))+prefix)
	}
	return out
}
