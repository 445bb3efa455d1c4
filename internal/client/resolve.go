package client

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

type hostResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// resolveHost accepts a literal IP, otherwise looks the name up and prefers
// the first IPv4 address, falling back to the first address returned.
func resolveHost(ctx context.Context, r hostResolver, host string) (net.IP, error) {
	if host == "" {
		return nil, fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("Invalid host: %s has no addresses.", host)
	}
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return net.IP(a.Unmap().AsSlice()), nil
		}
	}
	return net.IP(addrs[0].AsSlice()), nil
}
