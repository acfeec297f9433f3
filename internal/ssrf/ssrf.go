package ssrf

import (
    "context"
    "errors"
    "net"
    "net/netip"
    "net/url"
)

var (
    ipv4Private = []netip.Prefix{
        netip.MustParsePrefix("127.0.0.0/8"),
        netip.MustParsePrefix("10.0.0.0/8"),
        netip.MustParsePrefix("172.16.0.0/12"),
        netip.MustParsePrefix("192.168.0.0/16"),
        netip.MustParsePrefix("169.254.0.0/16"),
        netip.MustParsePrefix("0.0.0.0/8"),
        netip.MustParsePrefix("192.0.0.0/24"),
        netip.MustParsePrefix("100.64.0.0/10"),
        netip.MustParsePrefix("198.18.0.0/15"),
        netip.MustParsePrefix("224.0.0.0/4"),
        netip.MustParsePrefix("240.0.0.0/4"),
    }
    ipv6Private = []netip.Prefix{
        netip.MustParsePrefix("::1/128"),
        netip.MustParsePrefix("::/128"),
        netip.MustParsePrefix("fe80::/10"),
        netip.MustParsePrefix("fc00::/7"),
        netip.MustParsePrefix("2001:db8::/32"),
        netip.MustParsePrefix("ff00::/8"),
    }
)

var (
    ErrEmptyHost   = errors.New("empty host")
    ErrNoAllowedIP = errors.New("no allowed ip for host")
)

// IsBlocked reports whether ip is loopback, private, link-local or otherwise
// not a public unicast address.
func IsBlocked(ip netip.Addr) bool {
    ip = ip.Unmap()
    if ip.IsLoopback() || ip.IsUnspecified() { return true }
    if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() { return true }
    for _, p := range ipv4Private {
        if p.Contains(ip) { return true }
    }
    for _, p := range ipv6Private {
        if p.Contains(ip) { return true }
    }
    return false
}

// Resolver is the subset of *net.Resolver used here.
type Resolver interface {
    LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// ResolveAndPin resolves the URL host and returns the first address that may
// be dialled, plus the host name for TLS. allowPrivate skips the block list.
func ResolveAndPin(ctx context.Context, r Resolver, u *url.URL, allowPrivate bool) (netip.Addr, string, error) {
    host := u.Hostname()
    if host == "" { return netip.Addr{}, "", ErrEmptyHost }
    if ip, err := netip.ParseAddr(host); err == nil {
        if !allowPrivate && IsBlocked(ip) { return netip.Addr{}, host, ErrNoAllowedIP }
        return ip, host, nil
    }
    if r == nil { r = net.DefaultResolver }
    ips, err := r.LookupNetIP(ctx, "ip", host)
    if err != nil { return netip.Addr{}, "", err }
    for _, ip := range ips {
        if !allowPrivate && IsBlocked(ip) { continue }
        return ip.Unmap(), host, nil
    }
    return netip.Addr{}, host, ErrNoAllowedIP
}

// PinnedAddr returns ip:port for u, filling the scheme's default port.
func PinnedAddr(ip netip.Addr, u *url.URL) string {
    port := u.Port()
    if port == "" {
        port = "80"
        if u.Scheme == "https" { port = "443" }
    }
    return net.JoinHostPort(ip.String(), port)
}
