package gateway

import (
    "net"
    "net/netip"
)

// peerIP is the address on the other end of the TCP connection.
func peerIP(conn net.Conn) string {
    if ap, err := netip.ParseAddrPort(conn.RemoteAddr().String()); err == nil {
        return ap.Addr().Unmap().String()
    }
    host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
    if err == nil { return host }
    return conn.RemoteAddr().String()
}

// ipAllowed reports whether ip falls inside one of the prefixes. An empty
// allow list admits everyone.
func ipAllowed(ip string, prefixes []netip.Prefix) bool {
    if len(prefixes) == 0 { return true }
    addr, err := netip.ParseAddr(ip)
    if err != nil { return false }
    addr = addr.Unmap()
    for _, p := range prefixes {
        if p.Contains(addr) { return true }
    }
    return false
}
