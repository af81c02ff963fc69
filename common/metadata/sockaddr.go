//go:build unix

package metadata

import (
	"net"
	"net/netip"
	"strings"

	E "github.com/sagernet/sing-socket/common/exceptions"

	"golang.org/x/sys/unix"
)

func AddrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(addr.Addr), uint16(addr.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(addr.Addr), uint16(addr.Port))
	default:
		return netip.AddrPort{}
	}
}

func AddrPortToSockaddr(addrPort netip.AddrPort) unix.Sockaddr {
	if addrPort.Addr().Is4() || addrPort.Addr().Is4In6() {
		return &unix.SockaddrInet4{
			Port: int(addrPort.Port()),
			Addr: addrPort.Addr().As4(),
		}
	}
	return &unix.SockaddrInet6{
		Port: int(addrPort.Port()),
		Addr: addrPort.Addr().As16(),
	}
}

// ResolveSockaddr converts an address and port into a socket address. Port -1
// selects a unix socket path and an empty address means any IPv4 address.
// Domain names are resolved synchronously.
func ResolveSockaddr(address string, port int) (unix.Sockaddr, error) {
	return ResolveSockaddrFamily(address, port, unix.AF_UNSPEC)
}

// ResolveSockaddrFamily is ResolveSockaddr for a socket of the given family.
// Domain names resolve to that family only, IPv4 addresses are mapped for
// IPv6 sockets and any other mismatch is an error.
func ResolveSockaddrFamily(address string, port int, family int) (unix.Sockaddr, error) {
	if port == -1 {
		if address == "" {
			return nil, E.New("empty unix socket path")
		}
		if family != unix.AF_UNSPEC && family != unix.AF_UNIX {
			return nil, E.New("unix socket path ", address, " for an ip socket")
		}
		return &unix.SockaddrUnix{Name: address}, nil
	}
	if port < 0 || port > 65535 {
		return nil, E.New("port out of range: ", port)
	}
	network := "ip"
	switch family {
	case unix.AF_INET:
		network = "ip4"
	case unix.AF_UNIX:
		return nil, E.New("ip address ", address, " for a unix socket")
	}
	host := strings.Trim(address, "[]")
	if host == "" {
		host = "0.0.0.0"
	}
	destination := ParseSocksaddrHostPort(host, uint16(port))
	if destination.IsFqdn() {
		ipAddr, err := net.ResolveIPAddr(network, destination.Fqdn)
		if err != nil {
			return nil, E.Cause(err, "resolve ", destination)
		}
		destination.Addr = ParseAddr(ipAddr.IP.String())
	}
	if family == unix.AF_INET && !destination.Addr.Is4() {
		return nil, E.New("IPv6 address ", destination, " for an IPv4 socket")
	}
	return SockaddrForFamily(AddrPortToSockaddr(destination.AddrPort()), family), nil
}

// NameFromSockaddr is the inverse of ResolveSockaddr. Unix sockets report
// their path and port 0.
func NameFromSockaddr(sa unix.Sockaddr) (address string, port int) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4, *unix.SockaddrInet6:
		addrPort := SocksaddrFromNetIP(AddrPortFromSockaddr(addr))
		return ParseAddress(addrPort.AddrString()), int(addrPort.Port)
	case *unix.SockaddrUnix:
		return addr.Name, 0
	default:
		return "", 0
	}
}

func SockaddrFamily(sa unix.Sockaddr) int {
	switch sa.(type) {
	case *unix.SockaddrInet4:
		return unix.AF_INET
	case *unix.SockaddrInet6:
		return unix.AF_INET6
	default:
		return unix.AF_UNIX
	}
}

// SockaddrForFamily maps an IPv4 peer into the IPv4-mapped IPv6 range when the
// sending socket is AF_INET6.
func SockaddrForFamily(sa unix.Sockaddr, family int) unix.Sockaddr {
	if addr, isInet4 := sa.(*unix.SockaddrInet4); isInet4 && family == unix.AF_INET6 {
		return &unix.SockaddrInet6{
			Port: addr.Port,
			Addr: netip.AddrFrom4(addr.Addr).As16(),
		}
	}
	return sa
}
