package metadata

import (
	"net"
	"net/netip"
	"strconv"
)

// Socksaddr is an endpoint given either as an IP address or as a domain name.
type Socksaddr struct {
	Addr netip.Addr
	Fqdn string
	Port uint16
}

func (ap Socksaddr) IsIP() bool {
	return ap.Addr.IsValid()
}

func (ap Socksaddr) IsFqdn() bool {
	return !ap.IsIP()
}

func (ap Socksaddr) AddrString() string {
	if ap.Addr.IsValid() {
		return ap.Addr.String()
	}
	return ap.Fqdn
}

func (ap Socksaddr) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr, ap.Port)
}

func (ap Socksaddr) String() string {
	return net.JoinHostPort(ap.AddrString(), strconv.Itoa(int(ap.Port)))
}

func SocksaddrFromNetIP(ap netip.AddrPort) Socksaddr {
	if ap.Addr().Is4In6() {
		return Socksaddr{
			Addr: netip.AddrFrom4(ap.Addr().As4()),
			Port: ap.Port(),
		}
	}
	return Socksaddr{
		Addr: ap.Addr(),
		Port: ap.Port(),
	}
}

func ParseAddr(s string) netip.Addr {
	addr, _ := netip.ParseAddr(s)
	if addr.Is4In6() {
		addr = netip.AddrFrom4(addr.As4())
	}
	return addr
}

func ParseSocksaddrHostPort(host string, port uint16) Socksaddr {
	netAddr, err := netip.ParseAddr(host)
	if err != nil {
		return Socksaddr{
			Fqdn: host,
			Port: port,
		}
	}
	if netAddr.Is4In6() {
		netAddr = netip.AddrFrom4(netAddr.As4())
	}
	return Socksaddr{
		Addr: netAddr,
		Port: port,
	}
}
