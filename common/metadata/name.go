package metadata

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseName splits an "address:port" name. IPv6 addresses come back wrapped
// in brackets. A name without a colon is a unix socket path with port 0.
func ParseName(name string) (address string, port int) {
	colon := strings.LastIndexByte(name, ':')
	if colon == -1 {
		return name, 0
	}
	address = strings.Trim(name[:colon], "[]")
	port, _ = strconv.Atoi(name[colon+1:])
	return ParseAddress(address), port
}

// ParseAddress wraps IPv6 addresses in brackets and returns anything else
// unchanged.
func ParseAddress(address string) string {
	if strings.IndexByte(address, ':') != -1 {
		return "[" + strings.Trim(address, "[]") + "]"
	}
	return address
}

// MakeName formats address and port as "address:port". Port -1 denotes a unix
// socket and yields the bare path.
func MakeName(address string, port int) string {
	if port == -1 {
		return address
	}
	return fmt.Sprintf("%s:%d", ParseAddress(address), port)
}

func MakeURI(protocol string, address string, port int) string {
	return protocol + "://" + MakeName(address, port)
}
