package control

import (
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"

	"golang.org/x/sys/unix"
)

// SetKeepAlivePeriod enables TCP keep-alive probes. Periods are rounded up to
// whole seconds.
func SetKeepAlivePeriod(idle time.Duration, interval time.Duration) Func {
	return func(fd int) error {
		return E.Errors(
			unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1),
			unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, roundSeconds(idle)),
			unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, roundSeconds(interval)),
		)
	}
}

func roundSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
