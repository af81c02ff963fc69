package control

import (
	"net"
	"sync/atomic"

	E "github.com/sagernet/sing-socket/common/exceptions"

	"golang.org/x/sys/unix"
)

var ifIndexDisabled atomic.Bool

// BindToInterface restricts the socket to one network interface. The index
// option is tried first; kernels without it fall back to the device name.
func BindToInterface(interfaceName string) Func {
	return func(fd int) error {
		if !ifIndexDisabled.Load() {
			iface, err := net.InterfaceByName(interfaceName)
			if err != nil {
				return E.Cause(err, "find interface ", interfaceName)
			}
			err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BINDTOIFINDEX, iface.Index)
			if err == nil {
				return nil
			} else if err == unix.ENOPROTOOPT || err == unix.EINVAL {
				ifIndexDisabled.Store(true)
			} else {
				return err
			}
		}
		return unix.BindToDevice(fd, interfaceName)
	}
}
