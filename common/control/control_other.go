//go:build !linux

package control

import (
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"
)

func RoutingMark(mark int) Func {
	return func(fd int) error {
		return E.New("routing mark is only supported on linux")
	}
}

func BindToInterface(interfaceName string) Func {
	return func(fd int) error {
		return E.New("binding to an interface is only supported on linux")
	}
}

func SetKeepAlivePeriod(idle time.Duration, interval time.Duration) Func {
	return func(fd int) error {
		return E.New("keep-alive periods are only supported on linux")
	}
}
