//go:build !linux

package tcp

import (
	E "github.com/sagernet/sing-socket/common/exceptions"
)

func setFastOpen(fd int, queue int) error {
	return E.New("TCP fast open is only supported on linux")
}

func setFastOpenConnect(fd int) error {
	return E.New("TCP fast open is only supported on linux")
}
