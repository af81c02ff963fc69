package control

import (
	E "github.com/sagernet/sing-socket/common/exceptions"
)

// Func configures a socket after creation and before bind or connect.
type Func = func(fd int) error

func Append(oldFunc Func, newFunc Func) Func {
	if oldFunc == nil {
		return newFunc
	} else if newFunc == nil {
		return oldFunc
	}
	return func(fd int) error {
		if err := oldFunc(fd); err != nil {
			return err
		}
		return newFunc(fd)
	}
}

// Apply runs every func in order and stops at the first error.
func Apply(fd int, funcs ...Func) error {
	for _, f := range funcs {
		if f == nil {
			continue
		}
		if err := f(fd); err != nil {
			return E.Cause(err, "configure socket")
		}
	}
	return nil
}
