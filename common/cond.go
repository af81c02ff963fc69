package common

import (
	"context"
	"io"
)

func Done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func DefaultValue[T any]() T {
	var defaultValue T
	return defaultValue
}

func Min[T int | int64 | uint16 | float64](x, y T) T {
	if x < y {
		return x
	}
	return y
}

func Close(closers ...any) error {
	var retErr error
	for _, closer := range closers {
		if closer == nil {
			continue
		}
		if c, isCloser := closer.(io.Closer); isCloser {
			if err := c.Close(); err != nil && retErr == nil {
				retErr = err
			}
		}
	}
	return retErr
}
