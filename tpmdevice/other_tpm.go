//go:build !linux && !windows

package tpmdevice

import "io"

func openTPM(_ string) (io.ReadWriteCloser, error) {
	return nil, ErrUnsupported
}
