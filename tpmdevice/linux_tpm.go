//go:build linux

package tpmdevice

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/go-tpm/legacy/tpm2"
	"golang.org/x/sys/unix"
)

// openTPM for linux: the configured device, else /dev/tpmrm0 then /dev/tpm0.
func openTPM(device string) (io.ReadWriteCloser, error) {
	paths := []string{"/dev/tpmrm0", "/dev/tpm0"}
	if device != "" {
		paths = []string{device}
	}
	var lastErr error

	for _, p := range paths {
		if err := unix.Access(p, unix.R_OK|unix.W_OK); err != nil {
			if errors.Is(err, unix.EACCES) {
				err = fmt.Errorf("%s: permission denied (add the user to the tss group): %w", p, err)
			} else {
				err = fmt.Errorf("%s: %w", p, err)
			}
			lastErr = err
			continue
		}
		rwc, err := tpm2.OpenTPM(p)
		if err == nil {
			return rwc, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no TPM device paths tried")
	}
	return nil, fmt.Errorf("no TPM device found: %w", lastErr)
}
