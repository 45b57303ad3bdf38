//go:build windows

package tpmdevice

import (
	"fmt"
	"io"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"
)

// openTPM on Windows talks to the TPM through TBS; the device path is ignored.
func openTPM(_ string) (io.ReadWriteCloser, error) {
	rwc, err := tpm2.OpenTPM()
	if err != nil {
		return nil, fmt.Errorf("tpmdevice: OpenTPM (windows) failed: %w", err)
	}
	return rwc, nil
}
