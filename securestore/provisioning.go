package securestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const markerContents = "provisioned\n"

// ProvisioningState records, in a local marker file, that the store has been provisioned.
//
// The marker and the store can disagree: a store provisioned by a lost marker makes the next
// Provision fail, and a wiped store with a stale marker skips provisioning.
type ProvisioningState struct {
	fs   afero.Fs
	path string
}

// NewProvisioningState tracks the marker at path. A nil fs means the OS filesystem.
func NewProvisioningState(fs afero.Fs, path string) *ProvisioningState {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &ProvisioningState{fs: fs, path: path}
}

func (p *ProvisioningState) Path() string { return p.path }

func (p *ProvisioningState) Provisioned() (bool, error) {
	ok, err := afero.Exists(p.fs, p.path)
	if err != nil {
		return false, fmt.Errorf("stat provisioning marker %s: %w", p.path, err)
	}
	return ok, nil
}

func (p *ProvisioningState) MarkProvisioned() error {
	if dir := filepath.Dir(p.path); dir != "." {
		if err := p.fs.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create marker dir: %w", err)
		}
	}
	if err := afero.WriteFile(p.fs, p.path, []byte(markerContents), 0o600); err != nil {
		return fmt.Errorf("write provisioning marker %s: %w", p.path, err)
	}
	return nil
}

// Clear removes the marker. A missing marker is not an error.
func (p *ProvisioningState) Clear() error {
	if err := p.fs.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove provisioning marker %s: %w", p.path, err)
	}
	return nil
}
