// Package tpmdevice implements the secure store capability on a TPM 2.0 device.
//
// Objects are sealed as KeyedHash objects under a persistent storage root key (SRK). The TPM
// only returns the wrapped private and public areas, so those are persisted in a keystore under
// the object path and loaded back under the SRK on unseal.
package tpmdevice

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/go-tpm/tpmutil"
	"go.uber.org/zap"

	"github.com/quantumauth-io/tpm-encrypt/keystore"
	"github.com/quantumauth-io/tpm-encrypt/log"
	"github.com/quantumauth-io/tpm-encrypt/securestore"
)

// DefaultSRKHandle is the conventional persistent handle of the storage root key.
const DefaultSRKHandle = tpmutil.Handle(0x81000001)

// ErrUnsupported is returned on platforms without a TPM 2.0 driver.
var ErrUnsupported = errors.New("tpmdevice: TPM not supported on this platform")

type Config struct {
	// Device is the TPM character device; empty probes the platform defaults.
	Device    string
	SRKHandle tpmutil.Handle
	// OwnerAuth is the owner hierarchy password (usually "").
	OwnerAuth string
	// Blobs persists the sealed private/public areas.
	Blobs keystore.Store
	// Opener replaces the platform device, e.g. with a simulator.
	Opener func() (io.ReadWriteCloser, error)
	Logger *zap.SugaredLogger
}

// Device is a securestore.Capability backed by a TPM.
type Device struct {
	cfg Config
}

var _ securestore.Capability = (*Device)(nil)

func New(cfg Config) (*Device, error) {
	if cfg.Blobs == nil {
		return nil, errors.New("tpmdevice: a blob keystore is required")
	}
	if cfg.SRKHandle == 0 {
		cfg.SRKHandle = DefaultSRKHandle
	}
	if cfg.Opener == nil {
		device := cfg.Device
		cfg.Opener = func() (io.ReadWriteCloser, error) { return openTPM(device) }
	}
	cfg.Logger = log.Or(cfg.Logger)
	return &Device{cfg: cfg}, nil
}

func (d *Device) Open(_ context.Context) (securestore.Session, error) {
	rwc, err := d.cfg.Opener()
	if err != nil {
		return nil, err
	}
	return &session{rwc: rwc, cfg: d.cfg}, nil
}

// Close releases the blob keystore.
func (d *Device) Close() error {
	return d.cfg.Blobs.Close()
}

func logf(logger *zap.SugaredLogger, format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func wrapNotFound(path string, err error) error {
	if errors.Is(err, keystore.ErrNotFound) {
		return fmt.Errorf("%w: %s", securestore.ErrObjectNotFound, path)
	}
	return err
}
