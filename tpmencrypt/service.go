// Package tpmencrypt encrypts and decrypts buffers and files with key material sealed in the TPM.
package tpmencrypt

import (
	"context"
	"io"
	"time"

	"github.com/google/go-tpm/tpmutil"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/quantumauth-io/tpm-encrypt/cipherpipe"
	"github.com/quantumauth-io/tpm-encrypt/config"
	"github.com/quantumauth-io/tpm-encrypt/entropy"
	"github.com/quantumauth-io/tpm-encrypt/keyref"
	"github.com/quantumauth-io/tpm-encrypt/keystore"
	"github.com/quantumauth-io/tpm-encrypt/log"
	"github.com/quantumauth-io/tpm-encrypt/metrics"
	"github.com/quantumauth-io/tpm-encrypt/sealedkey"
	"github.com/quantumauth-io/tpm-encrypt/securestore"
	"github.com/quantumauth-io/tpm-encrypt/tpmdevice"
)

type Service struct {
	keys    *sealedkey.Manager
	fs      afero.Fs
	logger  *zap.SugaredLogger
	closers []io.Closer
}

func NewService(keys *sealedkey.Manager, fs afero.Fs, logger *zap.SugaredLogger) *Service {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Service{keys: keys, fs: fs, logger: log.Or(logger)}
}

// New builds the service and its secure store from settings. Close releases the keystore.
func New(ctx context.Context, settings *config.Settings) (*Service, error) {
	logger := log.L()
	fs := afero.NewOsFs()

	var (
		capability securestore.Capability
		closers    []io.Closer
	)
	switch settings.Store.Backend {
	case config.StoreBackendMemory:
		logger.Warn("using the in-memory secure store; sealed keys will not survive this process")
		capability = securestore.NewMemoryCapability()
	case config.StoreBackendTPM, "":
		blobs, err := keystore.Open(ctx, settings.Keystore)
		if err != nil {
			return nil, errors.Wrap(err, "opening keystore")
		}
		device, err := tpmdevice.New(tpmdevice.Config{
			Device:    settings.Store.Device,
			SRKHandle: tpmutil.Handle(settings.Store.SRKHandle),
			Blobs:     blobs,
			Logger:    logger,
		})
		if err != nil {
			_ = blobs.Close()
			return nil, err
		}
		capability = device
		closers = append(closers, device)
	default:
		return nil, errors.Errorf("unknown store backend %q", settings.Store.Backend)
	}

	state := securestore.NewProvisioningState(fs, settings.Store.MarkerPath)
	client := securestore.NewClient(capability, state, logger)
	keys := sealedkey.NewManager(client, entropy.New(settings.Entropy.Device),
		sealedkey.WithCodec(keyref.Codec{Root: settings.Store.KeyRoot}),
		sealedkey.WithLogger(logger),
	)

	svc := NewService(keys, fs, logger)
	svc.closers = closers
	return svc, nil
}

func (s *Service) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// EncryptBytes seals a fresh key for ref, replacing any previous one, and encrypts plaintext with it.
func (s *Service) EncryptBytes(ctx context.Context, plaintext []byte, ref string) (out []byte, err error) {
	defer func(start time.Time) { metrics.RecordOperation(metrics.OpEncrypt, start, err) }(time.Now())

	material, err := s.freshKey(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer material.Wipe()

	out, err = cipherpipe.Encrypt(material.Key, material.IV, plaintext)
	if err != nil {
		s.logger.Errorw("encryption failed", "ref", ref, "error", err)
		return nil, err
	}
	metrics.RecordBytes(metrics.OpEncrypt, int64(len(plaintext)))
	return out, nil
}

// DecryptBytes decrypts ciphertext with the key currently sealed for ref.
func (s *Service) DecryptBytes(ctx context.Context, ciphertext []byte, ref string) (out []byte, err error) {
	defer func(start time.Time) { metrics.RecordOperation(metrics.OpDecrypt, start, err) }(time.Now())

	material, err := s.keys.Unseal(ctx, ref)
	if err != nil {
		s.logger.Errorw("could not unseal key", "ref", ref, "error", err)
		return nil, err
	}
	defer material.Wipe()

	out, err = cipherpipe.Decrypt(material.Key, material.IV, ciphertext)
	if err != nil {
		s.logger.Errorw("decryption failed", "ref", ref, "error", err)
		return nil, err
	}
	metrics.RecordBytes(metrics.OpDecrypt, int64(len(ciphertext)))
	return out, nil
}

// DeleteKey removes the sealed key and IV of ref.
func (s *Service) DeleteKey(ctx context.Context, ref string) error {
	return s.keys.Delete(ctx, ref)
}

// WipeAll removes all sealed data and the provisioning marker.
func (s *Service) WipeAll(ctx context.Context) error {
	return s.keys.WipeAll(ctx)
}

// freshKey generates and seals new material, then reads it back through the store so the
// caller only ever encrypts with material that is known to unseal.
func (s *Service) freshKey(ctx context.Context, ref string) (*sealedkey.KeyMaterial, error) {
	if err := s.keys.GenerateAndSeal(ctx, ref); err != nil {
		s.logger.Errorw("could not generate sealed key", "ref", ref, "error", err)
		return nil, err
	}
	material, err := s.keys.Unseal(ctx, ref)
	if err != nil {
		s.logger.Errorw("could not unseal freshly sealed key", "ref", ref, "error", err)
		return nil, err
	}
	return material, nil
}
