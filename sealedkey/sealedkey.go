// Package sealedkey generates per-reference AES key material and keeps it sealed in the secure store.
package sealedkey

import (
	"context"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"

	"github.com/quantumauth-io/tpm-encrypt/cipherpipe"
	"github.com/quantumauth-io/tpm-encrypt/entropy"
	"github.com/quantumauth-io/tpm-encrypt/errs"
	"github.com/quantumauth-io/tpm-encrypt/keyref"
	"github.com/quantumauth-io/tpm-encrypt/log"
	"github.com/quantumauth-io/tpm-encrypt/metrics"
	"github.com/quantumauth-io/tpm-encrypt/securestore"
)

const (
	KeySize = cipherpipe.KeySize
	IVSize  = cipherpipe.BlockSize
)

// KeyMaterial is an unsealed key/IV pair. The caller owns it and must Wipe it.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

func (m *KeyMaterial) Wipe() {
	if m == nil {
		return
	}
	memguard.WipeBytes(m.Key)
	memguard.WipeBytes(m.IV)
	m.Key, m.IV = nil, nil
}

type Manager struct {
	store  *securestore.Client
	random entropy.Source
	codec  keyref.Codec
	authCB securestore.AuthCallback
	logger *zap.SugaredLogger
}

type Option func(*Manager)

func WithCodec(c keyref.Codec) Option { return func(m *Manager) { m.codec = c } }

func WithAuthCallback(cb securestore.AuthCallback) Option {
	return func(m *Manager) { m.authCB = cb }
}

func WithLogger(l *zap.SugaredLogger) Option { return func(m *Manager) { m.logger = l } }

func NewManager(store *securestore.Client, random entropy.Source, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		random: random,
		authCB: securestore.DefaultAuthCallback,
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = log.Or(m.logger)
	return m
}

// session connects, registers the auth callback and makes sure the store is provisioned.
// The returned handle is always non-nil when err is nil and must be closed by the caller.
func (m *Manager) session(ctx context.Context) (*securestore.Handle, error) {
	h, err := m.store.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetAuthCallback(h, m.authCB); err != nil {
		_ = h.Close()
		return nil, err
	}
	if err := m.store.EnsureProvisioned(ctx, h); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

// GenerateAndSeal draws a fresh key and IV and seals them at the reference's key and IV paths,
// replacing any earlier material. If the IV seal fails the new key stays sealed; treat the
// reference as unusable until it is regenerated.
func (m *Manager) GenerateAndSeal(ctx context.Context, ref string) (err error) {
	defer func(start time.Time) { metrics.RecordOperation(metrics.OpGenerate, start, err) }(time.Now())

	keyPath, ivPath, err := m.codec.Paths(ref)
	if err != nil {
		return err
	}

	h, err := m.session(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	material := &KeyMaterial{}
	defer material.Wipe()

	if material.Key, err = m.random.Read(KeySize); err != nil {
		return err
	}
	if material.IV, err = m.random.Read(IVSize); err != nil {
		return err
	}

	auth, err := m.authCB(keyPath, "seal key")
	if err != nil {
		return err
	}

	if err := m.store.Seal(ctx, h, keyPath, securestore.PolicyNoDA, auth, material.Key); err != nil {
		return err
	}
	if err := m.store.Seal(ctx, h, ivPath, securestore.PolicyNoDA, auth, material.IV); err != nil {
		m.logger.Warnw("key sealed but iv seal failed; reference is unusable until regenerated", "ref", ref)
		return err
	}

	m.logger.Infow("generated and sealed key material", "ref", ref, "session", h.ID())
	return nil
}

// Unseal returns both halves or nothing.
func (m *Manager) Unseal(ctx context.Context, ref string) (material *KeyMaterial, err error) {
	defer func(start time.Time) { metrics.RecordOperation(metrics.OpUnseal, start, err) }(time.Now())

	keyPath, ivPath, err := m.codec.Paths(ref)
	if err != nil {
		return nil, err
	}

	h, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	out := &KeyMaterial{}
	if out.Key, err = m.store.Unseal(ctx, h, keyPath); err != nil {
		return nil, err
	}
	if out.IV, err = m.store.Unseal(ctx, h, ivPath); err != nil {
		out.Wipe()
		return nil, err
	}

	if len(out.Key) != KeySize || len(out.IV) != IVSize {
		n, ivn := len(out.Key), len(out.IV)
		out.Wipe()
		return nil, fmt.Errorf("%w: sealed key is %d bytes and iv %d bytes for %q, want %d and %d",
			errs.ErrInvalidKeyMaterial, n, ivn, ref, KeySize, IVSize)
	}
	return out, nil
}

// Delete removes both sealed objects of ref.
func (m *Manager) Delete(ctx context.Context, ref string) (err error) {
	defer func(start time.Time) { metrics.RecordOperation(metrics.OpDelete, start, err) }(time.Now())

	keyPath, ivPath, err := m.codec.Paths(ref)
	if err != nil {
		return err
	}

	h, err := m.session(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	keyErr := m.store.Delete(ctx, h, keyPath)
	ivErr := m.store.Delete(ctx, h, ivPath)
	if keyErr != nil {
		return keyErr
	}
	if ivErr != nil {
		return ivErr
	}
	m.logger.Infow("deleted key material", "ref", ref)
	return nil
}

// WipeAll removes every sealed object and resets provisioning.
func (m *Manager) WipeAll(ctx context.Context) (err error) {
	defer func(start time.Time) { metrics.RecordOperation(metrics.OpWipe, start, err) }(time.Now())
	return m.store.WipeAll(ctx)
}
