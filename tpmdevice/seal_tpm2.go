package tpmdevice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tpm2 "github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"

	"github.com/quantumauth-io/tpm-encrypt/securestore"
)

const sealedBlobVersion = 1

type sealedBlobV1 struct {
	V      int    `json:"v"`
	Label  string `json:"label"`
	Policy string `json:"policy,omitempty"`
	Priv   []byte `json:"priv"` // []byte becomes base64 automatically in JSON
	Pub    []byte `json:"pub"`
}

type session struct {
	rwc io.ReadWriteCloser
	cfg Config
	cb  securestore.AuthCallback
}

func (s *session) SetAuthCallback(cb securestore.AuthCallback) error {
	s.cb = cb
	return nil
}

// Provision creates the SRK and persists it. An occupied SRK handle is an error: the store was
// already provisioned, possibly by a run whose marker was lost.
func (s *session) Provision(_ context.Context) error {
	if _, _, _, err := tpm2.ReadPublic(s.rwc, s.cfg.SRKHandle); err == nil {
		return fmt.Errorf("tpmdevice: persistent handle 0x%x already in use", uint32(s.cfg.SRKHandle))
	}

	transient, err := createPrimaryStorageKey(s.rwc, s.cfg.OwnerAuth)
	if err != nil {
		return err
	}
	// EvictControl copies the key; the transient handle is always flushed.
	defer tpm2.FlushContext(s.rwc, transient)

	if err := tpm2.EvictControl(s.rwc, s.cfg.OwnerAuth, tpm2.HandleOwner, transient, s.cfg.SRKHandle); err != nil {
		return fmt.Errorf("tpmdevice: EvictControl (persist SRK) failed at 0x%x: %w", uint32(s.cfg.SRKHandle), err)
	}
	logf(s.cfg.Logger, "tpmdevice: created persistent SRK at 0x%x", uint32(s.cfg.SRKHandle))
	return nil
}

func (s *session) Seal(ctx context.Context, path string, policy securestore.Policy, auth string, data []byte) error {
	if len(data) == 0 {
		return errors.New("tpmdevice: secret empty")
	}

	privBlob, pubBlob, _, _, _, err := tpm2.CreateKeyWithSensitive(
		s.rwc,
		s.cfg.SRKHandle,
		tpm2.PCRSelection{},
		"",   // parentPassword
		auth, // object auth, presented again on unseal
		sealedObjectTemplate(policy),
		data,
	)
	if err != nil {
		return fmt.Errorf("tpmdevice: CreateKeyWithSensitive: %w", err)
	}

	out, err := json.Marshal(sealedBlobV1{
		V:      sealedBlobVersion,
		Label:  path,
		Policy: string(policy),
		Priv:   privBlob,
		Pub:    pubBlob,
	})
	if err != nil {
		return fmt.Errorf("tpmdevice: marshal sealed blob: %w", err)
	}
	if err := s.cfg.Blobs.Put(ctx, path, out); err != nil {
		return fmt.Errorf("tpmdevice: store sealed blob: %w", err)
	}
	return nil
}

func (s *session) Unseal(ctx context.Context, path string) ([]byte, error) {
	raw, err := s.cfg.Blobs.Get(ctx, path)
	if err != nil {
		return nil, wrapNotFound(path, err)
	}
	sb, err := decodeSealedBlob(raw, path)
	if err != nil {
		return nil, err
	}

	if s.cb == nil {
		return nil, errors.New("tpmdevice: no auth callback registered")
	}
	password, err := s.cb(path, "unseal "+path)
	if err != nil {
		return nil, err
	}

	h, _, err := tpm2.Load(s.rwc, s.cfg.SRKHandle, "", sb.Pub, sb.Priv)
	if err != nil {
		return nil, fmt.Errorf("tpmdevice: Load(sealed): %w", err)
	}
	defer tpm2.FlushContext(s.rwc, h)

	secret, err := tpm2.Unseal(s.rwc, h, password)
	if err != nil {
		return nil, fmt.Errorf("tpmdevice: Unseal: %w", err)
	}
	return secret, nil
}

// Delete removes the blobs at and below path. "/" also evicts the SRK.
func (s *session) Delete(ctx context.Context, path string) error {
	n, err := s.cfg.Blobs.Delete(ctx, path)
	if err != nil {
		return fmt.Errorf("tpmdevice: delete blobs: %w", err)
	}

	if path != "/" {
		if n == 0 {
			return fmt.Errorf("%w: %s", securestore.ErrObjectNotFound, path)
		}
		return nil
	}

	if _, _, _, err := tpm2.ReadPublic(s.rwc, s.cfg.SRKHandle); err != nil {
		logf(s.cfg.Logger, "tpmdevice: no SRK at 0x%x to evict", uint32(s.cfg.SRKHandle))
		return nil
	}
	if err := tpm2.EvictControl(s.rwc, s.cfg.OwnerAuth, tpm2.HandleOwner, s.cfg.SRKHandle, s.cfg.SRKHandle); err != nil {
		return fmt.Errorf("tpmdevice: EvictControl (remove SRK) failed at 0x%x: %w", uint32(s.cfg.SRKHandle), err)
	}
	logf(s.cfg.Logger, "tpmdevice: evicted SRK at 0x%x, removed %d blobs", uint32(s.cfg.SRKHandle), n)
	return nil
}

func (s *session) Close() error {
	if s.rwc == nil {
		return nil
	}
	err := s.rwc.Close()
	s.rwc = nil
	if err == nil || errors.Is(err, os.ErrClosed) || strings.Contains(err.Error(), "file already closed") {
		return nil
	}
	return fmt.Errorf("tpmdevice: close: %w", err)
}

// A "sealed data" object is a KeyedHash object with AlgNull.
func sealedObjectTemplate(policy securestore.Policy) tpm2.Public {
	attrs := tpm2.FlagFixedTPM | tpm2.FlagFixedParent | tpm2.FlagUserWithAuth
	if policy == securestore.PolicyNoDA {
		attrs |= tpm2.FlagNoDA
	}
	return tpm2.Public{
		Type:       tpm2.AlgKeyedHash,
		NameAlg:    tpm2.AlgSHA256,
		Attributes: attrs,
		KeyedHashParameters: &tpm2.KeyedHashParams{
			Alg: tpm2.AlgNull,
		},
	}
}

func decodeSealedBlob(raw []byte, path string) (sealedBlobV1, error) {
	var sb sealedBlobV1
	if err := json.Unmarshal(raw, &sb); err != nil {
		return sb, fmt.Errorf("tpmdevice: unmarshal sealed blob: %w", err)
	}
	if sb.V != sealedBlobVersion {
		return sb, fmt.Errorf("tpmdevice: unsupported sealed blob version: %d", sb.V)
	}
	if sb.Label != path {
		return sb, errors.New("tpmdevice: sealed blob label mismatch")
	}
	if len(sb.Priv) == 0 || len(sb.Pub) == 0 {
		return sb, errors.New("tpmdevice: sealed blob is incomplete")
	}
	return sb, nil
}

func createPrimaryStorageKey(rwc io.ReadWriter, ownerAuth string) (tpmutil.Handle, error) {
	template := tpm2.Public{
		Type:    tpm2.AlgECC,
		NameAlg: tpm2.AlgSHA256,
		Attributes: tpm2.FlagDecrypt |
			tpm2.FlagRestricted |
			tpm2.FlagFixedTPM |
			tpm2.FlagFixedParent |
			tpm2.FlagSensitiveDataOrigin |
			tpm2.FlagUserWithAuth |
			tpm2.FlagNoDA,
		ECCParameters: &tpm2.ECCParams{
			Symmetric: &tpm2.SymScheme{
				Alg:     tpm2.AlgAES,
				KeyBits: 128,
				Mode:    tpm2.AlgCFB,
			},
			CurveID: tpm2.CurveNISTP256,
		},
	}

	h, _, err := tpm2.CreatePrimary(
		rwc,
		tpm2.HandleOwner,
		tpm2.PCRSelection{},
		ownerAuth, // parentPassword (owner hierarchy)
		"",        // SRK auth
		template,
	)
	if err != nil {
		return 0, fmt.Errorf("tpmdevice: CreatePrimary(storage): %w", err)
	}
	return h, nil
}
