package tpmencrypt

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/quantumauth-io/tpm-encrypt/cipherpipe"
	"github.com/quantumauth-io/tpm-encrypt/errs"
	"github.com/quantumauth-io/tpm-encrypt/metrics"
)

// EncryptFile encrypts src into dst under a freshly sealed key for ref. dst only appears once
// the whole ciphertext is written.
func (s *Service) EncryptFile(ctx context.Context, src, dst, ref string) (err error) {
	defer func(start time.Time) { metrics.RecordOperation(metrics.OpEncrypt, start, err) }(time.Now())

	in, err := s.fs.Open(src)
	if err != nil {
		s.logger.Errorw("could not open input", "src", src, "error", err)
		return fmt.Errorf("%w: open %s: %v", errs.ErrIoFailure, src, err)
	}
	defer in.Close()

	material, err := s.freshKey(ctx, ref)
	if err != nil {
		return err
	}
	defer material.Wipe()

	enc, err := cipherpipe.NewEncrypter(material.Key, material.IV)
	if err != nil {
		return err
	}
	defer enc.Wipe()

	n, err := s.writeAtomically(dst, func(out afero.File) (int64, error) {
		return cipherpipe.Copy(out, in, enc)
	})
	if err != nil {
		s.logger.Errorw("file encryption failed", "src", src, "dst", dst, "ref", ref, "error", err)
		return err
	}
	metrics.RecordBytes(metrics.OpEncrypt, n)
	s.logger.Infow("file encrypted", "src", src, "dst", dst, "ref", ref, "bytes", n)
	return nil
}

// DecryptFile decrypts src into dst with the key currently sealed for ref.
func (s *Service) DecryptFile(ctx context.Context, src, dst, ref string) (err error) {
	defer func(start time.Time) { metrics.RecordOperation(metrics.OpDecrypt, start, err) }(time.Now())

	in, err := s.fs.Open(src)
	if err != nil {
		s.logger.Errorw("could not open input", "src", src, "error", err)
		return fmt.Errorf("%w: open %s: %v", errs.ErrIoFailure, src, err)
	}
	defer in.Close()

	material, err := s.keys.Unseal(ctx, ref)
	if err != nil {
		s.logger.Errorw("could not unseal key", "ref", ref, "error", err)
		return err
	}
	defer material.Wipe()

	dec, err := cipherpipe.NewDecrypter(material.Key, material.IV)
	if err != nil {
		return err
	}
	defer dec.Wipe()

	n, err := s.writeAtomically(dst, func(out afero.File) (int64, error) {
		return cipherpipe.Copy(out, in, dec)
	})
	if err != nil {
		s.logger.Errorw("file decryption failed", "src", src, "dst", dst, "ref", ref, "error", err)
		return err
	}
	metrics.RecordBytes(metrics.OpDecrypt, n)
	s.logger.Infow("file decrypted", "src", src, "dst", dst, "ref", ref, "bytes", n)
	return nil
}

// writeAtomically writes into a temp file next to dst and renames it over dst on success.
// The temp file is removed on any failure.
func (s *Service) writeAtomically(dst string, write func(afero.File) (int64, error)) (n int64, err error) {
	tmp, err := afero.TempFile(s.fs, filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("%w: creating temporary file: %v", errs.ErrIoFailure, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = s.fs.Remove(tmpName)
		}
	}()

	if err = s.fs.Chmod(tmpName, 0o600); err != nil {
		return 0, fmt.Errorf("%w: chmod %s: %v", errs.ErrIoFailure, tmpName, err)
	}
	if n, err = write(tmp); err != nil {
		return n, err
	}
	if err = tmp.Sync(); err != nil {
		return n, fmt.Errorf("%w: sync %s: %v", errs.ErrIoFailure, tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return n, fmt.Errorf("%w: close %s: %v", errs.ErrIoFailure, tmpName, err)
	}
	if err = s.fs.Rename(tmpName, dst); err != nil {
		return n, fmt.Errorf("%w: rename to %s: %v", errs.ErrIoFailure, dst, err)
	}
	return n, nil
}
