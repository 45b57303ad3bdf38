package cipherpipe

import (
	"fmt"
	"io"
	"sync"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

const defaultBufferSize = 32 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		return make([]byte, defaultBufferSize)
	},
}

// Encrypt encrypts plaintext in a single chunk into an owned buffer.
func Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	e, err := NewEncrypter(key, iv)
	if err != nil {
		return nil, err
	}
	defer e.Wipe()

	out, err := e.Update(make([]byte, 0, MaxEncryptedSize(len(plaintext))), plaintext)
	if err != nil {
		return nil, err
	}
	return e.Final(out)
}

// Decrypt decrypts ciphertext in a single chunk into an owned buffer.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	d, err := NewDecrypter(key, iv)
	if err != nil {
		return nil, err
	}
	defer d.Wipe()

	out, err := d.Update(make([]byte, 0, len(ciphertext)), ciphertext)
	if err != nil {
		return nil, err
	}
	return d.Final(out)
}

// Copy streams r through s into w and finalizes s. It returns the number of input bytes consumed.
// Read and write failures wrap errs.ErrIoFailure; cipher failures are returned as is.
func Copy(w io.Writer, r io.Reader, s Stream) (int64, error) {
	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)

	out := make([]byte, 0, MaxEncryptedSize(len(buf)))
	var consumed int64

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			consumed += int64(n)
			var err error
			out, err = s.Update(out[:0], buf[:n])
			if err != nil {
				s.Wipe()
				return consumed, err
			}
			if _, err := w.Write(out); err != nil {
				s.Wipe()
				return consumed, fmt.Errorf("%w: writing output: %v", errs.ErrIoFailure, err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			s.Wipe()
			return consumed, fmt.Errorf("%w: reading input: %v", errs.ErrIoFailure, rerr)
		}
	}

	out, err := s.Final(out[:0])
	if err != nil {
		return consumed, err
	}
	if _, err := w.Write(out); err != nil {
		return consumed, fmt.Errorf("%w: writing final block: %v", errs.ErrIoFailure, err)
	}
	return consumed, nil
}
