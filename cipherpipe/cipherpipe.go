// Package cipherpipe drives AES-256 in CBC mode with PKCS#7 padding as an
// Init -> Update* -> Final state machine.
//
// Output is appended to a caller-supplied slice. Encrypting n bytes produces at most
// MaxEncryptedSize(n) bytes; decrypting never produces more than its input.
package cipherpipe

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

const (
	KeySize   = 32
	BlockSize = aes.BlockSize
)

// ErrStreamFinished is returned by calls made after Final or after a failure.
var ErrStreamFinished = errors.New("cipherpipe: stream already finished")

type State int

const (
	StateInit State = iota
	StateUpdating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateUpdating:
		return "updating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stream is one direction of a cipher operation.
type Stream interface {
	Update(dst, src []byte) ([]byte, error)
	Final(dst []byte) ([]byte, error)
	State() State
	// Wipe zeroes buffered data. The stream is unusable afterwards.
	Wipe()
}

// MaxEncryptedSize is the worst-case ciphertext length for n plaintext bytes.
func MaxEncryptedSize(n int) int {
	return n + BlockSize
}

type stream struct {
	mode    cipher.BlockMode
	pending []byte
	state   State
}

func newStream(key, iv []byte, decrypt bool) (stream, error) {
	if len(key) != KeySize {
		return stream{}, fmt.Errorf("%w: key is %d bytes, want %d", errs.ErrInvalidKeyMaterial, len(key), KeySize)
	}
	if len(iv) != BlockSize {
		return stream{}, fmt.Errorf("%w: iv is %d bytes, want %d", errs.ErrInvalidKeyMaterial, len(iv), BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return stream{}, fmt.Errorf("%w: %v", errs.ErrInvalidKeyMaterial, err)
	}

	var mode cipher.BlockMode
	if decrypt {
		mode = cipher.NewCBCDecrypter(block, iv)
	} else {
		mode = cipher.NewCBCEncrypter(block, iv)
	}
	return stream{mode: mode, pending: make([]byte, 0, 2*BlockSize)}, nil
}

func (s *stream) State() State { return s.state }

func (s *stream) begin() error {
	if s.state == StateDone || s.state == StateFailed || s.mode == nil {
		return ErrStreamFinished
	}
	s.state = StateUpdating
	return nil
}

// crypt runs the first n pending bytes through the mode, appending to dst.
func (s *stream) crypt(dst []byte, n int) []byte {
	if n == 0 {
		return dst
	}
	head, tail := sliceForAppend(dst, n)
	s.mode.CryptBlocks(tail, s.pending[:n])
	rest := copy(s.pending, s.pending[n:])
	memguard.WipeBytes(s.pending[rest:])
	s.pending = s.pending[:rest]
	return head
}

func (s *stream) fail(err error) error {
	s.state = StateFailed
	s.Wipe()
	return err
}

func (s *stream) Wipe() {
	memguard.WipeBytes(s.pending[:cap(s.pending)])
	s.pending = s.pending[:0]
	s.mode = nil
	if s.state != StateDone {
		s.state = StateFailed
	}
}

// Encrypter buffers partial blocks until Final pads them.
type Encrypter struct {
	stream
}

func NewEncrypter(key, iv []byte) (*Encrypter, error) {
	s, err := newStream(key, iv, false)
	if err != nil {
		return nil, err
	}
	return &Encrypter{stream: s}, nil
}

func (e *Encrypter) Update(dst, src []byte) ([]byte, error) {
	if err := e.begin(); err != nil {
		return dst, err
	}
	e.pending = append(e.pending, src...)
	return e.crypt(dst, len(e.pending)-len(e.pending)%BlockSize), nil
}

// Final pads and flushes the last block. Empty input yields one full padding block.
func (e *Encrypter) Final(dst []byte) ([]byte, error) {
	if err := e.begin(); err != nil {
		return dst, err
	}
	e.pending = pkcs7Pad(e.pending, BlockSize)
	out := e.crypt(dst, len(e.pending))
	e.state = StateDone
	e.Wipe()
	return out, nil
}

// Decrypter holds back the last full block until Final can strip its padding.
type Decrypter struct {
	stream
}

func NewDecrypter(key, iv []byte) (*Decrypter, error) {
	s, err := newStream(key, iv, true)
	if err != nil {
		return nil, err
	}
	return &Decrypter{stream: s}, nil
}

func (d *Decrypter) Update(dst, src []byte) ([]byte, error) {
	if err := d.begin(); err != nil {
		return dst, err
	}
	d.pending = append(d.pending, src...)
	n := len(d.pending) - len(d.pending)%BlockSize
	if n == len(d.pending) {
		n -= BlockSize
	}
	if n < 0 {
		n = 0
	}
	return d.crypt(dst, n), nil
}

// Final decrypts the held-back block and checks its padding. Wrong key material almost always
// surfaces here as ErrPaddingInvalid.
func (d *Decrypter) Final(dst []byte) ([]byte, error) {
	if err := d.begin(); err != nil {
		return dst, err
	}
	switch {
	case len(d.pending) == 0:
		return dst, d.fail(fmt.Errorf("%w: empty ciphertext", errs.ErrPaddingInvalid))
	case len(d.pending) != BlockSize:
		return dst, d.fail(fmt.Errorf("%w: ciphertext is not a multiple of block size", errs.ErrPaddingInvalid))
	}

	last := make([]byte, BlockSize)
	d.mode.CryptBlocks(last, d.pending)
	defer memguard.WipeBytes(last)

	plain, err := pkcs7Unpad(last, BlockSize)
	if err != nil {
		return dst, d.fail(err)
	}
	out := append(dst, plain...)
	d.state = StateDone
	d.Wipe()
	return out, nil
}

// sliceForAppend extends in by n bytes, returning the whole slice and the new tail.
func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
