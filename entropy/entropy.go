// Package entropy supplies key and IV bytes from the operating system.
package entropy

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

// DefaultDevice blocks until the kernel pool is initialised.
const DefaultDevice = "/dev/random"

// Source returns exactly n random bytes or fails.
type Source interface {
	Read(n int) ([]byte, error)
}

// Device reads from an entropy character device. Each call opens the device afresh.
type Device struct {
	Path string
	Fs   afero.Fs
}

func (d Device) Read(n int) ([]byte, error) {
	p := d.Path
	if p == "" {
		p = DefaultDevice
	}
	fs := d.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	f, err := fs.Open(p)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", errs.ErrEntropyUnavailable, p, err)
	}
	defer f.Close()

	return readFull(f, n, p)
}

// Reader adapts any io.Reader, e.g. crypto/rand.Reader.
type Reader struct {
	R io.Reader
}

func (r Reader) Read(n int) ([]byte, error) {
	return readFull(r.R, n, "reader")
}

// New returns the device source for path, or the runtime CSPRNG when path is empty.
func New(path string) Source {
	if path == "" {
		return Reader{R: rand.Reader}
	}
	return Device{Path: path}
}

func readFull(r io.Reader, n int, name string) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", errs.ErrEntropyUnavailable, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read %d bytes from %s: %v", errs.ErrEntropyUnavailable, n, name, err)
	}
	return buf, nil
}
