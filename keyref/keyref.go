// Package keyref maps logical key references to secure store object paths.
package keyref

import (
	"fmt"
	"strings"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

const (
	// DefaultRoot is the storage-root-key namespace every key lives under.
	DefaultRoot = "/HS/SRK"

	ivSuffix = "_iv"
)

// Codec derives the key and IV paths for a reference. The zero value uses DefaultRoot.
type Codec struct {
	Root string
}

func (c Codec) root() string {
	if c.Root == "" {
		return DefaultRoot
	}
	return strings.TrimSuffix(c.Root, "/")
}

// Validate rejects references that would escape or alias another object's path.
func (c Codec) Validate(ref string) error {
	switch {
	case ref == "":
		return fmt.Errorf("%w: empty key reference", errs.ErrBadRequest)
	case ref == "." || ref == "..":
		return fmt.Errorf("%w: key reference %q is reserved", errs.ErrBadRequest, ref)
	case strings.ContainsAny(ref, "/\x00"):
		return fmt.Errorf("%w: key reference %q contains a path separator or NUL", errs.ErrBadRequest, ref)
	case strings.HasSuffix(ref, ivSuffix):
		return fmt.Errorf("%w: key reference %q ends in %q", errs.ErrBadRequest, ref, ivSuffix)
	}
	return nil
}

func (c Codec) KeyPath(ref string) string {
	return c.root() + "/" + ref
}

func (c Codec) IVPath(ref string) string {
	return c.KeyPath(ref) + ivSuffix
}

// Paths validates ref and returns both object paths.
func (c Codec) Paths(ref string) (keyPath, ivPath string, err error) {
	if err := c.Validate(ref); err != nil {
		return "", "", err
	}
	return c.KeyPath(ref), c.IVPath(ref), nil
}
