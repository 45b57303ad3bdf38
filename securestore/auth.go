package securestore

import (
	"fmt"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

// DefaultAuthSecret is the compiled-in secret every object is sealed with.
const DefaultAuthSecret = "default_auth_key"

// DefaultAuthCallback returns DefaultAuthSecret for any named object.
func DefaultAuthCallback(objectPath, _ string) (string, error) {
	if objectPath == "" {
		return "", fmt.Errorf("%w: auth requested for an unnamed object", errs.ErrBadRequest)
	}
	return DefaultAuthSecret, nil
}
