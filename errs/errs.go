// Package errs holds the error taxonomy shared by the store, key and cipher layers.
//
// Every failure returned by this module wraps exactly one of these sentinels, so callers
// can branch with errors.Is regardless of how many layers added context.
package errs

import "errors"

var (
	// ErrConnectionFailed indicates a session to the secure store could not be opened or initialised.
	ErrConnectionFailed = errors.New("secure store connection failed")

	// ErrProvisioningFailed indicates the one-time store provisioning (or recording it) failed.
	ErrProvisioningFailed = errors.New("secure store provisioning failed")

	// ErrBadRequest indicates a malformed key reference or authentication target.
	ErrBadRequest = errors.New("bad request")

	// ErrSealFailed indicates data could not be sealed into the secure store.
	ErrSealFailed = errors.New("seal failed")

	// ErrUnsealFailed indicates a sealed object is missing, corrupt or its authentication was rejected.
	ErrUnsealFailed = errors.New("unseal failed")

	// ErrDeleteFailed indicates objects could not be removed from the secure store.
	ErrDeleteFailed = errors.New("delete failed")

	// ErrInvalidKeyMaterial indicates key or IV lengths do not match the cipher.
	ErrInvalidKeyMaterial = errors.New("invalid key material")

	// ErrPaddingInvalid indicates malformed trailing padding, usually wrong key material or corrupt ciphertext.
	ErrPaddingInvalid = errors.New("invalid padding")

	// ErrIoFailure indicates a file read or write failed.
	ErrIoFailure = errors.New("i/o failure")

	// ErrEntropyUnavailable indicates the OS entropy source could not deliver the requested bytes.
	ErrEntropyUnavailable = errors.New("entropy source unavailable")
)

// IsFatal reports whether err is an unrecoverable environment fault. The process should abort
// instead of retrying or continuing.
func IsFatal(err error) bool {
	return errors.Is(err, ErrEntropyUnavailable)
}
