// Package securestore is the client side of the hardware-backed secure store.
//
// The store itself is reached through Capability, a narrow six-operation boundary implemented by
// the TPM device (package tpmdevice) or by the in-process MemoryCapability. Client adds the
// session discipline, one-time provisioning and error classification on top.
package securestore

import (
	"context"
	"errors"
)

// Policy names the access policy attached to a sealed object.
type Policy string

// PolicyNoDA exempts the object from dictionary-attack lockout.
const PolicyNoDA Policy = "noDa"

// ErrObjectNotFound is returned by capabilities when a path holds no object.
var ErrObjectNotFound = errors.New("securestore: object not found")

// AuthCallback returns the access secret for objectPath. description is informational.
type AuthCallback func(objectPath, description string) (string, error)

// Capability opens sessions to a secure store.
type Capability interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a single connection to the store. It is not safe for concurrent use.
type Session interface {
	SetAuthCallback(cb AuthCallback) error
	// Provision performs the one-time initialisation of the store for this application.
	Provision(ctx context.Context) error
	// Seal stores data at path, replacing any previous object.
	Seal(ctx context.Context, path string, policy Policy, auth string, data []byte) error
	// Unseal authenticates through the registered callback and returns the data at path.
	Unseal(ctx context.Context, path string) ([]byte, error)
	// Delete removes path and everything below it. "/" removes every application object.
	Delete(ctx context.Context, path string) error
	Close() error
}
