//go:build tpm_simulator

package tpmdevice

import (
	"context"
	"io"
	"testing"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/tpm-encrypt/errs"
	"github.com/quantumauth-io/tpm-encrypt/securestore"
)

// sharedSim keeps one simulator alive across sessions; reopening it would reset the TPM.
type sharedSim struct{ io.ReadWriter }

func (sharedSim) Close() error { return nil }

func newSimulatorClient(t *testing.T) (*securestore.Client, *Device) {
	t.Helper()
	sim, err := simulator.GetWithFixedSeedInsecure(1234)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sim.Close() })

	d, err := New(Config{
		Blobs:  memBlobs(t),
		Opener: func() (io.ReadWriteCloser, error) { return sharedSim{sim}, nil },
	})
	require.NoError(t, err)

	state := securestore.NewProvisioningState(afero.NewMemMapFs(), "/work/fapi_provisioned")
	return securestore.NewClient(d, state, nil), d
}

func TestSimulator_SealUnsealWipe(t *testing.T) {
	ctx := context.Background()
	client, _ := newSimulatorClient(t)

	h, err := client.Connect(ctx)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, client.SetAuthCallback(h, securestore.DefaultAuthCallback))
	require.NoError(t, client.EnsureProvisioned(ctx, h))
	require.NoError(t, client.EnsureProvisioned(ctx, h))

	key := []byte("0123456789abcdef0123456789abcdef")
	require.NoError(t, client.Seal(ctx, h, "/HS/SRK/alpha", securestore.PolicyNoDA, securestore.DefaultAuthSecret, key))

	got, err := client.Unseal(ctx, h, "/HS/SRK/alpha")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	again, err := client.Unseal(ctx, h, "/HS/SRK/alpha")
	require.NoError(t, err)
	assert.Equal(t, got, again)

	require.NoError(t, client.WipeAll(ctx))

	_, err = client.Unseal(ctx, h, "/HS/SRK/alpha")
	assert.ErrorIs(t, err, errs.ErrUnsealFailed)
}

func TestSimulator_WrongAuthRejected(t *testing.T) {
	ctx := context.Background()
	client, _ := newSimulatorClient(t)

	h, err := client.Connect(ctx)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, client.SetAuthCallback(h, securestore.DefaultAuthCallback))
	require.NoError(t, client.EnsureProvisioned(ctx, h))
	require.NoError(t, client.Seal(ctx, h, "/HS/SRK/beta", securestore.PolicyNoDA, "another secret", []byte("iv-iv-iv-iv-iv-!")))

	_, err = client.Unseal(ctx, h, "/HS/SRK/beta")
	assert.ErrorIs(t, err, errs.ErrUnsealFailed)
}

func TestSimulator_ProvisionFailsWhenSRKExists(t *testing.T) {
	ctx := context.Background()
	_, d := newSimulatorClient(t)

	s, err := d.Open(ctx)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Provision(ctx))
	assert.Error(t, s.Provision(ctx))
}
