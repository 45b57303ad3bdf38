package securestore

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisioningState(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := NewProvisioningState(fs, "/var/lib/tpm-encrypt/fapi_provisioned")

	ok, err := p.Provisioned()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.MarkProvisioned())
	ok, err = p.Provisioned()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.Clear())
	require.NoError(t, p.Clear())

	ok, err = p.Provisioned()
	require.NoError(t, err)
	assert.False(t, ok)
}
