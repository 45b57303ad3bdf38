package entropy

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

func TestDevice_Read(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dev/random", bytes.Repeat([]byte{0xAB}, 64), 0o444))

	b, err := Device{Path: "/dev/random", Fs: fs}.Read(32)
	require.NoError(t, err)
	assert.Len(t, b, 32)
	assert.Equal(t, bytes.Repeat([]byte{0xAB}, 32), b)
}

func TestDevice_ShortReadIsFatal(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dev/random", []byte{1, 2, 3}, 0o444))

	_, err := Device{Path: "/dev/random", Fs: fs}.Read(16)
	require.ErrorIs(t, err, errs.ErrEntropyUnavailable)
	assert.True(t, errs.IsFatal(err))
}

func TestDevice_MissingDevice(t *testing.T) {
	_, err := Device{Path: "/dev/nope", Fs: afero.NewMemMapFs()}.Read(16)
	assert.ErrorIs(t, err, errs.ErrEntropyUnavailable)
}

func TestNew_EmptyPathUsesCSPRNG(t *testing.T) {
	src := New("")
	a, err := src.Read(32)
	require.NoError(t, err)
	b, err := src.Read(32)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestReader_ZeroLength(t *testing.T) {
	b, err := Reader{R: bytes.NewReader(nil)}.Read(0)
	require.NoError(t, err)
	assert.Empty(t, b)
}
