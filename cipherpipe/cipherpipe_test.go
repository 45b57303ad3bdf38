package cipherpipe

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

var (
	testKey = bytes.Repeat([]byte{0x42}, KeySize)
	testIV  = bytes.Repeat([]byte{0x24}, BlockSize)
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// SP 800-38A F.2.5, first block.
func TestEncrypt_KnownAnswer(t *testing.T) {
	key := mustHex(t, "603deb1015ca71be2b73aef0857d77811f352c073b6108d72d9810a30914dff4")
	iv := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	pt := mustHex(t, "6bc1bee22e409f96e93d7e117393172a")

	ct, err := Encrypt(key, iv, pt)
	require.NoError(t, err)
	require.Len(t, ct, 32)
	assert.Equal(t, "f58c4c04d6e5f1ba779eabfb5f7bfbd6", hex.EncodeToString(ct[:16]))

	back, err := Decrypt(key, iv, ct)
	require.NoError(t, err)
	assert.Equal(t, pt, back)
}

func TestRoundTrip_ChunkedUpdates(t *testing.T) {
	for _, size := range []int{0, 1, 15, 16, 17, 31, 32, 100, 4096 + 3} {
		plaintext := bytes.Repeat([]byte("abcdefghijklmnopq"), size/17+1)[:size]

		for _, chunk := range []int{1, 7, 16, 33, 1 << 20} {
			e, err := NewEncrypter(testKey, testIV)
			require.NoError(t, err)

			var ct []byte
			for off := 0; off < len(plaintext); off += chunk {
				end := min(off+chunk, len(plaintext))
				ct, err = e.Update(ct, plaintext[off:end])
				require.NoError(t, err)
			}
			ct, err = e.Final(ct)
			require.NoError(t, err)

			assert.Zero(t, len(ct)%BlockSize)
			assert.LessOrEqual(t, len(ct), MaxEncryptedSize(len(plaintext)))
			assert.Greater(t, len(ct), len(plaintext))

			d, err := NewDecrypter(testKey, testIV)
			require.NoError(t, err)
			var pt []byte
			for off := 0; off < len(ct); off += chunk {
				end := min(off+chunk, len(ct))
				pt, err = d.Update(pt, ct[off:end])
				require.NoError(t, err)
				assert.LessOrEqual(t, len(pt), end)
			}
			pt, err = d.Final(pt)
			require.NoError(t, err, "size %d chunk %d", size, chunk)
			assert.Equal(t, plaintext, append([]byte{}, pt...), "size %d chunk %d", size, chunk)
		}
	}
}

func TestHelloWorld(t *testing.T) {
	ct, err := Encrypt(testKey, testIV, []byte("hello world"))
	require.NoError(t, err)
	assert.Len(t, ct, 16)

	pt, err := Decrypt(testKey, testIV, ct)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(pt))
}

func TestEmptyInput(t *testing.T) {
	ct, err := Encrypt(testKey, testIV, nil)
	require.NoError(t, err)
	assert.Len(t, ct, BlockSize)

	pt, err := Decrypt(testKey, testIV, ct)
	require.NoError(t, err)
	assert.Empty(t, pt)
}

func TestInvalidKeyMaterial(t *testing.T) {
	tests := []struct {
		name    string
		key, iv []byte
	}{
		{"128-bit key", testKey[:16], testIV},
		{"empty key", nil, testIV},
		{"long key", append(testKey, 0), testIV},
		{"short iv", testKey, testIV[:8]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncrypter(tt.key, tt.iv)
			assert.ErrorIs(t, err, errs.ErrInvalidKeyMaterial)
			_, err = NewDecrypter(tt.key, tt.iv)
			assert.ErrorIs(t, err, errs.ErrInvalidKeyMaterial)
		})
	}
}

func TestDecrypt_MalformedPadding(t *testing.T) {
	// a final block ending in 0x00 can never carry valid padding
	block := make([]byte, BlockSize)
	b, err := aes.NewCipher(testKey)
	require.NoError(t, err)
	ct := make([]byte, BlockSize)
	cipher.NewCBCEncrypter(b, testIV).CryptBlocks(ct, block)

	_, err = Decrypt(testKey, testIV, ct)
	assert.ErrorIs(t, err, errs.ErrPaddingInvalid)
}

func TestDecrypt_BadLengths(t *testing.T) {
	_, err := Decrypt(testKey, testIV, nil)
	assert.ErrorIs(t, err, errs.ErrPaddingInvalid)

	_, err = Decrypt(testKey, testIV, make([]byte, 17))
	assert.ErrorIs(t, err, errs.ErrPaddingInvalid)
}

func TestDecrypt_WrongKeyNeverYieldsPlaintext(t *testing.T) {
	plaintext := []byte("attack at dawn, bring snacks")
	ct, err := Encrypt(testKey, testIV, plaintext)
	require.NoError(t, err)

	for i := byte(0); i < 16; i++ {
		wrong := bytes.Repeat([]byte{i}, KeySize)
		pt, err := Decrypt(wrong, testIV, ct)
		if err != nil {
			assert.ErrorIs(t, err, errs.ErrPaddingInvalid)
			continue
		}
		assert.NotEqual(t, plaintext, pt)
	}
}

func TestStateMachine(t *testing.T) {
	e, err := NewEncrypter(testKey, testIV)
	require.NoError(t, err)
	assert.Equal(t, StateInit, e.State())

	_, err = e.Update(nil, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, StateUpdating, e.State())

	_, err = e.Final(nil)
	require.NoError(t, err)
	assert.Equal(t, StateDone, e.State())

	_, err = e.Update(nil, []byte("more"))
	assert.ErrorIs(t, err, ErrStreamFinished)
	_, err = e.Final(nil)
	assert.ErrorIs(t, err, ErrStreamFinished)

	d, err := NewDecrypter(testKey, testIV)
	require.NoError(t, err)
	_, err = d.Final(nil)
	require.ErrorIs(t, err, errs.ErrPaddingInvalid)
	assert.Equal(t, StateFailed, d.State())
	_, err = d.Update(nil, make([]byte, 16))
	assert.ErrorIs(t, err, ErrStreamFinished)
}

func TestWipe(t *testing.T) {
	e, err := NewEncrypter(testKey, testIV)
	require.NoError(t, err)
	_, err = e.Update(nil, []byte("secret"))
	require.NoError(t, err)

	e.Wipe()
	assert.Equal(t, StateFailed, e.State())
	assert.Empty(t, e.pending)
	_, err = e.Final(nil)
	assert.ErrorIs(t, err, ErrStreamFinished)
}

func TestMaxEncryptedSize(t *testing.T) {
	assert.Equal(t, 16, MaxEncryptedSize(0))
	assert.Equal(t, 27, MaxEncryptedSize(11))
}

func TestCopy(t *testing.T) {
	plaintext := bytes.Repeat([]byte("0123456789"), 10_000)

	e, err := NewEncrypter(testKey, testIV)
	require.NoError(t, err)
	var ct bytes.Buffer
	n, err := Copy(&ct, iotest.HalfReader(bytes.NewReader(plaintext)), e)
	require.NoError(t, err)
	assert.Equal(t, int64(len(plaintext)), n)

	oneShot, err := Encrypt(testKey, testIV, plaintext)
	require.NoError(t, err)
	assert.Equal(t, oneShot, ct.Bytes())

	d, err := NewDecrypter(testKey, testIV)
	require.NoError(t, err)
	var pt bytes.Buffer
	_, err = Copy(&pt, iotest.OneByteReader(bytes.NewReader(ct.Bytes()[:4096])), d)
	require.ErrorIs(t, err, errs.ErrPaddingInvalid)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestCopy_IoFailures(t *testing.T) {
	e, err := NewEncrypter(testKey, testIV)
	require.NoError(t, err)
	_, err = Copy(failingWriter{}, bytes.NewReader(make([]byte, 64)), e)
	assert.ErrorIs(t, err, errs.ErrIoFailure)

	e, err = NewEncrypter(testKey, testIV)
	require.NoError(t, err)
	_, err = Copy(&bytes.Buffer{}, iotest.ErrReader(errors.New("unplugged")), e)
	assert.ErrorIs(t, err, errs.ErrIoFailure)
}

type recordingStream struct {
	Stream
	updateErr error
	wiped     bool
}

func (r *recordingStream) Update(dst, _ []byte) ([]byte, error) { return dst, r.updateErr }

func (r *recordingStream) Wipe() { r.wiped = true }

func TestCopy_UpdateFailureWipes(t *testing.T) {
	s := &recordingStream{updateErr: ErrStreamFinished}
	n, err := Copy(&bytes.Buffer{}, bytes.NewReader(make([]byte, 64)), s)
	require.ErrorIs(t, err, ErrStreamFinished)
	assert.Equal(t, int64(64), n)
	assert.True(t, s.wiped)
}

type sizeRecordingReader struct {
	r     *bytes.Reader
	sizes []int
}

func (s *sizeRecordingReader) Read(p []byte) (int, error) {
	s.sizes = append(s.sizes, len(p))
	return s.r.Read(p)
}

func TestCopy_ReadsIntoPooledBuffer(t *testing.T) {
	e, err := NewEncrypter(testKey, testIV)
	require.NoError(t, err)

	size := 3*defaultBufferSize + 5
	src := &sizeRecordingReader{r: bytes.NewReader(make([]byte, size))}
	var ct bytes.Buffer
	n, err := Copy(&ct, src, e)
	require.NoError(t, err)
	assert.Equal(t, int64(size), n)
	assert.Equal(t, (size/BlockSize+1)*BlockSize, ct.Len())
	for _, got := range src.sizes {
		assert.Equal(t, defaultBufferSize, got)
	}
}

func TestPKCS7Unpad(t *testing.T) {
	good := append(bytes.Repeat([]byte{'a'}, 12), 4, 4, 4, 4)
	out, err := pkcs7Unpad(good, BlockSize)
	require.NoError(t, err)
	assert.Len(t, out, 12)

	for _, bad := range [][]byte{
		append(bytes.Repeat([]byte{'a'}, 15), 0),
		append(bytes.Repeat([]byte{'a'}, 15), 17),
		append(bytes.Repeat([]byte{'a'}, 13), 1, 3, 3),
	} {
		_, err := pkcs7Unpad(bad, BlockSize)
		assert.ErrorIs(t, err, errs.ErrPaddingInvalid)
	}
}
