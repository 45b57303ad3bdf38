package cipherpipe

import (
	"bytes"
	"crypto/subtle"
	"fmt"

	"github.com/quantumauth-io/tpm-encrypt/errs"
)

// pkcs7Pad adds PKCS#7 padding to the data to make it a multiple of blockSize.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

// pkcs7Unpad removes PKCS#7 padding from a decrypted final block.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	length := len(data)
	if length == 0 || length%blockSize != 0 {
		return nil, fmt.Errorf("%w: unaligned data", errs.ErrPaddingInvalid)
	}

	padding := int(data[length-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("%w: invalid padding size %d", errs.ErrPaddingInvalid, padding)
	}

	want := bytes.Repeat([]byte{byte(padding)}, padding)
	if subtle.ConstantTimeCompare(data[length-padding:], want) != 1 {
		return nil, errs.ErrPaddingInvalid
	}
	return data[:length-padding], nil
}
