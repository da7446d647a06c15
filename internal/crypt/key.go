// Package crypt resolves HLS AES-128 key material and decrypts segment payloads.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Key is the AES-128 key and IV applied to every encrypted segment of a playlist.
// It is immutable after resolution and safe to share between goroutines.
type Key struct {
	Key []byte
	IV  []byte
}

// Decrypt decrypts an AES-128-CBC payload and strips its PKCS#7 padding.
func (k *Key) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(k.Key) != 16 {
		return nil, fmt.Errorf("%w: key must be 16 bytes, got %d", ErrDecryption, len(k.Key))
	}
	if len(k.IV) != aes.BlockSize {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, &IVLengthError{Len: len(k.IV)})
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrDecryption)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d",
			ErrDecryption, len(ciphertext), aes.BlockSize)
	}

	block, err := aes.NewCipher(k.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, k.IV).CryptBlocks(plaintext, ciphertext)

	return unpad(plaintext)
}

func unpad(data []byte) ([]byte, error) {
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("%w: invalid padding length %d", ErrDecryption, pad)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: invalid padding", ErrDecryption)
		}
	}
	return data[:len(data)-pad], nil
}
