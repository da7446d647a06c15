package crypt

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingKeyURI is returned when an EXT-X-KEY has no URI attribute.
	ErrMissingKeyURI = errors.New("encryption signaled without key URI")

	// ErrMissingIV is returned when an EXT-X-KEY has no IV attribute.
	ErrMissingIV = errors.New("encryption signaled without IV")

	// ErrInvalidIV is returned when the IV attribute is not valid hex.
	ErrInvalidIV = errors.New("invalid IV")

	// ErrUnsupportedMethod is returned for methods other than AES-128 and NONE.
	ErrUnsupportedMethod = errors.New("unsupported encryption method")

	// ErrDecryption is returned when a payload cannot be decrypted.
	ErrDecryption = errors.New("decryption failed")
)

// IVLengthError is returned when the decoded IV is not one AES block long.
type IVLengthError struct {
	Len int
}

func (e *IVLengthError) Error() string {
	return fmt.Sprintf("IV must be 16 bytes, got %d", e.Len)
}
