package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrNoVariant is returned for a master playlist without usable variants.
	ErrNoVariant = errors.New("master playlist contains no variants")

	// ErrUnexpectedPlaylistType is returned when a variant URI points at
	// something other than a media playlist.
	ErrUnexpectedPlaylistType = errors.New("expected media playlist")

	// ErrNoSegments is returned for a media playlist without segments.
	ErrNoSegments = errors.New("playlist contains no segments")
)

// ParseError reports playlist bytes that could not be decoded.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse playlist %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
