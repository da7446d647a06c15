// Package segment defines data structures for HLS media segments.
package segment

import (
	"fmt"
	"time"
)

// FilePattern is the on-disk name of a downloaded segment, keyed by its index.
const FilePattern = "seg_%05d.ts"

// Segment represents a single HLS media segment.
type Segment struct {
	// Index is the position in the source playlist and defines the merge order
	Index int

	// URI is the segment location as written in the playlist (relative or absolute)
	URI string

	// Duration is the segment duration in seconds
	Duration float64

	// Encryption is set when an EXT-X-KEY applies to this segment
	Encryption *EncryptionRef
}

// EncryptionRef is the key reference signaled for a segment.
type EncryptionRef struct {
	// Method is the EXT-X-KEY METHOD attribute (e.g. "AES-128", "NONE")
	Method string

	// KeyURI is the URI attribute; empty if the tag did not carry one
	KeyURI string

	// IVHex is the raw IV attribute, usually "0x" followed by 32 hex digits
	IVHex string
}

// FileName returns the temp file name for the segment at index.
func FileName(index int) string {
	return fmt.Sprintf(FilePattern, index)
}

// Prefix returns the leading segments that fit within maxDuration.
// A segment that overshoots is still included if it exceeds the limit by no
// more than 50%. At least one segment is returned; zero maxDuration keeps all.
func Prefix(segments []Segment, maxDuration time.Duration) []Segment {
	if len(segments) == 0 || maxDuration <= 0 {
		return segments
	}

	limit := maxDuration.Seconds()
	total := segments[0].Duration
	n := 1

	for _, seg := range segments[1:] {
		next := total + seg.Duration
		if next > limit {
			// Include if it doesn't exceed by more than 50%
			if next-limit <= limit*0.5 {
				n++
			}
			break
		}
		total = next
		n++
	}

	return segments[:n]
}
