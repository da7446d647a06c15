// Package variant defines data structures for HLS variant streams in master playlists.
package variant

import (
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Variant represents a single variant stream in an HLS master playlist.
// Each variant typically represents a different quality level (bitrate/resolution).
type Variant struct {
	// Bandwidth is the peak segment bitrate in bits per second
	Bandwidth int

	// Width and Height come from the RESOLUTION attribute; both are 0 if it is absent
	Width  int
	Height int

	// Codecs is the codec string (e.g., "avc1.4d401f,mp4a.40.2")
	// Empty string if not specified in master playlist
	Codecs string

	// URI is the variant's media playlist location as written in the master playlist
	URI string
}

// Area returns the pixel count of the variant's resolution, or 0 when unknown.
func (v Variant) Area() int {
	return v.Width * v.Height
}

// Resolution formats the variant resolution as "WxH", or "" when unknown.
func (v Variant) Resolution() string {
	if v.Width == 0 && v.Height == 0 {
		return ""
	}
	return strconv.Itoa(v.Width) + "x" + strconv.Itoa(v.Height)
}

// ParseResolution parses a RESOLUTION attribute such as "1280x720".
// Malformed values yield 0, 0.
func ParseResolution(s string) (width, height int) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0
	}

	width, err := strconv.Atoi(w)
	if err != nil || width < 0 {
		return 0, 0
	}
	height, err = strconv.Atoi(h)
	if err != nil || height < 0 {
		return 0, 0
	}

	return width, height
}

// Better reports whether a ranks above b: larger resolution area first,
// then higher bandwidth.
func Better(a, b Variant) bool {
	if a.Area() != b.Area() {
		return a.Area() > b.Area()
	}
	return a.Bandwidth > b.Bandwidth
}

// Best returns the highest ranked variant. When several variants tie on both
// area and bandwidth the earliest one in playlist order wins.
func Best(variants []Variant) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}
	return lo.MaxBy(variants, Better), true
}
