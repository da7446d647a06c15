// Package hlstest provides playlist fixtures and a fake HLS origin for tests.
package hlstest

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"strings"
)

// Key describes an EXT-X-KEY tag.
type Key struct {
	Method string // defaults to AES-128
	URI    string
	IV     string
}

// Media describes a media playlist.
type Media struct {
	TargetDuration int
	Duration       float64 // per segment; defaults to 10
	Segments       []string
	Key            *Key
}

// Variant describes an EXT-X-STREAM-INF entry.
type Variant struct {
	URI        string
	Bandwidth  int
	Resolution string
	Codecs     string
}

// MediaPlaylist renders a VOD media playlist.
func MediaPlaylist(m Media) string {
	if m.TargetDuration == 0 {
		m.TargetDuration = 10
	}
	if m.Duration == 0 {
		m.Duration = 10
	}

	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", m.TargetDuration))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	if m.Key != nil {
		method := m.Key.Method
		if method == "" {
			method = "AES-128"
		}
		b.WriteString("#EXT-X-KEY:METHOD=" + method)
		if m.Key.URI != "" {
			b.WriteString(fmt.Sprintf(`,URI="%s"`, m.Key.URI))
		}
		if m.Key.IV != "" {
			b.WriteString(",IV=" + m.Key.IV)
		}
		b.WriteString("\n")
	}

	for _, uri := range m.Segments {
		b.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", m.Duration))
		b.WriteString(uri + "\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// MasterPlaylist renders a master playlist.
func MasterPlaylist(variants ...Variant) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, v := range variants {
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d", v.Bandwidth))
		if v.Resolution != "" {
			b.WriteString(",RESOLUTION=" + v.Resolution)
		}
		if v.Codecs != "" {
			b.WriteString(fmt.Sprintf(`,CODECS="%s"`, v.Codecs))
		}
		b.WriteString("\n")
		b.WriteString(v.URI + "\n")
	}

	return b.String()
}

// Payload returns n deterministic bytes tagged with seed.
func Payload(seed byte, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i)
	}
	return data
}

// Encrypt applies PKCS#7 padding and AES-128-CBC, the way an HLS packager
// produces encrypted segments.
func Encrypt(key, iv, plaintext []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(bytes.Clone(plaintext), bytes.Repeat([]byte{byte(pad)}, pad)...)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}
