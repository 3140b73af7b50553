// Package hashutil provides the SHA-1/SHA-256 and Base64 primitives
// used throughout ArkSigning. Every function here is pure and safe to
// call concurrently from the batch driver's worker pool.
package hashutil

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"os"
	"strings"
)

// SHA1 returns the raw SHA-1 digest of data.
func SHA1(data []byte) []byte {
	h := sha1.Sum(data)
	return h[:]
}

// SHA256 returns the raw SHA-256 digest of data.
func SHA256(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// Base64Encode encodes data with the standard RFC 4648 alphabet and
// '=' padding, with no line breaks.
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode accepts padded or unpadded standard-alphabet input,
// silently dropping any byte that isn't part of the alphabet before
// decoding (whitespace, newlines, stray punctuation).
func Base64Decode(s string) ([]byte, error) {
	filtered := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '+', r == '/', r == '=':
			return r
		default:
			return -1
		}
	}, s)
	filtered = strings.TrimRight(filtered, "=")
	if n := len(filtered) % 4; n != 0 {
		return base64.RawStdEncoding.DecodeString(filtered)
	}
	return base64.StdEncoding.WithPadding(base64.NoPadding).DecodeString(filtered)
}

// FileDigests streams path once, feeding both a SHA-1 and a SHA-256
// hash context, and returns both digests Base64-encoded.
func FileDigests(path string) (sha1B64, sha256B64 string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	h1 := sha1.New()
	h256 := sha256.New()
	if _, err := io.Copy(io.MultiWriter(h1, h256), f); err != nil {
		return "", "", err
	}
	return Base64Encode(h1.Sum(nil)), Base64Encode(h256.Sum(nil)), nil
}

// FileDigestsRaw is FileDigests without the Base64 encoding step, for
// callers (like the CodeResources builder) that feed the raw digest
// straight into a plist <data> value.
func FileDigestsRaw(path string) (sha1Raw, sha256Raw []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	h1 := sha1.New()
	h256 := sha256.New()
	if _, err := io.Copy(io.MultiWriter(h1, h256), f); err != nil {
		return nil, nil, err
	}
	return h1.Sum(nil), h256.Sum(nil), nil
}

// DataDigests is FileDigests' in-memory counterpart, used to hash
// bytes already read into memory (the bundle engine's Info.plist
// digests).
func DataDigests(data []byte) (sha1B64, sha256B64 string) {
	h1 := sha1.Sum(data)
	h256 := sha256.Sum256(data)
	return Base64Encode(h1[:]), Base64Encode(h256[:])
}
