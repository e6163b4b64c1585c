// Package checksum computes whole-content digests over uploaded bytes.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/adler32"
	"hash/crc32"
	"io"
	"strconv"
	"strings"
)

// ErrUnsupported is returned for algorithm names outside the supported set
var ErrUnsupported = errors.New("unsupported checksum algorithm")

// Algorithm identifies a supported digest
type Algorithm string

const (
	MD5     Algorithm = "md5"
	SHA1    Algorithm = "sha1"
	SHA224  Algorithm = "sha224"
	SHA256  Algorithm = "sha256"
	SHA384  Algorithm = "sha384"
	SHA512  Algorithm = "sha512"
	CRC32   Algorithm = "crc32"
	Adler32 Algorithm = "adler32"
)

// All lists the supported algorithms in their default preference order
var All = []Algorithm{MD5, SHA1, SHA224, SHA256, SHA384, SHA512, CRC32, Adler32}

// Parse resolves an algorithm name, case-insensitively
func Parse(name string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if _, err := New(alg); err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
	return alg, nil
}

// ParseList resolves a list of algorithm names, preserving order
func ParseList(names []string) ([]Algorithm, error) {
	algs := make([]Algorithm, 0, len(names))
	for _, name := range names {
		alg, err := Parse(name)
		if err != nil {
			return nil, err
		}
		algs = append(algs, alg)
	}
	return algs, nil
}

// New returns a fresh hash for the algorithm
func New(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA224:
		return sha256.New224(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	case CRC32:
		return crc32.NewIEEE(), nil
	case Adler32:
		return adler32.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, alg)
	}
}

// Compute digests the full stream in order
func Compute(alg Algorithm, r io.Reader) (string, error) {
	h, err := New(alg)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to read content for %s: %w", alg, err)
	}
	return Format(alg, h), nil
}

// Format renders a digest: decimal for the 32-bit checksums, hex otherwise
func Format(alg Algorithm, h hash.Hash) string {
	switch alg {
	case CRC32, Adler32:
		if h32, ok := h.(hash.Hash32); ok {
			return strconv.FormatUint(uint64(h32.Sum32()), 10)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal compares a claimed digest against a computed one, ignoring hex case and surrounding space
func Equal(claimed, computed string) bool {
	return strings.EqualFold(strings.TrimSpace(claimed), computed)
}
