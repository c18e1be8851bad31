package sgb

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// ChecksumNone disables checksum recording.
const ChecksumNone = "none"

var checksumAlgorithms = map[string]func() hash.Hash{
	"md5":      md5.New,
	"sha1":     sha1.New,
	"sha224":   sha256.New224,
	"sha256":   sha256.New,
	"sha384":   sha512.New384,
	"sha512":   sha512.New,
	"sha3_256": sha3.New256,
	"sha3_512": sha3.New512,
	"blake2b": func() hash.Hash {
		h, _ := blake2b.New512(nil) // only fails for oversized keys
		return h
	},
	"blake2s": func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	},
}

// ChecksumAlgorithms lists the supported algorithm names, sorted.
func ChecksumAlgorithms() []string {
	names := make([]string, 0, len(checksumAlgorithms))
	for name := range checksumAlgorithms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidChecksumAlgorithm reports whether name is "none" or a supported algorithm.
func ValidChecksumAlgorithm(name string) bool {
	if name == ChecksumNone {
		return true
	}
	_, ok := checksumAlgorithms[strings.ToLower(name)]
	return ok
}

// Digest hashes everything read from r and returns the lowercase hex digest.
func Digest(algorithm string, r io.Reader) (string, error) {
	newHash, ok := checksumAlgorithms[strings.ToLower(algorithm)]
	if !ok {
		return "", errors.Wrapf(ErrConfigInvalid, "unsupported checksum algorithm %q", algorithm)
	}
	h := newHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, "hashing content")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestFile hashes the file at path.
func DigestFile(algorithm, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "opening file for checksum")
	}
	defer f.Close()
	return Digest(algorithm, f)
}
