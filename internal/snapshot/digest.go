package snapshot

import (
	"crypto/md5" //#nosec G501 -- content fingerprint, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Algorithm names a content digest.
type Algorithm string

// Supported digests. SHA256 is the default; XXHash trades collision
// resistance for speed on large trees.
const (
	SHA256 Algorithm = "sha256"
	XXHash Algorithm = "xxhash"
	MD5    Algorithm = "md5"
)

// Valid reports whether a is a known algorithm. The empty string counts as
// the default.
func (a Algorithm) Valid() bool {
	switch a {
	case "", SHA256, XXHash, MD5:
		return true
	}
	return false
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case "", SHA256:
		return sha256.New(), nil
	case XXHash:
		return xxhash.New(), nil
	case MD5:
		return md5.New(), nil //#nosec G401
	default:
		return nil, fmt.Errorf("unknown digest algorithm %q", string(a))
	}
}

// digestFile streams the file at path through the algorithm's hash.
func digestFile(path string, algo Algorithm) (string, error) {
	h, err := algo.newHash()
	if err != nil {
		return "", err
	}

	f, err := os.Open(path) //#nosec G304 -- paths come from traversing the watched root
	if err != nil {
		return "", err
	}
	defer f.Close()

	adviseSequential(f)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	adviseDone(f)

	return hex.EncodeToString(h.Sum(nil)), nil
}
