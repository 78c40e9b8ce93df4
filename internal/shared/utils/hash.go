// Package utils holds small helpers shared across packages.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
)

// Hasher computes content digests in the form "<algorithm>:<hex>"
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(SHA256)
}

// new returns the digest for the algorithm; SHA256 is the only one today
func (h *Hasher) new() hash.Hash {
	return sha256.New()
}

func (h *Hasher) format(sum []byte) string {
	return string(h.algorithm) + ":" + hex.EncodeToString(sum)
}

// Hash computes the digest of data
func (h *Hasher) Hash(data []byte) string {
	d := h.new()
	d.Write(data)
	return h.format(d.Sum(nil))
}

// HashReader computes the digest of everything r yields
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	d := h.new()
	if _, err := io.Copy(d, r); err != nil {
		return "", fmt.Errorf("failed to hash: %w", err)
	}
	return h.format(d.Sum(nil)), nil
}

// HashFile computes the digest of the file at path
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return h.HashReader(f)
}
