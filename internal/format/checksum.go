package format

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest computes the SHA-256 fingerprint of an encoded model.
func Digest(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// DigestReader computes the SHA-256 fingerprint from an io.Reader without loading it
// into memory.
func DigestReader(r io.Reader) ([32]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// FileDigest returns the SHA-256 fingerprint of a file.
func FileDigest(path string) ([32]byte, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model inspection
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sum, err := DigestReader(f)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to read file: %w", err)
	}
	return sum, nil
}

// DigestFile returns the hex SHA-256 fingerprint of a file.
func DigestFile(path string) (string, error) {
	sum, err := FileDigest(path)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// ParseDigest decodes a hex SHA-256 fingerprint.
func ParseDigest(s string) ([32]byte, error) {
	var sum [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return sum, fmt.Errorf("invalid sha256 %q: %w", s, err)
	}
	if len(b) != len(sum) {
		return sum, fmt.Errorf("invalid sha256 %q: got %d bytes, expected %d", s, len(b), len(sum))
	}
	copy(sum[:], b)
	return sum, nil
}

// ValidateDigest compares a computed fingerprint against an expected one.
// Returns ErrChecksumMismatch if they don't match.
func ValidateDigest(computed, expected [32]byte) error {
	if computed != expected {
		return fmt.Errorf("%w: got %x, expected %x", ErrChecksumMismatch, computed, expected)
	}
	return nil
}

// VerifyFile checks the file at path against a hex SHA-256 fingerprint, such as the
// digest reported by a conversion.
func VerifyFile(path, expected string) error {
	want, err := ParseDigest(expected)
	if err != nil {
		return err
	}
	got, err := FileDigest(path)
	if err != nil {
		return err
	}
	if err := ValidateDigest(got, want); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
