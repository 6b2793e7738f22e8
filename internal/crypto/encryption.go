// Package encryption implements the versioned authenticated-encryption
// envelope used for every chunk and every piece of metadata.
//
// Versions:
//   - 1: legacy OpenSSL "Salted__" AES-256-CBC. Decrypt only.
//   - 2: 32-character password-like key, AES-256-GCM, metadata keys pass through PBKDF2.
//   - 3: 64-character hex key (32 random bytes), AES-256-GCM, no derivation.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/constants"
)

// Version identifies an envelope format.
type Version int

const (
	Version1 Version = 1 // deprecated, read-only
	Version2 Version = 2
	Version3 Version = 3
)

// CurrentVersion is the version used for newly generated keys.
const CurrentVersion = Version2

// v3KeyLength is the hex length of a version 3 key.
const v3KeyLength = 64

// v2KeyLength is the length of a generated version 2 key.
const v2KeyLength = 32

// Valid reports whether v is a known version.
func (v Version) Valid() bool {
	return v == Version1 || v == Version2 || v == Version3
}

func (v Version) String() string {
	return fmt.Sprintf("v%d", int(v))
}

// KeyLengthToVersion selects the envelope version for a key. A key of exactly
// 64 hex characters is version 3; every other key is version 2. Version 1 is
// never selected for new encryption.
func KeyLengthToVersion(key string) Version {
	if len(key) == v3KeyLength && isHex(key) {
		return Version3
	}
	return Version2
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// GenerateKey generates a fresh random key for the given version.
func GenerateKey(version Version) (string, error) {
	switch version {
	case Version3:
		raw := make([]byte, constants.DerivedKeySize)
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("failed to generate key: %w", err)
		}
		return hex.EncodeToString(raw), nil
	case Version2:
		return GenerateSecureRandomString(v2KeyLength)
	}
	return "", storage.E("generateKey", storage.InvalidVersion, fmt.Errorf("cannot generate %s keys", version))
}

// GenerateSecureRandomString generates a random string of the specified length
func GenerateSecureRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate random string: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}

// randomBytes returns n bytes from crypto/rand.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// rawKey returns AES key material for data encryption: UTF-8 bytes for
// version 2 keys and hex-decoded bytes for version 3 keys.
func rawKey(op, key string, version Version) ([]byte, error) {
	if key == "" {
		return nil, storage.E(op, storage.InvalidKey, fmt.Errorf("empty key"))
	}
	var raw []byte
	switch version {
	case Version3:
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, storage.E(op, storage.InvalidKey, fmt.Errorf("version 3 key is not hex: %w", err))
		}
		raw = decoded
	default:
		raw = []byte(key)
	}
	if len(raw) != constants.DerivedKeySize {
		return nil, storage.E(op, storage.InvalidKey, fmt.Errorf("key must be %d bytes, got %d", constants.DerivedKeySize, len(raw)))
	}
	return raw, nil
}

// newGCM builds an AES-256-GCM AEAD with the standard 12-byte nonce.
func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, constants.GCMIVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// pkcs7Unpad removes PKCS7 padding from the data
// Verifies that all padding bytes have the correct value
func pkcs7Unpad(data []byte) ([]byte, error) {
	length := len(data)
	if length == 0 {
		return nil, fmt.Errorf("invalid padding: empty data")
	}
	padding := int(data[length-1])
	if padding > length || padding > aes.BlockSize || padding == 0 {
		return nil, fmt.Errorf("invalid padding size: %d", padding)
	}
	for i := 0; i < padding; i++ {
		if data[length-1-i] != byte(padding) {
			return nil, fmt.Errorf("invalid padding byte at position %d: expected %d, got %d", i, padding, data[length-1-i])
		}
	}
	return data[:length-padding], nil
}

// CalculateSHA512 calculates the hex SHA-512 hash of a file
func CalculateSHA512(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return HashReader(file)
}

// HashReader calculates the hex SHA-512 hash of everything read from r.
func HashReader(r io.Reader) (string, error) {
	hash := sha512.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", fmt.Errorf("failed to hash data: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ChunkDigest returns the hex SHA-512 of a chunk ciphertext, sent alongside
// each chunk so the remote side can verify what it stored.
func ChunkDigest(ciphertext []byte) string {
	sum := sha512.Sum512(ciphertext)
	return hex.EncodeToString(sum[:])
}

// EncodeBase64 encodes bytes to base64 string
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes base64 string to bytes
func DecodeBase64(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
