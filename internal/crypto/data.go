package encryption

import (
	"fmt"

	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/constants"
)

// EncryptData encrypts one chunk into the layout iv (12) || ciphertext || tag (16).
// The version is chosen from the key (KeyLengthToVersion); the key is used as
// raw AES material, never derived.
func EncryptData(plaintext []byte, key string) ([]byte, error) {
	const op = "encryptData"
	keyBytes, err := rawKey(op, key, KeyLengthToVersion(key))
	if err != nil {
		return nil, err
	}
	iv, err := randomBytes(constants.GCMIVSize)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(keyBytes)
	if err != nil {
		return nil, err
	}

	out := make([]byte, constants.GCMIVSize, constants.GCMIVSize+len(plaintext)+constants.GCMTagSize)
	copy(out, iv)
	return gcm.Seal(out, iv, plaintext, nil), nil
}

// DecryptData decrypts one chunk encrypted under the given version.
// Version 1 chunks take the legacy CBC path, which is read-only.
func DecryptData(data []byte, key string, version Version) ([]byte, error) {
	const op = "decryptData"
	switch version {
	case Version1:
		return decryptDataLegacy(data, key)
	case Version2, Version3:
	default:
		return nil, storage.E(op, storage.InvalidVersion, fmt.Errorf("unknown data version %d", int(version)))
	}

	keyBytes, err := rawKey(op, key, version)
	if err != nil {
		return nil, err
	}
	if len(data) < constants.GCMIVSize+constants.GCMTagSize {
		return nil, storage.E(op, storage.AuthenticationFailure, fmt.Errorf("chunk of %d bytes is shorter than iv and tag", len(data)))
	}
	plain, err := open(keyBytes, data[:constants.GCMIVSize], data[constants.GCMIVSize:])
	if err != nil {
		return nil, storage.E(op, storage.AuthenticationFailure, err)
	}
	return plain, nil
}

// EncryptedSize returns the ciphertext length of a v2/v3 chunk with n bytes
// of plaintext.
func EncryptedSize(n int) int {
	return n + constants.GCMIVSize + constants.GCMTagSize
}
