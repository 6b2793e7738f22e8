package encryption

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/constants"
)

// Envelope version tags.
const (
	tagV2 = "002"
	tagV3 = "003"

	// legacyMetadataPrefix is base64("Salted__").
	legacyMetadataPrefix = "U2FsdGVk"

	versionTagLength = 3
)

// EncryptMetadata encrypts a short metadata string into a self-describing
// envelope. The version is chosen by KeyLengthToVersion. For version 2 keys
// deriveKey selects whether the key passes through DeriveKey first; when it
// is false the key must be exactly 32 bytes.
//
// Output:
//
//	v2: "002" + iv (12 random alphanumeric chars) + base64(ciphertext || tag)
//	v3: "003" + hex(iv) (24 chars)               + base64(ciphertext || tag)
func EncryptMetadata(plaintext, key string, deriveKey bool) (string, error) {
	const op = "encryptMetadata"
	if key == "" {
		return "", storage.E(op, storage.InvalidKey, fmt.Errorf("empty key"))
	}

	switch KeyLengthToVersion(key) {
	case Version3:
		keyBytes, err := rawKey(op, key, Version3)
		if err != nil {
			return "", err
		}
		iv, err := randomBytes(constants.GCMIVSize)
		if err != nil {
			return "", err
		}
		sealed, err := seal(keyBytes, iv, []byte(plaintext))
		if err != nil {
			return "", err
		}
		return tagV3 + hex.EncodeToString(iv) + EncodeBase64(sealed), nil

	default:
		var keyBytes []byte
		if deriveKey {
			keyBytes = DeriveKey(key)
		} else {
			k, err := rawKey(op, key, Version2)
			if err != nil {
				return "", err
			}
			keyBytes = k
		}
		ivString, err := GenerateSecureRandomString(constants.GCMIVSize)
		if err != nil {
			return "", err
		}
		sealed, err := seal(keyBytes, []byte(ivString), []byte(plaintext))
		if err != nil {
			return "", err
		}
		return tagV2 + ivString + EncodeBase64(sealed), nil
	}
}

// DecryptMetadata decrypts an envelope produced by EncryptMetadata with
// deriveKey set, or a legacy version 1 "U2FsdGVk..." string.
func DecryptMetadata(envelope, key string) (string, error) {
	return decryptMetadata(envelope, key, true)
}

// DecryptMetadataRawKey decrypts a version 2 envelope that was produced with
// deriveKey=false. Version 3 and legacy envelopes decrypt as in DecryptMetadata.
func DecryptMetadataRawKey(envelope, key string) (string, error) {
	return decryptMetadata(envelope, key, false)
}

func decryptMetadata(envelope, key string, deriveKey bool) (string, error) {
	const op = "decryptMetadata"
	if key == "" {
		return "", storage.E(op, storage.InvalidKey, fmt.Errorf("empty key"))
	}

	if strings.HasPrefix(envelope, legacyMetadataPrefix) {
		return decryptMetadataLegacy(envelope, key)
	}
	if len(envelope) < versionTagLength {
		return "", storage.E(op, storage.InvalidVersion, fmt.Errorf("envelope too short"))
	}

	switch envelope[:versionTagLength] {
	case tagV2:
		body := envelope[versionTagLength:]
		if len(body) < constants.GCMIVSize {
			return "", storage.E(op, storage.AuthenticationFailure, fmt.Errorf("envelope truncated"))
		}
		var keyBytes []byte
		if deriveKey {
			keyBytes = DeriveKey(key)
		} else {
			k, err := rawKey(op, key, Version2)
			if err != nil {
				return "", err
			}
			keyBytes = k
		}
		return openEnvelope(op, keyBytes, []byte(body[:constants.GCMIVSize]), body[constants.GCMIVSize:])

	case tagV3:
		keyBytes, err := rawKey(op, key, Version3)
		if err != nil {
			return "", err
		}
		body := envelope[versionTagLength:]
		ivHexLen := constants.GCMIVSize * 2
		if len(body) < ivHexLen {
			return "", storage.E(op, storage.AuthenticationFailure, fmt.Errorf("envelope truncated"))
		}
		iv, err := hex.DecodeString(body[:ivHexLen])
		if err != nil {
			return "", storage.E(op, storage.AuthenticationFailure, fmt.Errorf("malformed iv: %w", err))
		}
		return openEnvelope(op, keyBytes, iv, body[ivHexLen:])
	}

	return "", storage.E(op, storage.InvalidVersion, fmt.Errorf("unrecognized version tag %q", envelope[:versionTagLength]))
}

func openEnvelope(op string, key, iv []byte, encoded string) (string, error) {
	sealed, err := DecodeBase64(encoded)
	if err != nil {
		return "", storage.E(op, storage.AuthenticationFailure, fmt.Errorf("malformed ciphertext: %w", err))
	}
	plain, err := open(key, iv, sealed)
	if err != nil {
		return "", storage.E(op, storage.AuthenticationFailure, err)
	}
	return string(plain), nil
}

// seal encrypts plaintext with AES-256-GCM and returns ciphertext || tag.
func seal(key, iv, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, iv, plaintext, nil), nil
}

// open verifies and decrypts ciphertext || tag.
func open(key, iv, sealed []byte) ([]byte, error) {
	if len(sealed) < constants.GCMTagSize {
		return nil, fmt.Errorf("ciphertext shorter than tag")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("tag verification failed: %w", err)
	}
	return plain, nil
}
