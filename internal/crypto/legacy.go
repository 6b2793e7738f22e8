package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"strings"

	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/constants"
)

// Version 1 ciphertexts are OpenSSL-compatible AES-256-CBC. They are still
// readable but never produced.

// saltedMagic is the OpenSSL salted header.
var saltedMagic = []byte("Salted__")

// Sniffing markers found in the first bytes of a version 1 chunk.
const (
	sniffLength   = 16
	binaryMarker  = "Salted_"
	base64Marker  = "U2FsdGVk"    // base64("Salted__")
	base64Twice   = "VTJGc2RHVmt" // base64(base64("Salted__"))
	saltedHeader  = 8             // len("Salted__")
	saltedPayload = saltedHeader + constants.LegacySaltSize
)

// decryptMetadataLegacy decrypts a base64 "U2FsdGVk..." metadata string.
func decryptMetadataLegacy(envelope, key string) (string, error) {
	const op = "decryptMetadata"
	raw, err := DecodeBase64(envelope)
	if err != nil {
		return "", storage.E(op, storage.AuthenticationFailure, fmt.Errorf("malformed legacy envelope: %w", err))
	}
	plain, err := decryptSalted(raw, []byte(key))
	if err != nil {
		return "", storage.E(op, storage.AuthenticationFailure, err)
	}
	return string(plain), nil
}

// decryptDataLegacy decrypts a version 1 chunk. The chunk may be the binary
// OpenSSL format, its base64 encoding, base64 applied twice, or an unsalted
// CBC body whose key and IV both come from the key string.
func decryptDataLegacy(data []byte, key string) ([]byte, error) {
	const op = "decryptData"
	if key == "" {
		return nil, storage.E(op, storage.InvalidKey, fmt.Errorf("empty key"))
	}

	head := string(data[:min(len(data), sniffLength)])
	var (
		plain []byte
		err   error
	)
	switch {
	case strings.Contains(head, binaryMarker):
		plain, err = decryptSalted(data, []byte(key))
	case strings.Contains(head, base64Marker):
		var decoded []byte
		decoded, err = DecodeBase64(string(data))
		if err == nil {
			plain, err = decryptSalted(decoded, []byte(key))
		}
	case strings.Contains(head, base64Twice):
		var once, twice []byte
		once, err = DecodeBase64(string(data))
		if err == nil {
			twice, err = DecodeBase64(string(once))
		}
		if err == nil {
			plain, err = decryptSalted(twice, []byte(key))
		}
	default:
		keyBytes := []byte(key)
		if len(keyBytes) < constants.DerivedKeySize {
			return nil, storage.E(op, storage.InvalidKey, fmt.Errorf("legacy key must be at least %d bytes", constants.DerivedKeySize))
		}
		plain, err = decryptCBC(keyBytes[:constants.DerivedKeySize], keyBytes[:constants.LegacyIVSize], data)
	}
	if err != nil {
		return nil, storage.E(op, storage.AuthenticationFailure, err)
	}
	return plain, nil
}

// decryptSalted handles "Salted__" || salt (8) || ciphertext.
func decryptSalted(data, password []byte) ([]byte, error) {
	if len(data) < saltedPayload || !bytes.Equal(data[:saltedHeader], saltedMagic) {
		return nil, fmt.Errorf("missing salted header")
	}
	salt := data[saltedHeader:saltedPayload]
	key, iv := evpBytesToKey(password, salt)
	return decryptCBC(key, iv, data[saltedPayload:])
}

func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the AES block size", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}
