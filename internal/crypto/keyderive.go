package encryption

import (
	"crypto/md5"
	"crypto/sha512"

	"golang.org/x/crypto/pbkdf2"

	"github.com/rescale/chunkvault/internal/constants"
)

// DeriveKey turns a version 2 password-like key into 32 bytes of AES key
// material: PBKDF2-HMAC-SHA512 with the key as both password and salt and a
// single iteration.
func DeriveKey(password string) []byte {
	return pbkdf2.Key([]byte(password), []byte(password), constants.KeyDerivationIterations, constants.DerivedKeySize, sha512.New)
}

// evpBytesToKey is OpenSSL's EVP_BytesToKey with MD5 and one round, used by
// version 1 "Salted__" ciphertexts to obtain a 32-byte key and 16-byte IV.
func evpBytesToKey(password, salt []byte) (key, iv []byte) {
	const total = constants.DerivedKeySize + constants.LegacyIVSize
	var (
		out  = make([]byte, 0, total+md5.Size)
		prev []byte
	)
	for len(out) < total {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		h.Write(salt)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:constants.DerivedKeySize], out[constants.DerivedKeySize:total]
}
