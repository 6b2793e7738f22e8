package encryption

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rescale/chunkvault/internal/cloud/storage"
)

// AcceptFunc decides whether a decrypted plaintext has the expected shape.
// A nil AcceptFunc accepts any plaintext.
type AcceptFunc func(plaintext string) bool

// AcceptJSON accepts plaintexts that parse as a JSON object.
func AcceptJSON(plaintext string) bool {
	var v map[string]any
	return json.Unmarshal([]byte(plaintext), &v) == nil
}

// TryDecryptMetadata tries each candidate key in order and returns the first
// plaintext that decrypts and is accepted, along with the index of the key
// that produced it. Per-key failures are ignored; if no key succeeds the
// call fails with DecryptionExhausted wrapping the last failure.
func TryDecryptMetadata(envelope string, keys []string, accept AcceptFunc) (string, int, error) {
	var lastErr error
	for i, key := range keys {
		plain, err := DecryptMetadata(envelope, key)
		if err != nil {
			lastErr = err
			continue
		}
		if accept != nil && !accept(plain) {
			lastErr = fmt.Errorf("key %d: plaintext rejected", i)
			continue
		}
		return plain, i, nil
	}
	return "", -1, exhausted(len(keys), lastErr)
}

// TryDecryptMetadataParallel is TryDecryptMetadata with every key attempted
// concurrently. The result is the same as the sequential version: the
// lowest-indexed successful key wins.
func TryDecryptMetadataParallel(envelope string, keys []string, accept AcceptFunc) (string, int, error) {
	type attempt struct {
		plain string
		err   error
	}
	results := make([]attempt, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			plain, err := DecryptMetadata(envelope, key)
			if err == nil && accept != nil && !accept(plain) {
				err = fmt.Errorf("key %d: plaintext rejected", i)
			}
			results[i] = attempt{plain: plain, err: err}
		}(i, key)
	}
	wg.Wait()

	var lastErr error
	for i, r := range results {
		if r.err == nil {
			return r.plain, i, nil
		}
		lastErr = r.err
	}
	return "", -1, exhausted(len(keys), lastErr)
}

func exhausted(n int, lastErr error) error {
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate keys")
	} else {
		lastErr = fmt.Errorf("%d candidate keys failed, last: %w", n, lastErr)
	}
	return storage.E("decryptMetadata", storage.DecryptionExhausted, lastErr)
}
