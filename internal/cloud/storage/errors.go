package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide whether to retry the
// whole transfer, abandon it, or fall back to another key.
type Kind uint8

// Kinds of errors.
const (
	Other                 Kind = iota // Unclassified error.
	InvalidKey                        // Empty or malformed key.
	InvalidVersion                    // Unrecognized envelope version tag.
	AuthenticationFailure             // GCM tag mismatch or corrupt ciphertext.
	DecryptionExhausted               // No candidate key succeeded.
	Aborted                           // Cancellation observed.
	TransferFailed                    // Underlying fetch/send error.
	OutOfRange                        // Requested byte range outside object size.
)

func (k Kind) String() string {
	switch k {
	case InvalidKey:
		return "invalid key"
	case InvalidVersion:
		return "invalid version"
	case AuthenticationFailure:
		return "authentication failure"
	case DecryptionExhausted:
		return "decryption exhausted"
	case Aborted:
		return "aborted"
	case TransferFailed:
		return "transfer failed"
	case OutOfRange:
		return "out of range"
	}
	return "other error"
}

// Sentinel values usable with errors.Is. A *Error matches the sentinel of
// its Kind.
var (
	ErrInvalidKey            = &Error{Kind: InvalidKey}
	ErrInvalidVersion        = &Error{Kind: InvalidVersion}
	ErrAuthenticationFailure = &Error{Kind: AuthenticationFailure}
	ErrDecryptionExhausted   = &Error{Kind: DecryptionExhausted}
	ErrAborted               = &Error{Kind: Aborted}
	ErrTransferFailed        = &Error{Kind: TransferFailed}
	ErrOutOfRange            = &Error{Kind: OutOfRange}
)

// NoChunk is the Chunk value of errors not tied to a single chunk.
const NoChunk = -1

// Error is the structured failure returned by the crypto layer and the
// transfer engines.
type Error struct {
	// Op is the operation being performed, e.g. "download" or "decryptData".
	Op string
	// Kind is the class of failure.
	Kind Kind
	// ObjectID identifies the remote object, if known.
	ObjectID string
	// Chunk is the offending chunk index or NoChunk.
	Chunk int64
	// Err is the underlying error, if any.
	Err error
}

// E builds an *Error. It is a shorthand used throughout the engines.
func E(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Chunk: NoChunk, Err: err}
}

// ChunkError builds an *Error tied to a single chunk of an object.
func ChunkError(op string, kind Kind, objectID string, chunk int64, err error) *Error {
	return &Error{Op: op, Kind: kind, ObjectID: objectID, Chunk: chunk, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.ObjectID != "" {
		fmt.Fprintf(&b, " (object %s", e.ObjectID)
		if e.Chunk >= 0 {
			fmt.Fprintf(&b, ", chunk %d", e.Chunk)
		}
		b.WriteString(")")
	} else if e.Chunk >= 0 {
		fmt.Fprintf(&b, " (chunk %d)", e.Chunk)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel (or any *Error) of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the outermost *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// IsAborted reports whether err is an Aborted failure.
func IsAborted(err error) bool {
	return KindOf(err) == Aborted
}

// StatusError reports a non-2xx response from a remote chunk endpoint.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response %s from %s", e.Status, e.URL)
}

// Common storage operation errors
var (
	// ErrInsufficientSpace indicates there isn't enough disk space for the operation
	ErrInsufficientSpace = errors.New("insufficient disk space")
	// ErrChecksumMismatch indicates chunk integrity check failed
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrChunkNotFound indicates the remote side has no such chunk
	ErrChunkNotFound = errors.New("chunk not found")
)

// IsDiskFullError checks if an error is likely caused by running out of disk space
// This catches errors that occur during file operations when disk becomes full
func IsDiskFullError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	diskFullIndicators := []string{
		"no space left on device", // Linux/Unix
		"disk full",               // Generic
		"out of disk space",       // Windows
		"insufficient disk space", // Windows
		"not enough space",        // Generic
		"enospc",                  // Linux errno
		"disk quota exceeded",     // Quota systems
	}

	for _, indicator := range diskFullIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// IsNetworkError checks if an error is network-related
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	networkIndicators := []string{
		"connection",    // connection refused, connection reset, etc.
		"timeout",       // i/o timeout, dial timeout, etc.
		"network",       // network unreachable, network error, etc.
		"eof",           // unexpected EOF
		"broken pipe",   // broken pipe
		"tls handshake", // TLS handshake errors
	}

	for _, indicator := range networkIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// IsCredentialError checks if an error is authentication/authorization related
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 401 || se.StatusCode == 403
	}

	errStr := strings.ToLower(err.Error())

	credentialIndicators := []string{
		"403",           // HTTP Forbidden
		"unauthorized",  // HTTP Unauthorized
		"expired",       // expired token/credential
		"expiredtoken",  // AWS specific
		"invalid token", // invalid authentication
	}

	for _, indicator := range credentialIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}
