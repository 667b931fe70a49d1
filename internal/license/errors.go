package license

import "errors"

var (
	// ErrLicenseInvalid is the only error surfaced to callers outside
	// this package for any decode failure. Distinguishing a bad key from
	// a tampered envelope would give an attacker a decryption oracle.
	ErrLicenseInvalid = errors.New("license invalid")

	// ErrFileMissing indicates the license file does not exist.
	ErrFileMissing = errors.New("license file missing")
	// ErrFormatInvalid indicates the envelope is not well-formed or uses
	// unsupported algorithm parameters.
	ErrFormatInvalid = errors.New("license envelope format invalid")
	// ErrSignatureInvalid indicates the envelope HMAC did not verify.
	ErrSignatureInvalid = errors.New("license signature verification failed")
	// ErrDecryptionFailed indicates AES-GCM decryption failed.
	ErrDecryptionFailed = errors.New("license decryption failed")
	// ErrExpired indicates the license validity window has passed.
	ErrExpired = errors.New("license expired")
)
