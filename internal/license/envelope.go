// Package license implements the offline license envelope codec, the
// process-wide snapshot cache, and the feature-gate decision engine for
// Entitled.
package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// envelopeAlg is the only supported content encryption algorithm.
	envelopeAlg = "AES-GCM-256"
	// envelopeSigAlg is the only supported envelope signature algorithm.
	envelopeSigAlg = "HMAC-SHA256"
	// envelopeKDF is the only supported key derivation function.
	envelopeKDF = "PBKDF2"

	// kdfIterations is the fixed PBKDF2 iteration count. Changing it
	// breaks compatibility with every license file already issued.
	kdfIterations = 100_000

	derivedKeySize = 32
	saltSize       = 16
	nonceSize      = 12
	tagSize        = 16
)

// Envelope is the on-disk license file format. All binary fields are
// base64-encoded. The format is produced by the offline issuing tool and
// must stay byte-compatible across releases.
type Envelope struct {
	Alg        string `json:"alg"`
	SigAlg     string `json:"sigAlg"`
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
	Signature  string `json:"signature"`
}

// Plaintext is the decrypted license record. Features and
// MachineFingerprint are only present for on-prem licenses.
type Plaintext struct {
	Mode               Mode           `json:"mode"`
	Issuer             string         `json:"issuer"`
	IssuedAt           time.Time      `json:"issuedAt"`
	ExpiresAt          time.Time      `json:"expiresAt"`
	LicenseID          string         `json:"licenseId"`
	MachineFingerprint string         `json:"machineFingerprint,omitempty"`
	Features           []FeatureGrant `json:"features,omitempty"`
}

// Decode validates and decrypts a license envelope.
//
// The envelope HMAC is verified before any decryption is attempted, so a
// tampered ciphertext is rejected without ever reaching AES-GCM. Every
// failure is reported as ErrLicenseInvalid; the specific cause is wrapped
// underneath for internal logging only.
func Decode(envelopeJSON []byte, masterKey []byte) (*Plaintext, error) {
	return decodeAt(envelopeJSON, masterKey, time.Now())
}

// decodeAt is Decode with an injectable clock for expiry tests.
func decodeAt(envelopeJSON []byte, masterKey []byte, now time.Time) (*Plaintext, error) {
	var env Envelope
	if err := json.Unmarshal(envelopeJSON, &env); err != nil {
		return nil, invalid(fmt.Errorf("%w: parse envelope: %v", ErrFormatInvalid, err))
	}

	if env.Alg != envelopeAlg || env.SigAlg != envelopeSigAlg || env.KDF != envelopeKDF {
		return nil, invalid(fmt.Errorf("%w: unsupported envelope parameters", ErrFormatInvalid))
	}

	salt, err := b64field(env.Salt)
	if err != nil {
		return nil, invalid(fmt.Errorf("%w: salt: %v", ErrFormatInvalid, err))
	}
	iv, err := b64field(env.IV)
	if err != nil {
		return nil, invalid(fmt.Errorf("%w: iv: %v", ErrFormatInvalid, err))
	}
	ciphertext, err := b64field(env.Ciphertext)
	if err != nil {
		return nil, invalid(fmt.Errorf("%w: ciphertext: %v", ErrFormatInvalid, err))
	}
	tag, err := b64field(env.Tag)
	if err != nil {
		return nil, invalid(fmt.Errorf("%w: tag: %v", ErrFormatInvalid, err))
	}
	signature, err := b64field(env.Signature)
	if err != nil {
		return nil, invalid(fmt.Errorf("%w: signature: %v", ErrFormatInvalid, err))
	}

	if len(iv) != nonceSize || len(tag) != tagSize {
		return nil, invalid(fmt.Errorf("%w: bad iv or tag length", ErrFormatInvalid))
	}

	key := pbkdf2.Key(masterKey, salt, kdfIterations, derivedKeySize, sha256.New)

	// Integrity first: HMAC over salt|iv|ciphertext|tag in constant time.
	mac := hmac.New(sha256.New, key)
	mac.Write(salt)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(tag)
	if !hmac.Equal(mac.Sum(nil), signature) {
		return nil, invalid(ErrSignatureInvalid)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, invalid(fmt.Errorf("%w: %v", ErrDecryptionFailed, err))
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, invalid(fmt.Errorf("%w: %v", ErrDecryptionFailed, err))
	}

	// Go's GCM expects the tag appended to the ciphertext.
	plain, err := gcm.Open(nil, iv, append(append([]byte{}, ciphertext...), tag...), nil)
	if err != nil {
		return nil, invalid(ErrDecryptionFailed)
	}

	var lic Plaintext
	if err := json.Unmarshal(plain, &lic); err != nil {
		return nil, invalid(fmt.Errorf("%w: parse payload: %v", ErrFormatInvalid, err))
	}

	if !lic.Mode.IsValid() {
		return nil, invalid(fmt.Errorf("%w: unknown mode %q", ErrFormatInvalid, lic.Mode))
	}
	if !lic.ExpiresAt.After(now) {
		return nil, invalid(ErrExpired)
	}

	return &lic, nil
}

// Encode encrypts and signs a license record into an envelope. The
// inverse of Decode; used by the issuing tooling and test fixtures.
func Encode(lic *Plaintext, masterKey []byte) ([]byte, error) {
	plain, err := json.Marshal(lic)
	if err != nil {
		return nil, fmt.Errorf("marshal license payload: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	key := pbkdf2.Key(masterKey, salt, kdfIterations, derivedKeySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plain, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	mac := hmac.New(sha256.New, key)
	mac.Write(salt)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(tag)
	signature := mac.Sum(nil)

	env := Envelope{
		Alg:        envelopeAlg,
		SigAlg:     envelopeSigAlg,
		KDF:        envelopeKDF,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		Signature:  base64.StdEncoding.EncodeToString(signature),
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return out, nil
}

func b64field(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty field")
	}
	return base64.StdEncoding.DecodeString(s)
}

// invalid collapses a specific decode failure into the opaque
// ErrLicenseInvalid while keeping the cause in the chain for logs.
func invalid(cause error) error {
	return fmt.Errorf("%w: %w", ErrLicenseInvalid, cause)
}
