// Package pin handles ATM PIN credentials.
//
// A stored credential is either a salted hash ("scrypt:..." or
// "pbkdf2:...") or a legacy plaintext PIN left over from before the hashing
// migration. Verification is polymorphic over the two variants; legacy
// credentials are deprecated and callers rehash them after a successful
// match.
package pin

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for newly hashed PINs.
const (
	scryptN       = 32768
	scryptR       = 8
	scryptP       = 1
	scryptKeyLen  = 32
	saltLen       = 16
	pbkdf2KeyLen  = 32
	minPBKDF2Iter = 1000
)

// Credential is a stored PIN representation.
type Credential string

// Legacy reports whether the credential is an unhashed plaintext PIN.
func (c Credential) Legacy() bool {
	s := string(c)
	return !strings.HasPrefix(s, "scrypt:") && !strings.HasPrefix(s, "pbkdf2:")
}

// Verify checks a candidate PIN against the credential.
// Legacy plaintext credentials compare in constant time; hashed credentials
// are verified with the parameters encoded in the credential itself.
func (c Credential) Verify(candidate string) (bool, error) {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "scrypt:"):
		return verifyScrypt(s, candidate)
	case strings.HasPrefix(s, "pbkdf2:"):
		return verifyPBKDF2(s, candidate)
	default:
		return subtle.ConstantTimeCompare([]byte(s), []byte(candidate)) == 1, nil
	}
}

// Hash derives a fresh scrypt credential for the given PIN.
func Hash(candidate string) (Credential, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(candidate), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	cred := fmt.Sprintf("scrypt:%d:%d:%d$%s$%s",
		scryptN, scryptR, scryptP,
		hex.EncodeToString(salt), hex.EncodeToString(key),
	)
	return Credential(cred), nil
}

// verifyScrypt parses "scrypt:N:r:p$salt$hash" and re-derives the key.
func verifyScrypt(stored, candidate string) (bool, error) {
	method, salt, want, err := splitCredential(stored)
	if err != nil {
		return false, err
	}

	params := strings.Split(method, ":")
	if len(params) != 4 {
		return false, fmt.Errorf("malformed scrypt parameters %q", method)
	}
	n, err1 := strconv.Atoi(params[1])
	r, err2 := strconv.Atoi(params[2])
	p, err3 := strconv.Atoi(params[3])
	if err1 != nil || err2 != nil || err3 != nil || n <= 1 || r <= 0 || p <= 0 {
		return false, fmt.Errorf("malformed scrypt parameters %q", method)
	}

	got, err := scrypt.Key([]byte(candidate), salt, n, r, p, len(want))
	if err != nil {
		return false, fmt.Errorf("derive key: %w", err)
	}
	return hmac.Equal(got, want), nil
}

// verifyPBKDF2 parses "pbkdf2:sha256:iterations$salt$hash".
func verifyPBKDF2(stored, candidate string) (bool, error) {
	method, salt, want, err := splitCredential(stored)
	if err != nil {
		return false, err
	}

	params := strings.Split(method, ":")
	if len(params) != 3 || params[1] != "sha256" {
		return false, fmt.Errorf("unsupported pbkdf2 variant %q", method)
	}
	iter, err := strconv.Atoi(params[2])
	if err != nil || iter < minPBKDF2Iter {
		return false, fmt.Errorf("malformed pbkdf2 iterations %q", method)
	}

	got := pbkdf2.Key([]byte(candidate), salt, iter, len(want), sha256.New)
	return hmac.Equal(got, want), nil
}

// splitCredential breaks "method$salt$hash" into its parts.
// Salt and hash are hex-encoded.
func splitCredential(stored string) (method string, salt, hash []byte, err error) {
	parts := strings.SplitN(stored, "$", 3)
	if len(parts) != 3 {
		return "", nil, nil, fmt.Errorf("malformed credential")
	}
	salt, err = hex.DecodeString(parts[1])
	if err != nil {
		return "", nil, nil, fmt.Errorf("malformed credential salt")
	}
	hash, err = hex.DecodeString(parts[2])
	if err != nil || len(hash) == 0 {
		return "", nil, nil, fmt.Errorf("malformed credential hash")
	}
	return parts[0], salt, hash, nil
}
