// Package auth guards the admin surface. Admin callers present a shared
// key in X-Admin-Key; only its bcrypt hash is configured on the gateway.
package auth

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader carries the admin key on inbound requests.
const AdminKeyHeader = "X-Admin-Key"

var ErrInvalidKey = errors.New("invalid admin key")

// Verifier checks admin keys against a configured bcrypt hash. An empty
// hash disables the admin surface entirely.
type Verifier struct {
	hash string
}

func NewVerifier(hash string) *Verifier {
	return &Verifier{hash: hash}
}

// Enabled reports whether an admin key hash is configured.
func (v *Verifier) Enabled() bool {
	return v.hash != ""
}

// Verify checks a presented key. It fails closed: no configured hash means
// no key is valid.
func (v *Verifier) Verify(key string) error {
	if v.hash == "" || key == "" {
		return ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// VerifyRequest checks the admin key header of an inbound request.
func (v *Verifier) VerifyRequest(r *http.Request) error {
	return v.Verify(r.Header.Get(AdminKeyHeader))
}

// HashKey generates a bcrypt hash for provisioning.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
