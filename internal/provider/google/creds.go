package google

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/fragmentforge/llm-gateway/internal/domain"
)

// ServiceAccount is the subset of a Google service-account JSON blob the
// adapter needs.
type ServiceAccount struct {
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	ProjectID    string `json:"project_id"`
}

// ParseServiceAccount validates a service-account credential blob.
// A blob that does not parse fails as invalid JSON credentials; a blob
// missing required fields fails listing exactly the missing field names.
func ParseServiceAccount(blob string) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal([]byte(blob), &sa); err != nil {
		return nil, domain.NewInvalidProviderConfigError("google", "invalid JSON credentials").WithCause(err)
	}

	var missing []string
	if sa.ClientEmail == "" {
		missing = append(missing, "client_email")
	}
	if sa.PrivateKey == "" {
		missing = append(missing, "private_key")
	}
	if sa.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if len(missing) > 0 {
		return nil, domain.NewInvalidProviderConfigError("google",
			"credentials missing required fields: "+strings.Join(missing, ", "))
	}

	return &sa, nil
}

// bearerToken mints a self-signed RS256 JWT accepted by Google APIs in
// place of an OAuth access token, valid for one hour.
func (sa *ServiceAccount) bearerToken(audience string) (string, error) {
	block, _ := pem.Decode([]byte(sa.PrivateKey))
	if block == nil {
		return "", domain.NewInvalidProviderConfigError("google", "private_key is not valid PEM")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return "", domain.NewInvalidProviderConfigError("google", "private_key is not a valid PKCS#8 key").WithCause(err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return "", domain.NewInvalidProviderConfigError("google", "private_key is not an RSA key")
	}

	now := time.Now()
	header := map[string]string{"alg": "RS256", "typ": "JWT", "kid": sa.PrivateKeyID}
	claims := map[string]any{
		"iss": sa.ClientEmail,
		"sub": sa.ClientEmail,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}

	headerJSON, _ := json.Marshal(header)
	claimsJSON, _ := json.Marshal(claims)
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)

	digest := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, rsaKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}
