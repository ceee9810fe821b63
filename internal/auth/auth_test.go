package auth

import (
	"net/http/httptest"
	"testing"
)

func TestVerify(t *testing.T) {
	hash, err := HashKey("s3cret-admin-key")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}

	v := NewVerifier(hash)

	if err := v.Verify("s3cret-admin-key"); err != nil {
		t.Errorf("expected correct key to verify, got %v", err)
	}
	if err := v.Verify("wrong-key"); err == nil {
		t.Error("expected wrong key to be rejected")
	}
	if err := v.Verify(""); err == nil {
		t.Error("expected empty key to be rejected")
	}
}

func TestVerifyFailsClosedWithoutHash(t *testing.T) {
	v := NewVerifier("")

	if v.Enabled() {
		t.Error("expected verifier without hash to be disabled")
	}
	if err := v.Verify("any"); err == nil {
		t.Error("expected any key to be rejected without a configured hash")
	}
}

func TestVerifyRequest(t *testing.T) {
	hash, err := HashKey("s3cret-admin-key")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	v := NewVerifier(hash)

	req := httptest.NewRequest("GET", "/admin/circuit-breakers", nil)
	if err := v.VerifyRequest(req); err == nil {
		t.Error("expected request without header to be rejected")
	}

	req.Header.Set(AdminKeyHeader, "s3cret-admin-key")
	if err := v.VerifyRequest(req); err != nil {
		t.Errorf("expected request with key to verify, got %v", err)
	}
}

func TestHashKeyUniqueSalts(t *testing.T) {
	h1, _ := HashKey("key")
	h2, _ := HashKey("key")
	if h1 == h2 {
		t.Error("expected distinct salts for repeated hashing")
	}
}
