package acme

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return &Client{accountKey: key}
}

func TestThumbprintStable(t *testing.T) {
	c := testClient(t)
	a := c.thumbprint()
	b := c.thumbprint()
	if a != b {
		t.Fatalf("thumbprint should be stable across calls: %q != %q", a, b)
	}
	if len(a) == 0 {
		t.Fatal("expected non-empty thumbprint")
	}
}

func TestThumbprintDiffersAcrossKeys(t *testing.T) {
	a := testClient(t).thumbprint()
	b := testClient(t).thumbprint()
	if a == b {
		t.Fatal("expected different keys to produce different thumbprints")
	}
}

func TestJWKHasExpectedShape(t *testing.T) {
	c := testClient(t)
	j := c.jwk()
	if j.Kty != "RSA" {
		t.Errorf("expected kty=RSA, got %q", j.Kty)
	}
	if j.N == "" || j.E == "" {
		t.Errorf("expected non-empty n and e, got n=%q e=%q", j.N, j.E)
	}
}

func TestGenerateCSRForDomain(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	csr, err := generateCSR("example.com", key)
	if err != nil {
		t.Fatalf("generateCSR: %v", err)
	}
	if len(csr) == 0 {
		t.Fatal("expected non-empty DER-encoded CSR")
	}
}

func TestB64URLNoPadding(t *testing.T) {
	encoded := b64url([]byte{0, 1, 2, 3, 4})
	for _, r := range encoded {
		if r == '=' {
			t.Fatalf("expected no padding characters, got %q", encoded)
		}
	}
}
