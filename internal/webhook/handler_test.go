package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + fmt.Sprintf("%x", mac.Sum(nil))
}

func TestVerifyGitHubSignatureValid(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	secret := "topsecret"
	if !verifyGitHubSignature(body, sign(secret, body), secret) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifyGitHubSignatureRejectsTamperedBody(t *testing.T) {
	secret := "topsecret"
	signature := sign(secret, []byte(`{"ref":"refs/heads/main"}`))
	if verifyGitHubSignature([]byte(`{"ref":"refs/heads/evil"}`), signature, secret) {
		t.Fatal("expected signature for a different body to fail verification")
	}
}

func TestVerifyGitHubSignatureNoSecretRequiresNoSignature(t *testing.T) {
	if !verifyGitHubSignature([]byte(`{}`), "", "") {
		t.Fatal("expected no secret and no signature to verify")
	}
	if verifyGitHubSignature([]byte(`{}`), "sha256=anything", "") {
		t.Fatal("expected a signature with no configured secret to fail")
	}
}

func TestVerifyGitLabTokenRequiresMatch(t *testing.T) {
	if !verifyGitLabToken("abc", "abc") {
		t.Fatal("expected matching token to verify")
	}
	if verifyGitLabToken("abc", "xyz") {
		t.Fatal("expected mismatched token to fail")
	}
	if !verifyGitLabToken("anything", "") {
		t.Fatal("expected no configured secret to accept any token")
	}
}

func TestBranchFromRef(t *testing.T) {
	cases := map[string]string{
		"refs/heads/main":       "main",
		"refs/heads/feature/x":  "feature/x",
		"refs/tags/v1.0.0":      "",
		"":                      "",
	}
	for ref, want := range cases {
		if got := branchFromRef(ref); got != want {
			t.Errorf("branchFromRef(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestParseGitHubPush(t *testing.T) {
	body := []byte(`{
		"repository": {"clone_url": "https://github.com/acme/app.git", "ssh_url": "git@github.com:acme/app.git"},
		"ref": "refs/heads/main",
		"after": "deadbeef"
	}`)
	ev, err := parseGitHubPush(body)
	if err != nil {
		t.Fatalf("parseGitHubPush: %v", err)
	}
	if ev.branch != "main" || ev.commit != "deadbeef" {
		t.Errorf("unexpected push event: %+v", ev)
	}
	if len(ev.cloneURLs) != 2 || ev.cloneURLs[0] != "https://github.com/acme/app.git" {
		t.Errorf("expected both clone urls captured, got %v", ev.cloneURLs)
	}
}

func TestParseGitLabPushPrefersCheckoutSHA(t *testing.T) {
	body := []byte(`{
		"repository": {"git_http_url": "https://gitlab.com/acme/app.git"},
		"ref": "refs/heads/main",
		"checkout_sha": "sha1",
		"after": "sha2"
	}`)
	ev, err := parseGitLabPush(body)
	if err != nil {
		t.Fatalf("parseGitLabPush: %v", err)
	}
	if ev.commit != "sha1" {
		t.Errorf("expected checkout_sha preferred, got %s", ev.commit)
	}
}

func TestShortCommitTruncates(t *testing.T) {
	if got := shortCommit("0123456789abcdef"); got != "01234567" {
		t.Errorf("expected 8-char prefix, got %s", got)
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Errorf("expected short commit left unchanged, got %s", got)
	}
}
