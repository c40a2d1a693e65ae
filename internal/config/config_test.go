package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.RedisHost != "127.0.0.1" {
		t.Errorf("expected default redis host 127.0.0.1, got %s", cfg.RedisHost)
	}
	if cfg.RedisPort != 6379 {
		t.Errorf("expected default redis port 6379, got %d", cfg.RedisPort)
	}
	if cfg.APIPort != 8000 {
		t.Errorf("expected default api port 8000, got %d", cfg.APIPort)
	}
	if cfg.CertRenewalDays != 30 {
		t.Errorf("expected default cert renewal window 30, got %d", cfg.CertRenewalDays)
	}
	if cfg.RootDomain != "127.0.0.1.nip.io" {
		t.Errorf("expected derived root domain, got %s", cfg.RootDomain)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("ACME_STAGING", "false")
	t.Setenv("LOCAL_IP", "10.0.0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.RedisPort != 6380 {
		t.Errorf("expected overridden redis port 6380, got %d", cfg.RedisPort)
	}
	if cfg.ACMEStaging {
		t.Error("expected ACMEStaging false when ACME_STAGING=false")
	}
	if cfg.RootDomain != "10.0.0.5.nip.io" {
		t.Errorf("expected root domain derived from LOCAL_IP, got %s", cfg.RootDomain)
	}
	if cfg.ACMEDirectoryURL() != cfg.ACMEDirectoryProd {
		t.Error("expected prod ACME directory when staging disabled")
	}
}

func TestIsWildcardDomain(t *testing.T) {
	cfg := &Config{WildcardDomainSuffixes: []string{".nip.io", ".sslip.io"}}

	if !cfg.IsWildcardDomain("app-1.127.0.0.1.nip.io") {
		t.Error("expected nip.io domain to be recognized as wildcard")
	}
	if cfg.IsWildcardDomain("example.com") {
		t.Error("did not expect example.com to be recognized as wildcard")
	}
}

func TestInvalidIntEnv(t *testing.T) {
	t.Setenv("REDIS_PORT", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric REDIS_PORT")
	}
}
