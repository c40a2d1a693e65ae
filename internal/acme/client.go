// Package acme is a hand-rolled ACME v2 client implementing the HTTP-01
// flow against Let's Encrypt (or any RFC 8555 server): account
// registration, order creation, challenge publication through the
// registry's ephemeral ACME-challenge store, finalization, and a
// cron-driven renewal loop.
package acme

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wku/velox-orchestrator/internal/log"
	"github.com/wku/velox-orchestrator/internal/metrics"
	"github.com/wku/velox-orchestrator/internal/registry"
	"github.com/wku/velox-orchestrator/internal/types"
)

// pollInterval and pollAttempts bound how long the client waits for an
// order or challenge to transition out of "pending".
const (
	pollInterval = 2 * time.Second
	pollAttempts = 30
)

type directory struct {
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
}

type jwk struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type order struct {
	Status         string   `json:"status"`
	Authorizations []string `json:"authorizations"`
	Finalize       string   `json:"finalize"`
	Certificate    string   `json:"certificate"`
}

type authorization struct {
	Challenges []challenge `json:"challenges"`
}

type challenge struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Token  string `json:"token"`
	Status string `json:"status"`
}

// Client is an ACME account bound to one directory.
type Client struct {
	http         *http.Client
	reg          *registry.Registry
	directoryURL string
	email        string
	certsPath    string

	accountKey *rsa.PrivateKey
	accountURI string
	dir        directory

	mu    sync.Mutex
	nonce string

	cronSched *cron.Cron
}

// New builds a Client against directoryURL. The account key under
// certsPath/accounts/account.key is loaded or created later, by Start.
func New(reg *registry.Registry, directoryURL, email, certsPath string) *Client {
	return &Client{
		http:         &http.Client{Timeout: 30 * time.Second},
		reg:          reg,
		directoryURL: directoryURL,
		email:        email,
		certsPath:    certsPath,
	}
}

// Start loads or creates the account key, fetches the directory document,
// and registers the account.
func (c *Client) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(c.certsPath, "accounts"), 0o755); err != nil {
		return fmt.Errorf("create certs dir: %w", err)
	}
	if err := c.loadOrCreateAccountKey(); err != nil {
		return err
	}
	if err := c.fetchDirectory(ctx); err != nil {
		return err
	}
	if err := c.registerAccount(ctx); err != nil {
		return err
	}
	log.Logger.Info().Str("directory", c.directoryURL).Msg("acme client started")
	return nil
}

// StartRenewalLoop schedules RenewExpiring on an hourly cron cadence. The
// scheduler is kept on the Client; Stop halts it on shutdown.
func (c *Client) StartRenewalLoop(ctx context.Context, renewalWindowDays int) {
	c.cronSched = cron.New()
	_, err := c.cronSched.AddFunc("@hourly", func() {
		renewed, err := c.RenewExpiring(ctx, renewalWindowDays)
		if err != nil {
			log.Logger.Error().Err(err).Msg("certificate renewal sweep failed")
			return
		}
		if len(renewed) > 0 {
			log.Logger.Info().Int("count", len(renewed)).Msg("certificates renewed")
		}
	})
	if err != nil {
		log.Logger.Error().Err(err).Msg("failed to schedule acme renewal loop")
		return
	}
	c.cronSched.Start()
}

// Stop halts the renewal cron, if running.
func (c *Client) Stop() {
	if c.cronSched != nil {
		c.cronSched.Stop()
	}
}

func (c *Client) loadOrCreateAccountKey() error {
	keyPath := filepath.Join(c.certsPath, "accounts", "account.key")
	raw, err := os.ReadFile(keyPath)
	if err == nil {
		block, _ := pem.Decode(raw)
		if block == nil {
			return fmt.Errorf("account key %s is not valid PEM", keyPath)
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return fmt.Errorf("parse account key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return fmt.Errorf("account key is not RSA")
		}
		c.accountKey = rsaKey
		log.Logger.Info().Msg("acme account key loaded")
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("read account key: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generate account key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal account key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(keyPath, pemBytes, 0o600); err != nil {
		return fmt.Errorf("write account key: %w", err)
	}
	c.accountKey = key
	log.Logger.Info().Msg("acme account key created")
	return nil
}

func (c *Client) fetchDirectory(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.directoryURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch acme directory: %w", err)
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(&c.dir)
}

func (c *Client) registerAccount(ctx context.Context) error {
	payload := map[string]any{
		"termsOfServiceAgreed": true,
		"contact":              []string{"mailto:" + c.email},
	}
	resp, err := c.signedRequest(ctx, c.dir.NewAccount, payload)
	if err != nil {
		return fmt.Errorf("register acme account: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("account registration failed: %s", body)
	}
	c.accountURI = resp.Header.Get("Location")
	log.Logger.Info().Str("account_uri", c.accountURI).Msg("acme account registered")
	return nil
}

func b64url(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func (c *Client) jwk() jwk {
	pub := c.accountKey.PublicKey
	return jwk{
		Kty: "RSA",
		N:   b64url(pub.N.Bytes()),
		E:   b64url(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// thumbprint is the SHA-256 digest of the compact canonical JWK
// ({e,kty,n} lexicographic key order, no whitespace), base64url without
// padding.
func (c *Client) thumbprint() string {
	j := c.jwk()
	canonical := fmt.Sprintf(`{"e":%q,"kty":%q,"n":%q}`, j.E, j.Kty, j.N)
	sum := sha256.Sum256([]byte(canonical))
	return b64url(sum[:])
}

func (c *Client) getNonce(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.nonce != "" {
		n := c.nonce
		c.nonce = ""
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.dir.NewNonce, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	defer resp.Body.Close()
	nonce := resp.Header.Get("Replay-Nonce")
	if nonce == "" {
		return "", fmt.Errorf("directory returned no Replay-Nonce")
	}
	return nonce, nil
}

// signedRequest sends a flattened-JSON JWS with alg=RS256. payload == nil
// sends an empty payload string (POST-as-GET).
func (c *Client) signedRequest(ctx context.Context, url string, payload any) (*http.Response, error) {
	nonce, err := c.getNonce(ctx)
	if err != nil {
		return nil, err
	}

	protected := map[string]any{"alg": "RS256", "nonce": nonce, "url": url}
	if c.accountURI != "" {
		protected["kid"] = c.accountURI
	} else {
		protected["jwk"] = c.jwk()
	}
	protectedJSON, err := json.Marshal(protected)
	if err != nil {
		return nil, err
	}
	protectedB64 := b64url(protectedJSON)

	var payloadB64 string
	if payload != nil {
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadB64 = b64url(payloadJSON)
	}

	signingInput := protectedB64 + "." + payloadB64
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.accountKey, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign jws: %w", err)
	}

	jws := map[string]string{
		"protected": protectedB64,
		"payload":   payloadB64,
		"signature": b64url(sig),
	}
	body, err := json.Marshal(jws)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/jose+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if n := resp.Header.Get("Replay-Nonce"); n != "" {
		c.mu.Lock()
		c.nonce = n
		c.mu.Unlock()
	}
	return resp, nil
}

// ObtainCertificate runs the full order -> authorize -> finalize flow for
// domain and persists the resulting cert/key pair and Certificate record.
func (c *Client) ObtainCertificate(ctx context.Context, domain string) (cert *types.Certificate, err error) {
	log.Logger.Info().Str("domain", domain).Msg("requesting certificate")

	defer func() {
		if err != nil {
			metrics.CertificateIssuanceTotal.WithLabelValues("failure").Inc()
		} else {
			metrics.CertificateIssuanceTotal.WithLabelValues("success").Inc()
		}
	}()

	orderResp, err := c.signedRequest(ctx, c.dir.NewOrder, map[string]any{
		"identifiers": []map[string]string{{"type": "dns", "value": domain}},
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	defer orderResp.Body.Close()
	if orderResp.StatusCode != http.StatusOK && orderResp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(orderResp.Body)
		return nil, fmt.Errorf("order failed: %s", body)
	}
	var ord order
	orderURL := orderResp.Header.Get("Location")
	if err := json.NewDecoder(orderResp.Body).Decode(&ord); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}

	for _, authURL := range ord.Authorizations {
		if err := c.authorizeOne(ctx, domain, authURL); err != nil {
			return nil, err
		}
	}

	domainKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate domain key: %w", err)
	}
	csr, err := generateCSR(domain, domainKey)
	if err != nil {
		return nil, err
	}

	finalizeResp, err := c.signedRequest(ctx, ord.Finalize, map[string]string{"csr": b64url(csr)})
	if err != nil {
		return nil, fmt.Errorf("finalize order: %w", err)
	}
	defer finalizeResp.Body.Close()
	if finalizeResp.StatusCode != http.StatusOK && finalizeResp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(finalizeResp.Body)
		return nil, fmt.Errorf("finalize failed: %s", body)
	}

	finalOrder, err := c.pollOrder(ctx, orderURL)
	if err != nil {
		return nil, err
	}

	certResp, err := c.signedRequest(ctx, finalOrder.Certificate, nil)
	if err != nil {
		return nil, fmt.Errorf("download certificate: %w", err)
	}
	defer certResp.Body.Close()
	if certResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(certResp.Body)
		return nil, fmt.Errorf("certificate download failed: %s", body)
	}
	certPEM, err := io.ReadAll(certResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}

	leaf, err := parseLeafCertificate(certPEM)
	if err != nil {
		return nil, err
	}

	certPath := filepath.Join(c.certsPath, domain+".crt")
	keyPath := filepath.Join(c.certsPath, domain+".key")
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("write certificate: %w", err)
	}
	domainKeyDER, err := x509.MarshalPKCS8PrivateKey(domainKey)
	if err != nil {
		return nil, fmt.Errorf("marshal domain key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: domainKeyDER})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write domain key: %w", err)
	}

	record := &types.Certificate{
		Domain:    domain,
		CertPath:  certPath,
		KeyPath:   keyPath,
		ExpiresAt: leaf.NotAfter,
		AutoRenew: true,
	}
	if err := c.reg.SetCertificate(ctx, record); err != nil {
		return nil, fmt.Errorf("persist certificate: %w", err)
	}
	log.Logger.Info().Str("domain", domain).Time("expires_at", record.ExpiresAt).Msg("certificate obtained")
	return record, nil
}

func (c *Client) authorizeOne(ctx context.Context, domain, authURL string) error {
	authResp, err := c.signedRequest(ctx, authURL, nil)
	if err != nil {
		return fmt.Errorf("fetch authorization: %w", err)
	}
	defer authResp.Body.Close()
	var auth authorization
	if err := json.NewDecoder(authResp.Body).Decode(&auth); err != nil {
		return fmt.Errorf("decode authorization: %w", err)
	}

	for _, ch := range auth.Challenges {
		if ch.Type != "http-01" {
			continue
		}
		return c.solveHTTP01(ctx, domain, ch)
	}
	return fmt.Errorf("no http-01 challenge offered for %s", domain)
}

func (c *Client) solveHTTP01(ctx context.Context, domain string, ch challenge) error {
	keyAuth := ch.Token + "." + c.thumbprint()
	if err := c.reg.SetACMEChallenge(ctx, ch.Token, keyAuth); err != nil {
		return fmt.Errorf("publish challenge: %w", err)
	}
	log.Logger.Info().Str("domain", domain).Str("token", ch.Token).Msg("challenge published")

	notifyResp, err := c.signedRequest(ctx, ch.URL, map[string]any{})
	if err != nil {
		c.reg.DeleteACMEChallenge(ctx, ch.Token)
		return fmt.Errorf("notify challenge: %w", err)
	}
	defer notifyResp.Body.Close()
	if notifyResp.StatusCode != http.StatusOK && notifyResp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(notifyResp.Body)
		c.reg.DeleteACMEChallenge(ctx, ch.Token)
		return fmt.Errorf("challenge notify failed: %s", body)
	}

	for i := 0; i < pollAttempts; i++ {
		time.Sleep(pollInterval)
		checkResp, err := c.signedRequest(ctx, ch.URL, nil)
		if err != nil {
			continue
		}
		var status challenge
		json.NewDecoder(checkResp.Body).Decode(&status)
		checkResp.Body.Close()
		switch status.Status {
		case "valid":
			log.Logger.Info().Str("domain", domain).Msg("challenge valid")
			c.reg.DeleteACMEChallenge(ctx, ch.Token)
			return nil
		case "invalid":
			c.reg.DeleteACMEChallenge(ctx, ch.Token)
			return fmt.Errorf("challenge invalid for %s", domain)
		}
	}
	c.reg.DeleteACMEChallenge(ctx, ch.Token)
	return fmt.Errorf("challenge timeout for %s", domain)
}

func (c *Client) pollOrder(ctx context.Context, orderURL string) (*order, error) {
	for i := 0; i < pollAttempts; i++ {
		resp, err := c.signedRequest(ctx, orderURL, nil)
		if err != nil {
			return nil, err
		}
		var ord order
		err = json.NewDecoder(resp.Body).Decode(&ord)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		switch ord.Status {
		case "valid":
			return &ord, nil
		case "invalid":
			return nil, fmt.Errorf("order invalid")
		}
		time.Sleep(pollInterval)
	}
	return nil, fmt.Errorf("order timeout")
}

func generateCSR(domain string, key *rsa.PrivateKey) ([]byte, error) {
	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: domain},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	return x509.CreateCertificateRequest(rand.Reader, template, key)
}

func parseLeafCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in certificate response")
	}
	return x509.ParseCertificate(block.Bytes)
}

// RenewExpiring reissues every certificate whose expiry falls within
// daysBefore days and has AutoRenew set.
func (c *Client) RenewExpiring(ctx context.Context, daysBefore int) ([]*types.Certificate, error) {
	threshold := time.Now().AddDate(0, 0, daysBefore)
	expiring, err := c.reg.ExpiringCertificatesBefore(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("list expiring certificates: %w", err)
	}

	var renewed []*types.Certificate
	for _, cert := range expiring {
		if !cert.AutoRenew {
			continue
		}
		log.Logger.Info().Str("domain", cert.Domain).Msg("renewing certificate")
		timer := metrics.NewTimer()
		newCert, err := c.ObtainCertificate(ctx, cert.Domain)
		timer.ObserveDuration(metrics.CertificateRenewalDuration)
		if err != nil {
			log.Logger.Error().Err(err).Str("domain", cert.Domain).Msg("certificate renewal failed")
			continue
		}
		renewed = append(renewed, newCert)
	}
	return renewed, nil
}
