package httpauth

import (
	"crypto"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/minvws/gfmodules-mcsd-update-client/internal/syncerr"
)

// JWTAssertionConfig holds the configuration for the RFC 7523 JWT
// client-assertion grant, used by FHIR directory servers that require
// private_key_jwt style client authentication instead of a shared secret.
type JWTAssertionConfig struct {
	// TokenURL is the OAuth2 token endpoint URL.
	TokenURL string `koanf:"tokenurl"`
	// ClientID is used as both the assertion's issuer and subject.
	ClientID string `koanf:"clientid"`
	// Audience is the assertion's intended audience; defaults to TokenURL.
	Audience string `koanf:"audience"`
	// Scopes is an optional list of scopes to request (space-separated in the request).
	Scopes []string `koanf:"scopes"`
	// SigningKeyPEM is a PEM-encoded private key (PKCS#8, PKCS#1, or SEC1 EC).
	SigningKeyPEM string `koanf:"signingkeypem"`
	// Algorithm is the JWS signing algorithm; defaults to RS256.
	Algorithm string `koanf:"algorithm"`
	// AssertionLifetime bounds how long a signed assertion is valid for; defaults to 2 minutes.
	AssertionLifetime time.Duration `koanf:"assertionlifetime"`
}

// IsConfigured returns true if the minimum required fields are set.
func (c JWTAssertionConfig) IsConfigured() bool {
	return c.TokenURL != "" && c.ClientID != "" && c.SigningKeyPEM != ""
}

func (c JWTAssertionConfig) algorithm() jose.SignatureAlgorithm {
	if c.Algorithm == "" {
		return jose.RS256
	}
	return jose.SignatureAlgorithm(c.Algorithm)
}

func (c JWTAssertionConfig) lifetime() time.Duration {
	if c.AssertionLifetime <= 0 {
		return 2 * time.Minute
	}
	return c.AssertionLifetime
}

func (c JWTAssertionConfig) audience() string {
	if c.Audience != "" {
		return c.Audience
	}
	return c.TokenURL
}

// NewJWTAssertionTokenProvider creates a TokenProvider that exchanges a
// freshly signed JWT client assertion for an access token using the
// "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" grant.
func NewJWTAssertionTokenProvider(config JWTAssertionConfig, refreshBuffer time.Duration) (*TokenProvider, error) {
	if !config.IsConfigured() {
		return nil, fmt.Errorf("JWT assertion configuration is incomplete: tokenurl, clientid, and signingkeypem are required")
	}
	signer, err := newAssertionSigner(config)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(func() (string, time.Duration, error) {
		return fetchJWTAssertionToken(config, signer)
	}, refreshBuffer), nil
}

func newAssertionSigner(config JWTAssertionConfig) (jose.Signer, error) {
	key, err := parsePrivateKey(config.SigningKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse JWT assertion signing key: %w", err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: config.algorithm(), Key: key}, nil)
	if err != nil {
		return nil, fmt.Errorf("create JWT assertion signer: %w", err)
	}
	return signer, nil
}

func parsePrivateKey(pemData string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("signing key type %T does not implement crypto.Signer", key)
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key encoding")
}

func buildAssertion(config JWTAssertionConfig, signer jose.Signer) (string, error) {
	now := time.Now()
	claims := jwt.Claims{
		Issuer:    config.ClientID,
		Subject:   config.ClientID,
		Audience:  jwt.Audience{config.audience()},
		Expiry:    jwt.NewNumericDate(now.Add(config.lifetime())),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.New().String(),
	}
	return jwt.Signed(signer).Claims(claims).Serialize()
}

func fetchJWTAssertionToken(config JWTAssertionConfig, signer jose.Signer) (string, time.Duration, error) {
	assertion, err := buildAssertion(config, signer)
	if err != nil {
		return "", 0, fmt.Errorf("build JWT assertion: %w", err)
	}

	data := url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {assertion},
	}
	if len(config.Scopes) > 0 {
		data.Set("scope", strings.Join(config.Scopes, " "))
	}

	req, err := http.NewRequest(http.MethodPost, config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, syncerr.New(syncerr.TransientNetwork, fmt.Errorf("token request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, classifyTokenEndpointError(resp.StatusCode, body)
	}

	var tokenResp oauth2TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", 0, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}
	expiresIn := time.Duration(tokenResp.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = 5 * time.Minute
	}
	return tokenResp.AccessToken, expiresIn, nil
}
