package httpauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

func testSigningKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func TestJWTAssertionConfig_IsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   JWTAssertionConfig
		expected bool
	}{
		{"empty config", JWTAssertionConfig{}, false},
		{"missing signing key", JWTAssertionConfig{TokenURL: "http://example.com/token", ClientID: "id"}, false},
		{"fully configured", JWTAssertionConfig{TokenURL: "http://example.com/token", ClientID: "id", SigningKeyPEM: "pem"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.IsConfigured(); got != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewJWTAssertionTokenProvider(t *testing.T) {
	t.Run("returns error for incomplete config", func(t *testing.T) {
		_, err := NewJWTAssertionTokenProvider(JWTAssertionConfig{}, 0)
		if err == nil {
			t.Error("expected error for incomplete config")
		}
	})

	t.Run("returns error for unparseable signing key", func(t *testing.T) {
		_, err := NewJWTAssertionTokenProvider(JWTAssertionConfig{
			TokenURL:      "http://example.com/token",
			ClientID:      "id",
			SigningKeyPEM: "not a pem",
		}, 0)
		if err == nil {
			t.Error("expected error for unparseable signing key")
		}
	})

	t.Run("exchanges a signed assertion for an access token", func(t *testing.T) {
		keyPEM := testSigningKeyPEM(t)
		var capturedAssertion string

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			if r.PostForm.Get("grant_type") != "client_credentials" {
				t.Errorf("expected grant_type=client_credentials, got %q", r.PostForm.Get("grant_type"))
			}
			if r.PostForm.Get("client_assertion_type") != "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" {
				t.Errorf("unexpected client_assertion_type %q", r.PostForm.Get("client_assertion_type"))
			}
			capturedAssertion = r.PostForm.Get("client_assertion")

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(oauth2TokenResponse{AccessToken: "assertion-token", ExpiresIn: 3600})
		}))
		defer server.Close()

		config := JWTAssertionConfig{
			TokenURL:      server.URL,
			ClientID:      "directory-client",
			SigningKeyPEM: keyPEM,
		}
		provider, err := NewJWTAssertionTokenProvider(config, 0)
		if err != nil {
			t.Fatalf("failed to create provider: %v", err)
		}

		token, err := provider.GetToken()
		if err != nil {
			t.Fatalf("failed to get token: %v", err)
		}
		if token != "assertion-token" {
			t.Errorf("expected 'assertion-token', got %q", token)
		}
		if capturedAssertion == "" {
			t.Fatal("expected a client_assertion to be sent")
		}

		parsed, err := jwt.ParseSigned(capturedAssertion, []jose.SignatureAlgorithm{jose.RS256})
		if err != nil {
			t.Fatalf("assertion did not parse as a JWT: %v", err)
		}
		var claims jwt.Claims
		if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
			t.Fatalf("failed to read assertion claims: %v", err)
		}
		if claims.Subject != "directory-client" {
			t.Errorf("expected subject 'directory-client', got %q", claims.Subject)
		}
		if len(claims.Audience) == 0 || claims.Audience[0] != server.URL {
			t.Errorf("expected audience to default to token URL, got %v", claims.Audience)
		}
	})
}
