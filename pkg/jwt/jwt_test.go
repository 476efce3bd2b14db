package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newTestService(t *testing.T) *Service {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return NewTestService(privateKey, "test-issuer", 15*time.Minute)
}

// ============================================================================
// Claims Tests
// ============================================================================

func TestClaims_Valid_NoExpiration_ReturnsNil(t *testing.T) {
	t.Parallel()
	claims := Claims{Namespace: "test"}

	if err := claims.Valid(); err != nil {
		t.Errorf("expected no error for claims without expiration, got %v", err)
	}
}

func TestClaims_Valid_Expired_ReturnsErrTokenExpired(t *testing.T) {
	t.Parallel()
	claims := Claims{ExpiresAt: time.Now().Add(-1 * time.Hour).Unix()}

	if err := claims.Valid(); err != ErrTokenExpired {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestClaims_Valid_NotYetValid_ReturnsErrTokenNotYetValid(t *testing.T) {
	t.Parallel()
	claims := Claims{NotBefore: time.Now().Add(1 * time.Hour).Unix()}

	if err := claims.Valid(); err != ErrTokenNotYetValid {
		t.Errorf("expected ErrTokenNotYetValid, got %v", err)
	}
}

func TestClaims_Level(t *testing.T) {
	t.Parallel()
	tests := []struct {
		claims Claims
		want   string
	}{
		{Claims{}, LevelRoot},
		{Claims{Namespace: "ns"}, LevelNamespace},
		{Claims{Namespace: "ns", Database: "db"}, LevelDatabase},
		{Claims{Namespace: "ns", Database: "db", Access: "user", Record: "user:1"}, LevelRecord},
	}

	for _, tt := range tests {
		if got := tt.claims.Level(); got != tt.want {
			t.Errorf("Level() for %+v: expected %q, got %q", tt.claims, tt.want, got)
		}
	}
}

func TestClaims_HasRole_OwnerImpliesAll(t *testing.T) {
	t.Parallel()
	owner := Claims{Roles: []string{"Owner"}}
	viewer := Claims{Roles: []string{"Viewer"}}

	if !owner.HasRole("editor") {
		t.Error("expected owner to have editor role")
	}
	if viewer.HasRole("editor") {
		t.Error("expected viewer not to have editor role")
	}
	if !viewer.HasRole("viewer") {
		t.Error("expected role match to ignore case")
	}
}

// ============================================================================
// Service.Sign() Tests
// ============================================================================

func TestSign_NilPrivateKey_ReturnsErrInvalidKey(t *testing.T) {
	t.Parallel()
	svc := &Service{issuer: "test"}

	if _, err := svc.Sign(Claims{}); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestSign_SetsIssuerAndDefaultExpiration(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	before := time.Now().Unix()

	token, err := svc.Sign(Claims{Namespace: "test", Database: "test"})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if claims.Issuer != "test-issuer" {
		t.Errorf("expected issuer test-issuer, got %q", claims.Issuer)
	}
	if claims.IssuedAt < before {
		t.Errorf("expected IssuedAt >= %d, got %d", before, claims.IssuedAt)
	}
	want := before + int64((15 * time.Minute).Seconds())
	if claims.ExpiresAt < want || claims.ExpiresAt > want+2 {
		t.Errorf("expected ExpiresAt near %d, got %d", want, claims.ExpiresAt)
	}
}

func TestSign_ZeroExpirationNeverExpires(t *testing.T) {
	t.Parallel()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	svc := NewTestService(key, "test", 0)

	token, err := svc.Sign(Claims{})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.ExpiresAt != 0 {
		t.Errorf("expected no expiry, got %d", claims.ExpiresAt)
	}
}

func TestSign_PreservesSessionClaims(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	in := Claims{
		Subject:   "user:tobie",
		JWTID:     "unique-jti",
		Namespace: "test",
		Database:  "test",
		Access:    "user",
		Record:    "user:tobie",
		Roles:     []string{"Viewer"},
	}

	token, err := svc.Sign(in)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	out, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if out.Namespace != in.Namespace || out.Database != in.Database {
		t.Errorf("NS/DB mismatch: got %q/%q", out.Namespace, out.Database)
	}
	if out.Access != in.Access || out.Record != in.Record {
		t.Errorf("AC/ID mismatch: got %q/%q", out.Access, out.Record)
	}
	if len(out.Roles) != 1 || out.Roles[0] != "Viewer" {
		t.Errorf("Roles mismatch: got %v", out.Roles)
	}
	if out.Subject != in.Subject || out.JWTID != in.JWTID {
		t.Errorf("sub/jti mismatch: got %q/%q", out.Subject, out.JWTID)
	}
}

func TestSign_UsesSurrealClaimNames(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	token, err := svc.Sign(Claims{Namespace: "n", Database: "d", Access: "a", Record: "r:1"})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	for _, key := range []string{`"NS":"n"`, `"DB":"d"`, `"AC":"a"`, `"ID":"r:1"`} {
		if !strings.Contains(string(payload), key) {
			t.Errorf("expected payload to contain %s, got %s", key, payload)
		}
	}
}

// ============================================================================
// Service.Validate() Tests
// ============================================================================

func TestValidate_NilPublicKey_ReturnsErrInvalidKey(t *testing.T) {
	t.Parallel()
	svc := &Service{}

	if _, err := svc.Validate("a.b.c"); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestValidate_InvalidFormat_ReturnsErrInvalidToken(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	for _, token := range []string{"", "one", "two.parts", "four.parts.in.token"} {
		if _, err := svc.Validate(token); err != ErrInvalidToken {
			t.Errorf("Validate(%q): expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestValidate_TamperedClaims_ReturnsErrInvalidSignature(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	token, err := svc.Sign(Claims{Namespace: "test"})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	parts := strings.Split(token, ".")
	parts[1] = base64URLEncode([]byte(`{"NS":"other","iss":"test-issuer"}`))

	if _, err := svc.Validate(strings.Join(parts, ".")); err != ErrInvalidSignature {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestValidate_ExpiredToken_ReturnsErrTokenExpired(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	token, err := svc.Sign(Claims{ExpiresAt: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := svc.Validate(token); err != ErrTokenExpired {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestValidate_WrongIssuer_ReturnsErrInvalidToken(t *testing.T) {
	t.Parallel()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	signer := NewTestService(key, "issuer-a", time.Minute)
	validator := NewTestService(key, "issuer-b", time.Minute)

	token, err := signer.Sign(Claims{})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := validator.Validate(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidate_DifferentKey_ReturnsErrInvalidSignature(t *testing.T) {
	t.Parallel()
	a := newTestService(t)
	b := newTestService(t)

	token, err := a.Sign(Claims{})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := b.Validate(token); err != ErrInvalidSignature {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

// ============================================================================
// Key Management Tests
// ============================================================================

func TestNewEphemeralService_SharesKey(t *testing.T) {
	t.Parallel()
	a, err := NewEphemeralService("surrealembed", time.Hour)
	if err != nil {
		t.Fatalf("NewEphemeralService failed: %v", err)
	}
	b, err := NewEphemeralService("surrealembed", time.Hour)
	if err != nil {
		t.Fatalf("NewEphemeralService failed: %v", err)
	}

	token, err := a.Sign(Claims{Namespace: "test"})
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := b.Validate(token); err != nil {
		t.Errorf("expected token from one ephemeral service to validate in another, got %v", err)
	}
}

func TestNewService_NoKeys_ReturnsService(t *testing.T) {
	t.Parallel()
	svc, err := NewService(Config{Issuer: "test", Expiration: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.GetExpiration() != time.Minute {
		t.Errorf("expected expiration 1m, got %v", svc.GetExpiration())
	}
	if _, err := svc.Sign(Claims{}); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey without keys, got %v", err)
	}
}

func TestGenerateKeyPair_CreatesValidKeys(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	privateKeyPath := filepath.Join(dir, "private.pem")
	publicKeyPath := filepath.Join(dir, "public.pem")

	if err := GenerateKeyPair(privateKeyPath, publicKeyPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	signer, err := NewService(Config{PrivateKeyPath: privateKeyPath, Issuer: "test", Expiration: time.Minute})
	if err != nil {
		t.Fatalf("failed to load private key: %v", err)
	}
	verifier, err := NewService(Config{PublicKeyPath: publicKeyPath, Issuer: "test"})
	if err != nil {
		t.Fatalf("failed to load public key: %v", err)
	}

	token, err := signer.Sign(Claims{Database: "test"})
	if err != nil {
		t.Fatalf("failed to sign with generated key: %v", err)
	}
	if _, err := verifier.Validate(token); err != nil {
		t.Fatalf("failed to validate with generated public key: %v", err)
	}
}

func TestGenerateKeyPair_InvalidPrivatePath_ReturnsError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	err := GenerateKeyPair(filepath.Join(dir, "missing", "private.pem"), filepath.Join(dir, "public.pem"))
	if err == nil {
		t.Error("expected error for unwritable private key path")
	}
}

func TestNewService_InvalidPEM_ReturnsError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.pem")
	if err := os.WriteFile(path, []byte("not a pem"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := NewService(Config{PrivateKeyPath: path}); err == nil {
		t.Error("expected error for invalid private key PEM")
	}
	if _, err := NewService(Config{PublicKeyPath: path}); err == nil {
		t.Error("expected error for invalid public key PEM")
	}
}

func TestNewService_PrivateKeyNotFound_ReturnsError(t *testing.T) {
	t.Parallel()
	_, err := NewService(Config{PrivateKeyPath: filepath.Join(t.TempDir(), "nope.pem")})
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

// ============================================================================
// Encoding Tests
// ============================================================================

func TestBase64URL_RoundTripWithoutPadding(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "a", "ab", "abc", "abcd", "\xff\xfe"} {
		enc := base64URLEncode([]byte(in))
		if strings.Contains(enc, "=") {
			t.Errorf("encoded %q contains padding: %s", in, enc)
		}
		dec, err := base64URLDecode(enc)
		if err != nil || string(dec) != in {
			t.Errorf("round trip %q: got %q, %v", in, dec, err)
		}
	}
}

func TestBase64URLDecode_AcceptsPadding(t *testing.T) {
	t.Parallel()
	dec, err := base64URLDecode("YQ==")
	if err != nil || string(dec) != "a" {
		t.Errorf("expected \"a\", got %q, %v", dec, err)
	}
}
