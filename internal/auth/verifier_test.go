package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestDevTokenCarriesDriverID(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	p, err := v.Verify("t1:driver:d_42")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Tenant != "t1" || p.Role != "driver" || p.DriverID != "d_42" {
		t.Fatalf("principal = %+v", p)
	}
	// two-part form still works, driver unset
	p, err = v.Verify("t1:admin")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Role != "admin" || p.DriverID != "" {
		t.Fatalf("principal = %+v", p)
	}
	if _, err := v.Verify("t1"); err == nil {
		t.Fatal("one-part token accepted")
	}
}

func signHS256(t *testing.T, secret []byte, header, payload string) string {
	t.Helper()
	enc := base64.RawURLEncoding
	si := enc.EncodeToString([]byte(header)) + "." + enc.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(si))
	return si + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestHMACTokenClaims(t *testing.T) {
	secret := []byte("s3cret")
	v := &Verifier{
		Mode:            "hmac",
		HMACSecret:      secret,
		TenantClaim:     "tenant",
		RoleClaim:       "role",
		DriverClaim:     "driver_id",
		RestaurantClaim: "restaurant_id",
	}
	tok := signHS256(t, secret, `{"alg":"HS256","typ":"JWT"}`,
		`{"tenant":"t1","role":"Restaurant","restaurant_id":"r9"}`)
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Tenant != "t1" || p.Role != "restaurant" || p.RestaurantID != "r9" {
		t.Fatalf("principal = %+v", p)
	}

	// roleless scoped token acts as a driver
	tok = signHS256(t, secret, `{"alg":"HS256","typ":"JWT"}`,
		`{"tenant":"t1","driver_id":"d7"}`)
	p, err = v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Role != "driver" || p.DriverID != "d7" {
		t.Fatalf("principal = %+v", p)
	}

	// wrong secret rejected
	bad := signHS256(t, []byte("other"), `{"alg":"HS256","typ":"JWT"}`, `{"tenant":"t1"}`)
	if _, err := v.Verify(bad); err == nil {
		t.Fatal("bad signature accepted")
	}
}

func TestNewVerifierDefaultsToDev(t *testing.T) {
	t.Setenv("AUTH_MODE", "")
	v := NewVerifier("")
	if v.Mode != "dev" {
		t.Fatalf("mode = %q", v.Mode)
	}
	if v := NewVerifier("HMAC"); v.Mode != "hmac" {
		t.Fatalf("mode = %q", v.Mode)
	}
}
