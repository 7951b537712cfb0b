// Package auth turns bearer tokens into dispatch principals: a tenant, one of
// the dispatch roles (admin, dispatcher, driver, restaurant), and where the
// role is scoped, the driver or restaurant the token speaks for.
package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Verifier validates bearer tokens. Modes: dev (unsigned tenant:role[:driverId]
// tokens), hmac (HS256), jwks (RS256 against a JWKS endpoint).
type Verifier struct {
	Mode            string
	HMACSecret      []byte
	JWKSURL         string
	TenantClaim     string
	RoleClaim       string
	DriverClaim     string
	RestaurantClaim string
	http            *http.Client
	mu              sync.RWMutex
	jwks            jwks
	lastFetch       time.Time
	cacheTTL        time.Duration
}

type jwks struct {
	Keys []jwk `json:"keys"`
}
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// Principal is the verified identity a request acts as.
type Principal struct {
	Tenant       string
	Role         string
	DriverID     string
	RestaurantID string
}

// NewVerifier builds a verifier for the given mode; an empty mode falls back
// to AUTH_MODE and then to dev. Secrets and claim names come from env.
func NewVerifier(mode string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	}
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:            mode,
		HMACSecret:      []byte(os.Getenv("AUTH_HMAC_SECRET")),
		JWKSURL:         os.Getenv("AUTH_JWKS_URL"),
		TenantClaim:     envOr("AUTH_TENANT_CLAIM", "tenant"),
		RoleClaim:       envOr("AUTH_ROLE_CLAIM", "role"),
		DriverClaim:     envOr("AUTH_DRIVER_CLAIM", "driver_id"),
		RestaurantClaim: envOr("AUTH_RESTAURANT_CLAIM", "restaurant_id"),
		http:            &http.Client{Timeout: 5 * time.Second},
		cacheTTL:        10 * time.Minute,
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		return devPrincipal(token)
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, errors.New("invalid JWT")
	}
	headerJSON, err := decodeSegment(segs[0])
	if err != nil {
		return Principal{}, err
	}
	payloadJSON, err := decodeSegment(segs[1])
	if err != nil {
		return Principal{}, err
	}
	sig, err := decodeSegment(segs[2])
	if err != nil {
		return Principal{}, err
	}
	var hdr map[string]any
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return Principal{}, err
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, err
	}
	alg, _ := hdr["alg"].(string)
	kid, _ := hdr["kid"].(string)
	signingInput := []byte(segs[0] + "." + segs[1])
	switch v.Mode {
	case "hmac":
		if alg != "HS256" {
			return Principal{}, errors.New("unsupported alg for hmac")
		}
		mac := hmac.New(sha256.New, v.HMACSecret)
		mac.Write(signingInput)
		if !hmac.Equal(mac.Sum(nil), sig) {
			return Principal{}, errors.New("bad signature")
		}
	case "jwks":
		if alg != "RS256" {
			return Principal{}, errors.New("unsupported alg for jwks")
		}
		pub, err := v.rsaPublicKey(kid)
		if err != nil {
			return Principal{}, err
		}
		h := sha256.Sum256(signingInput)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
			return Principal{}, errors.New("bad signature")
		}
	default:
		return Principal{}, errors.New("unsupported auth mode")
	}
	tenant, _ := claims[v.TenantClaim].(string)
	if tenant == "" {
		return Principal{}, errors.New("missing tenant claim")
	}
	role, _ := claims[v.RoleClaim].(string)
	if role == "" {
		// scoped-claim tokens without an explicit role act as drivers
		role = "driver"
	}
	driver, _ := claims[v.DriverClaim].(string)
	restaurant, _ := claims[v.RestaurantClaim].(string)
	return Principal{
		Tenant:       tenant,
		Role:         strings.ToLower(role),
		DriverID:     driver,
		RestaurantID: restaurant,
	}, nil
}

// devPrincipal parses the unsigned dev token tenant:role[:driverId].
func devPrincipal(token string) (Principal, error) {
	parts := strings.Split(token, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Principal{}, errors.New("invalid dev token; expected tenant:role[:driverId]")
	}
	p := Principal{Tenant: parts[0], Role: strings.ToLower(parts[1])}
	if len(parts) >= 3 {
		p.DriverID = parts[2]
	}
	return p, nil
}

func decodeSegment(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

func (v *Verifier) rsaPublicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	cached := v.jwks
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if len(cached.Keys) == 0 || stale {
		if err := v.fetchJWKS(); err != nil {
			return nil, err
		}
		v.mu.RLock()
		cached = v.jwks
		v.mu.RUnlock()
	}
	for _, k := range cached.Keys {
		if k.Kid == kid && strings.EqualFold(k.Kty, "RSA") {
			nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
			if err != nil {
				return nil, err
			}
			eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
			if err != nil {
				return nil, err
			}
			// exponent bytes are big-endian, typically 0x010001
			e := 0
			for _, b := range eBytes {
				e = (e << 8) | int(b)
			}
			n := new(big.Int).SetBytes(nBytes)
			return &rsa.PublicKey{N: n, E: e}, nil
		}
	}
	return nil, errors.New("kid not found in JWKS")
}

func (v *Verifier) fetchJWKS() error {
	if v.JWKSURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	req, _ := http.NewRequest(http.MethodGet, v.JWKSURL, nil)
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	var j jwks
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return err
	}
	v.mu.Lock()
	v.jwks = j
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
