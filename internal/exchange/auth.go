// auth.go implements Kalshi trade-api/v2 request signing.
//
// Every authenticated request carries three headers:
//   - KALSHI-ACCESS-KEY:       the API key ID
//   - KALSHI-ACCESS-TIMESTAMP: current time in epoch milliseconds
//   - KALSHI-ACCESS-SIGNATURE: base64 RSA-PSS/SHA-256 signature over
//     timestamp + METHOD + path
//
// The signed path includes the /trade-api/v2 prefix but never the query
// string. Credentials are an API key ID plus a PEM-encoded RSA private key,
// both supplied via environment variables.
package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strconv"
	"time"
)

// Auth signs requests with the account's RSA private key.
type Auth struct {
	keyID string
	key   *rsa.PrivateKey
}

// NewAuth parses the PEM private key and returns a signer.
// Both PKCS#8 and PKCS#1 encodings are accepted.
func NewAuth(keyID, privateKeyPEM string) (*Auth, error) {
	if keyID == "" {
		return nil, fmt.Errorf("api key id is empty")
	}
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key")
	}

	key, err := parseRSAKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Auth{keyID: keyID, key: key}, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not RSA")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(der)
}

// KeyID returns the API key ID used in the access-key header.
func (a *Auth) KeyID() string { return a.keyID }

// Headers returns the signed auth headers for a request.
// path must start with /trade-api/v2 and must not include a query string.
func (a *Auth) Headers(method, path string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig, err := a.sign(ts + method + path)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"KALSHI-ACCESS-KEY":       a.keyID,
		"KALSHI-ACCESS-TIMESTAMP": ts,
		"KALSHI-ACCESS-SIGNATURE": sig,
	}, nil
}

// sign produces a base64 RSA-PSS signature over msg.
// The PSS salt length equals the digest length, matching the server's
// verification parameters.
func (a *Auth) sign(msg string) (string, error) {
	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, a.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
