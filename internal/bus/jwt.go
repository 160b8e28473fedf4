package bus

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds login tokens. Session reauth runs well inside it.
const DefaultTokenTTL = time.Hour

// SignToken builds the login token for creds: subject is the public
// identity, signed with the private material. Material that decodes
// (hex or base64) to an Ed25519 private key signs with EdDSA; anything
// else is an HMAC-SHA256 secret.
func SignToken(creds Credentials, now time.Time, ttl time.Duration) (string, error) {
	if creds.Empty() {
		return "", ErrNoCredentials
	}
	claims := gojwt.RegisteredClaims{
		Subject:   creds.Public,
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
	}

	var token *gojwt.Token
	var key any
	if priv, ok := ed25519Key(creds.Private); ok {
		token = gojwt.NewWithClaims(gojwt.SigningMethodEdDSA, claims)
		key = priv
	} else {
		token = gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
		key = []byte(creds.Private)
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks a login token and returns its subject.
// key is an ed25519.PublicKey for EdDSA tokens or a []byte HMAC secret.
func VerifyToken(token string, key any) (string, error) {
	parser := gojwt.NewParser(gojwt.WithValidMethods([]string{
		gojwt.SigningMethodEdDSA.Alg(),
		gojwt.SigningMethodHS256.Alg(),
	}))

	parsed, err := parser.ParseWithClaims(token, &gojwt.RegisteredClaims{}, func(t *gojwt.Token) (any, error) {
		switch key.(type) {
		case ed25519.PublicKey:
			if _, ok := t.Method.(*gojwt.SigningMethodEd25519); !ok {
				return nil, errors.New("unexpected signing method")
			}
		case []byte:
			if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
		}
		return key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrNotAuthenticated)
	}
	return sub, nil
}

func ed25519Key(material string) (ed25519.PrivateKey, bool) {
	for _, decode := range []func(string) ([]byte, error){
		hex.DecodeString,
		base64.StdEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
	} {
		b, err := decode(material)
		if err == nil && len(b) == ed25519.PrivateKeySize {
			return ed25519.PrivateKey(b), true
		}
	}
	return nil, false
}
