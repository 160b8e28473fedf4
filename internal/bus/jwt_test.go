package bus

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignTokenHMAC(t *testing.T) {
	token, err := SignToken(testCreds, time.Now(), time.Minute)
	require.NoError(t, err)

	sub, err := VerifyToken(token, []byte("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, "relay", sub)

	_, err = VerifyToken(token, []byte("other"))
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSignTokenEd25519(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	priv := ed25519.NewKeyFromSeed(seed)

	creds := Credentials{Public: "relay", Private: hex.EncodeToString(priv)}
	token, err := SignToken(creds, time.Now(), time.Minute)
	require.NoError(t, err)

	sub, err := VerifyToken(token, priv.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, "relay", sub)

	// An EdDSA token is not accepted as HMAC.
	_, err = VerifyToken(token, []byte(creds.Private))
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSignTokenExpired(t *testing.T) {
	token, err := SignToken(testCreds, time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)

	_, err = VerifyToken(token, []byte("s3cret"))
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSignTokenNoCredentials(t *testing.T) {
	_, err := SignToken(Credentials{Public: "relay"}, time.Now(), time.Minute)
	assert.ErrorIs(t, err, ErrNoCredentials)
}
