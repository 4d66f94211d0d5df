package httpsig

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"

	"github.com/go-fed/httpsig"
	"github.com/stretchr/testify/require"
)

func TestSignRequest(t *testing.T) {
	const keyID = "https://example.com#main-key"
	privatekey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubKey := &privatekey.PublicKey

	t.Run("GET", func(t *testing.T) {
		require := require.New(t)
		req, err := http.NewRequest("GET", "https://example.com/users/foo?page=true", nil)
		require.NoError(err)
		req.Header.Set("Accept", "application/ld+json")

		err = Sign(req, keyID, privatekey, nil)
		require.NoError(err)

		verifier, err := httpsig.NewVerifier(req)
		require.NoError(err)
		require.Equal(keyID, verifier.KeyId())
		err = verifier.Verify(pubKey, httpsig.RSA_SHA256)
		require.NoError(err, "req.Signature: %s", req.Header.Get("Signature"))
	})

	t.Run("POST", func(t *testing.T) {
		require := require.New(t)
		body := []byte(`{"type":"Follow"}`)
		req, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
		require.NoError(err)

		err = Sign(req, keyID, privatekey, body)
		require.NoError(err)
		require.Equal(Digest(body), req.Header.Get("Digest"))

		verifier, err := httpsig.NewVerifier(req)
		require.NoError(err)
		err = verifier.Verify(pubKey, httpsig.RSA_SHA256)
		require.NoError(err)
	})

	t.Run("tampered digest fails", func(t *testing.T) {
		require := require.New(t)
		req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
		require.NoError(err)
		require.NoError(Sign(req, keyID, privatekey, []byte("one")))
		req.Header.Set("Digest", Digest([]byte("two")))

		verifier, err := httpsig.NewVerifier(req)
		require.NoError(err)
		require.Error(verifier.Verify(pubKey, httpsig.RSA_SHA256))
	})
}
