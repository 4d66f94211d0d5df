package ldsig

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"

	"github.com/piprate/json-gold/ld"
	"github.com/stretchr/testify/require"
)

// offlineLoader serves a trimmed identity context so tests never touch the network.
func offlineLoader() ld.DocumentLoader {
	loader := ld.NewCachingDocumentLoader(ld.NewDefaultDocumentLoader(nil))
	loader.AddDocument(IdentityContext, map[string]any{
		"@context": map[string]any{
			"dc":      "http://purl.org/dc/terms/",
			"sec":     "https://w3id.org/security#",
			"xsd":     "http://www.w3.org/2001/XMLSchema#",
			"creator": map[string]any{"@id": "dc:creator", "@type": "@id"},
			"created": map[string]any{"@id": "dc:created", "@type": "xsd:dateTime"},
			"nonce":   "sec:nonce",
		},
	})
	return loader
}

func testDocument() map[string]any {
	return map[string]any{
		"@context": map[string]any{
			"@vocab": "https://www.w3.org/ns/activitystreams#",
			"id":     "@id",
			"type":   "@type",
		},
		"id":      "https://remote.example/activities/1",
		"type":    "Create",
		"actor":   "https://remote.example/users/alice",
		"content": "hello",
	}
}

func TestSignAndVerify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const keyID = "https://remote.example/users/alice#main-key"

	v := NewVerifierWithLoader(func(_ context.Context, id string) (crypto.PublicKey, error) {
		if id != keyID {
			return nil, errors.New("unknown key")
		}
		return &key.PublicKey, nil
	}, offlineLoader())

	doc := testDocument()
	require.False(t, HasSignature(doc))
	ok, err := v.Verify(context.Background(), doc)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, v.Sign(doc, keyID, key))
	require.True(t, HasSignature(doc))

	ok, err = v.Verify(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("Assert tampered content fails verification", func(t *testing.T) {
		require := require.New(t)
		tampered := testDocument()
		tampered["content"] = "goodbye"
		tampered["signature"] = doc["signature"]
		ok, err := v.Verify(context.Background(), tampered)
		require.NoError(err)
		require.False(ok)
	})

	t.Run("Assert unknown creator is an error", func(t *testing.T) {
		require := require.New(t)
		other := testDocument()
		sig := map[string]any{}
		for k, val := range doc["signature"].(map[string]any) {
			sig[k] = val
		}
		sig["creator"] = "https://elsewhere.example/#key"
		other["signature"] = sig
		_, err := v.Verify(context.Background(), other)
		require.Error(err)
	})
}
