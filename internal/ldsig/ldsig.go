// Package ldsig verifies and creates RsaSignature2017 Linked Data signatures,
// the scheme Mastodon uses to authenticate forwarded activities.
package ldsig

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/piprate/json-gold/ld"
)

// IdentityContext is the JSON-LD context of the signature options.
const IdentityContext = "https://w3id.org/identity/v1"

// HasSignature reports whether doc carries an embedded RsaSignature2017.
func HasSignature(doc map[string]any) bool {
	sig, ok := doc["signature"].(map[string]any)
	if !ok {
		return false
	}
	typ, _ := sig["type"].(string)
	value, _ := sig["signatureValue"].(string)
	return typ == "RsaSignature2017" && value != ""
}

// KeyFunc returns the public key identified by keyID.
type KeyFunc func(ctx context.Context, keyID string) (crypto.PublicKey, error)

// Verifier checks embedded signatures.
type Verifier struct {
	keys   KeyFunc
	loader ld.DocumentLoader
}

// NewVerifier returns a verifier fetching JSON-LD contexts with client and
// caching them for the life of the process.
func NewVerifier(keys KeyFunc, client *http.Client) *Verifier {
	return NewVerifierWithLoader(keys, ld.NewCachingDocumentLoader(ld.NewDefaultDocumentLoader(client)))
}

// NewVerifierWithLoader returns a verifier resolving contexts through loader.
func NewVerifierWithLoader(keys KeyFunc, loader ld.DocumentLoader) *Verifier {
	return &Verifier{
		keys:   keys,
		loader: loader,
	}
}

// Verify reports whether the signature embedded in doc is valid. A document
// without a signature is not valid.
func (v *Verifier) Verify(ctx context.Context, doc map[string]any) (bool, error) {
	if !HasSignature(doc) {
		return false, nil
	}
	sig := doc["signature"].(map[string]any)
	creator, _ := sig["creator"].(string)
	if creator == "" {
		return false, errors.New("ldsig: signature has no creator")
	}
	key, err := v.keys(ctx, creator)
	if err != nil {
		return false, fmt.Errorf("ldsig: key %s: %w", creator, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("ldsig: key %s is not an RSA key", creator)
	}
	signature, err := base64.StdEncoding.DecodeString(sig["signatureValue"].(string))
	if err != nil {
		return false, fmt.Errorf("ldsig: %w", err)
	}
	hash, err := v.hash(doc, sig)
	if err != nil {
		return false, err
	}
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash, signature) == nil, nil
}

// Sign embeds a signature over doc made with key, identified by keyID.
func (v *Verifier) Sign(doc map[string]any, keyID string, key *rsa.PrivateKey) error {
	sig := map[string]any{
		"type":    "RsaSignature2017",
		"creator": keyID,
		"created": time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	hash, err := v.hash(doc, sig)
	if err != nil {
		return err
	}
	value, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash)
	if err != nil {
		return err
	}
	sig["signatureValue"] = base64.StdEncoding.EncodeToString(value)
	doc["signature"] = sig
	return nil
}

// hash returns sha256(hex(sha256(options)) + hex(sha256(document))).
func (v *Verifier) hash(doc, sig map[string]any) ([]byte, error) {
	options := map[string]any{
		"@context": IdentityContext,
	}
	for k, val := range sig {
		switch k {
		case "type", "id", "signatureValue":
		default:
			options[k] = val
		}
	}
	optionsHash, err := v.normalizedHash(options)
	if err != nil {
		return nil, fmt.Errorf("ldsig: normalizing options: %w", err)
	}
	document := make(map[string]any, len(doc))
	for k, val := range doc {
		if k != "signature" {
			document[k] = val
		}
	}
	documentHash, err := v.normalizedHash(document)
	if err != nil {
		return nil, fmt.Errorf("ldsig: normalizing document: %w", err)
	}
	sum := sha256.Sum256([]byte(optionsHash + documentHash))
	return sum[:], nil
}

func (v *Verifier) normalizedHash(doc map[string]any) (string, error) {
	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	opts.Format = "application/n-quads"
	opts.Algorithm = "URDNA2015"
	opts.DocumentLoader = v.loader
	normalized, err := proc.Normalize(doc, opts)
	if err != nil {
		return "", err
	}
	s, ok := normalized.(string)
	if !ok {
		return "", fmt.Errorf("unexpected normalized form %T", normalized)
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}
