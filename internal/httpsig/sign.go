// Package httpsig signs outbound requests with the HTTP Signature scheme
// defined in draft-cavage-http-signatures-10.
package httpsig

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// RequestTarget is the pseudo-header used to sign the request target.
	RequestTarget = "(request-target)"
)

// Sign signs the request using the given keyID and privateKey.
// GET requests sign the accept header, POST requests sign a SHA-256 digest of body.
func Sign(req *http.Request, keyID string, privateKey crypto.PrivateKey, body []byte) error {
	rsaKey, ok := privateKey.(*rsa.PrivateKey)
	if !ok {
		return errors.New("httpsig: only RSA keys are supported")
	}
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat)) // Date must be in GMT, not UTC 🤯
	if req.Host == "" {
		req.Host = req.URL.Host
	}
	req.Header.Set("Host", req.Host)
	headers := []string{RequestTarget, "host", "date"}
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		headers = append(headers, "accept")
	case http.MethodPost:
		req.Header.Set("Digest", Digest(body))
		headers = append(headers, "digest")
	}

	s, err := signingString(req, headers)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(s)
	sig, err := rsa.SignPKCS1v15(rand.Reader, rsaKey, crypto.SHA256, hash[:])
	if err != nil {
		return err
	}
	enc := base64.StdEncoding.EncodeToString(sig)
	req.Header.Set("Signature", fmt.Sprintf(`keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`, keyID, strings.Join(headers, " "), enc))
	return nil
}

// Digest returns the value of the Digest header for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

func signingString(req *http.Request, headers []string) ([]byte, error) {
	var sb bytes.Buffer
	for i, header := range headers {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch header {
		case RequestTarget:
			sb.WriteString(RequestTarget + ": ")
			sb.WriteString(strings.ToLower(req.Method))
			sb.WriteString(" ")
			sb.WriteString(req.URL.Path)
			if req.URL.RawQuery != "" {
				sb.WriteString("?" + req.URL.RawQuery)
			}
		case "host":
			sb.WriteString("host: ")
			sb.WriteString(req.Host)
		case "date", "accept", "digest":
			sb.WriteString(header + ": ")
			sb.WriteString(req.Header.Get(header))
		default:
			return nil, fmt.Errorf("unknown header to sign: %s", header)
		}
	}
	return sb.Bytes(), nil
}
