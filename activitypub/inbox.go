package activitypub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/davecheney/solo/internal/activitypub"
	icrypto "github.com/davecheney/solo/internal/crypto"
	ihttpsig "github.com/davecheney/solo/internal/httpsig"
	"github.com/davecheney/solo/internal/httpx"
	"github.com/davecheney/solo/models"
	"github.com/go-fed/httpsig"
	"github.com/go-json-experiment/json"
)

// maxInboxBody bounds the size of a delivered activity.
const maxInboxBody = 1 << 20

// Inbox accepts a delivery to the shared inbox. The HTTP signature is
// verified and the payload queued for ingestion.
func Inbox(env *Env, w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	if err := checkDigest(r.Header.Get("Digest"), body); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}

	sentBy, err := env.verifyRequest(r.Context(), r)
	switch {
	case errors.Is(err, errBlocked):
		w.WriteHeader(http.StatusAccepted)
		return nil
	case errors.Is(err, activitypub.ErrObjectNotFound) && typeOf(payload) == "Delete":
		// the actor deleting itself is already gone
		env.Log().Debug("ignoring Delete from unknown actor", "actor", idFromAny(payload["actor"]))
		w.WriteHeader(http.StatusAccepted)
		return nil
	case err != nil:
		return httpx.Error(http.StatusUnauthorized, err)
	}

	if _, err := models.NewIncomingActivities(env.DB).Create(sentBy, payload); err != nil {
		return err
	}
	env.Log().Debug("queued incoming activity", "type", typeOf(payload), "id", idOf(payload), "sent_by", sentBy)
	w.WriteHeader(http.StatusAccepted)
	return nil
}

var errBlocked = errors.New("blocked server")

// verifyRequest checks the HTTP signature of r and returns the id of the
// signing actor. A failed verification is retried once with a freshly
// fetched key.
func (e *Env) verifyRequest(ctx context.Context, r *http.Request) (string, error) {
	r.Header.Set("Host", r.Host)
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", err
	}
	keyID := verifier.KeyId()
	if e.isBlockedServer(hostOf(keyID)) {
		return "", errBlocked
	}
	actor, err := e.Actors().Fetch(ctx, e.DB, trimKeyID(keyID), true)
	if err != nil {
		return "", err
	}
	if err := verifyWith(verifier, actor); err == nil {
		return actor.APID, nil
	}
	actor, err = e.Actors().Refetch(ctx, e.DB, actor)
	if err != nil {
		return "", err
	}
	if err := verifyWith(verifier, actor); err != nil {
		return "", err
	}
	return actor.APID, nil
}

func verifyWith(verifier httpsig.Verifier, actor *models.Actor) error {
	pub, err := icrypto.ParsePublicKey(actor.PublicKeyPEM())
	if err != nil {
		return err
	}
	return verifier.Verify(pub, httpsig.RSA_SHA256)
}

// checkDigest compares the Digest header, if any, against body.
func checkDigest(header string, body []byte) error {
	if header == "" {
		return nil
	}
	want := strings.SplitN(ihttpsig.Digest(body), "=", 2)
	for _, d := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(d), "=")
		if ok && strings.EqualFold(algo, want[0]) {
			if value != want[1] {
				return fmt.Errorf("digest mismatch")
			}
			return nil
		}
	}
	return fmt.Errorf("unsupported digest %q", header)
}
