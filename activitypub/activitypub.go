// Package activitypub implements the federation engine of the local actor:
// inbound ingestion, outbound authoring, recipient resolution and the
// ActivityPub HTTP surface.
package activitypub

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/davecheney/solo/internal/config"
	icrypto "github.com/davecheney/solo/internal/crypto"
	"github.com/davecheney/solo/models"
	"github.com/go-json-experiment/json"
	"gorm.io/gorm"
)

// PublicCollection is the special collection addressing everyone.
const PublicCollection = "https://www.w3.org/ns/activitystreams#Public"

var (
	// ErrValidation is returned when an activity, or a request to author
	// one, is malformed or inconsistent with what is stored.
	ErrValidation = errors.New("activitypub: validation failed")

	// ErrInvalidSignature is returned when a forwarded activity can be
	// neither verified nor refetched from its origin.
	ErrInvalidSignature = errors.New("activitypub: invalid signature")
)

// Fetcher dereferences remote documents. *activitypub.Client from
// internal/activitypub implements it.
type Fetcher interface {
	Fetch(ctx context.Context, uri string, obj *map[string]any) error
	FetchCollection(ctx context.Context, uri string, limit int) ([]any, error)
}

// SignatureVerifier checks the linked data signature embedded in a document.
type SignatureVerifier interface {
	Verify(ctx context.Context, doc map[string]any) (bool, error)
}

// Env is the environment of the federation engine.
type Env struct {
	*models.Env
	Config   *config.Config
	Local    *config.Identity
	Fetcher  Fetcher
	Verifier SignatureVerifier

	// Finger resolves @user@host to an actor id. Optional; without it
	// mentions in authored content are left unlinked.
	Finger func(ctx context.Context, handle string) (string, error)
}

func (e *Env) objects(db *gorm.DB) *models.Objects {
	return models.NewObjects(db, e.Local.BaseURL)
}

// PublicKey returns the public key of the actor owning keyID, fetching the
// actor if it is not cached.
func (e *Env) PublicKey(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	actor, err := e.Actors().Fetch(ctx, e.DB, trimKeyID(keyID), true)
	if err != nil {
		return nil, err
	}
	return icrypto.ParsePublicKey(actor.PublicKeyPEM())
}

func (e *Env) isBlockedServer(host string) bool {
	return e.Config != nil && e.Config.IsBlocked(host)
}

// trimKeyID removes the #main-key suffix from the key id.
func trimKeyID(id string) string {
	if i := strings.Index(id, "#"); i != -1 {
		return id[:i]
	}
	return id
}

// isPublic reports whether addr names the public collection, in any of its spellings.
func isPublic(addr string) bool {
	switch addr {
	case PublicCollection, "as:Public", "Public":
		return true
	default:
		return false
	}
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return s
}

func mapFromAny(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func timeFromAnyOrZero(v any) time.Time {
	t, _ := timeFromAny(v)
	return t
}

func timeFromAny(v any) (time.Time, error) {
	switch v := v.(type) {
	case string:
		return time.Parse(time.RFC3339, v)
	case time.Time:
		return v, nil
	default:
		return time.Time{}, errors.New("timeFromAny: invalid type")
	}
}

func intFromAny(v any) int {
	switch v := v.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		// shakes fist at json number type
		return int(v)
	}
	return 0
}

func anyToSlice(v any) []any {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		s := make([]any, len(v))
		for i := range v {
			s[i] = v[i]
		}
		return s
	default:
		return []any{v}
	}
}

// idFromAny returns the id of v, which is either an id or an embedded object.
func idFromAny(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case map[string]any:
		return stringFromAny(v["id"])
	default:
		return ""
	}
}

// idsFromAny returns the ids of a single or multi valued property.
func idsFromAny(v any) []string {
	var ids []string
	for _, item := range anyToSlice(v) {
		if id := idFromAny(item); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// typeOf returns the type of doc. Multi valued types yield their first entry.
func typeOf(doc map[string]any) string {
	switch t := doc["type"].(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			return stringFromAny(t[0])
		}
	}
	return ""
}

func idOf(doc map[string]any) string {
	return stringFromAny(doc["id"])
}

func hostOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Host
}

// clone returns a shallow copy of doc.
func clone(doc map[string]any) map[string]any {
	c := make(map[string]any, len(doc))
	for k, v := range doc {
		c[k] = v
	}
	return c
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// MarshalIndent encodes v for display.
func MarshalIndent(v any) ([]byte, error) {
	b, err := json.MarshalOptions{}.Marshal(json.EncodeOptions{
		Indent: "\t", // indent for readability
	}, v)
	return b, err
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}
