package activitypub

import (
	"net/http"

	icrypto "github.com/davecheney/solo/internal/crypto"
	"github.com/davecheney/solo/internal/to"
	"github.com/davecheney/solo/models"
)

// ActorShow serves the document of the local actor.
func ActorShow(env *Env, w http.ResponseWriter, r *http.Request) error {
	doc, err := env.ActorDocument()
	if err != nil {
		return err
	}
	return to.ActivityJSON(w, doc)
}

// ActorDocument returns the ActivityPub representation of the local actor.
func (e *Env) ActorDocument() (map[string]any, error) {
	pem, err := icrypto.PublicKeyPEM(&e.Local.PrivateKey.PublicKey)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{
		"@context":                  activityStreamsContext,
		"type":                      "Person",
		"id":                        e.Local.ID(),
		"preferredUsername":         e.Local.Username,
		"url":                       e.Local.ID(),
		"inbox":                     e.Local.Inbox(),
		"outbox":                    e.Local.Outbox(),
		"followers":                 e.Local.Followers(),
		"following":                 e.Local.Following(),
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]any{
			"sharedInbox": e.Local.Inbox(),
		},
		"publicKey": map[string]any{
			"id":           e.Local.KeyID(),
			"owner":        e.Local.ID(),
			"publicKeyPem": string(pem),
		},
	}
	if c := e.Config; c != nil {
		doc["name"] = c.Name
		doc["summary"] = c.Summary
		doc["manuallyApprovesFollowers"] = c.ManuallyApprovesFollowers
		if len(c.AlsoKnownAs) > 0 {
			doc["alsoKnownAs"] = c.AlsoKnownAs
		}
	}
	return doc, nil
}

// Followers serves the followers collection of the local actor.
func Followers(env *Env, w http.ResponseWriter, r *http.Request) error {
	followers, err := models.NewFollowers(env.DB).All()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(followers))
	for _, f := range followers {
		ids = append(ids, f.APActorID)
	}
	return collection(w, env.Local.Followers(), ids)
}

// Following serves the collection of actors the local actor follows.
func Following(env *Env, w http.ResponseWriter, r *http.Request) error {
	following, err := models.NewFollowings(env.DB).All()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(following))
	for _, f := range following {
		ids = append(ids, f.APActorID)
	}
	return collection(w, env.Local.Following(), ids)
}

func collection(w http.ResponseWriter, id string, items []string) error {
	return to.ActivityJSON(w, map[string]any{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           id,
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	})
}
