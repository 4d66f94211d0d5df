// Package admin is the authenticated HTTP surface for authoring as the local
// actor without the command line.
package admin

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/davecheney/solo/activitypub"
	"github.com/davecheney/solo/internal/httpx"
	"github.com/davecheney/solo/internal/to"
	"github.com/davecheney/solo/models"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

const realm = `Basic realm="solo"`

// authenticate checks the basic auth credentials of r against the local
// actor's username and the configured admin password hash.
func authenticate(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	hash := env.Config.AdminPasswordHash
	if hash == "" {
		return httpx.Error(http.StatusForbidden, errors.New("admin interface is disabled"))
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", realm)
		return httpx.Error(http.StatusUnauthorized, errors.New("missing credentials"))
	}
	if username != env.Local.Username {
		w.Header().Set("WWW-Authenticate", realm)
		return httpx.Error(http.StatusUnauthorized, errors.New("invalid username"))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		w.Header().Set("WWW-Authenticate", realm)
		return httpx.Error(http.StatusUnauthorized, errors.New("invalid password"))
	}
	return nil
}

type noteParams struct {
	Type                string   `schema:"type" json:"type"`
	Source              string   `schema:"source" json:"source"`
	Visibility          string   `schema:"visibility" json:"visibility"`
	InReplyTo           string   `schema:"in_reply_to" json:"in_reply_to"`
	ContentWarning      string   `schema:"content_warning" json:"content_warning"`
	Sensitive           bool     `schema:"sensitive" json:"sensitive"`
	Name                string   `schema:"name" json:"name"`
	PollType            string   `schema:"poll_type" json:"poll_type"`
	PollAnswers         []string `schema:"poll_answers" json:"poll_answers"`
	PollDurationMinutes int      `schema:"poll_duration_minutes" json:"poll_duration_minutes"`
}

// NoteCreate publishes a new local object.
func NoteCreate(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	if err := authenticate(env, w, r); err != nil {
		return err
	}
	var params noteParams
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	obj, err := env.SendCreate(r.Context(), activitypub.CreateParams{
		Type:                params.Type,
		Source:              params.Source,
		Visibility:          models.Visibility(params.Visibility),
		InReplyTo:           params.InReplyTo,
		ContentWarning:      params.ContentWarning,
		Sensitive:           params.Sensitive,
		Name:                params.Name,
		PollType:            params.PollType,
		PollAnswers:         params.PollAnswers,
		PollDurationMinutes: params.PollDurationMinutes,
	})
	if err != nil {
		return classify(err)
	}
	w.Header().Set("Location", obj.APID)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	return to.JSON(w, summary(obj))
}

// NoteDestroy deletes the local object with the public id in the URL.
func NoteDestroy(env *activitypub.Env, w http.ResponseWriter, r *http.Request) error {
	if err := authenticate(env, w, r); err != nil {
		return err
	}
	apID := env.Local.ObjectURL(chi.URLParam(r, "id"))
	obj, err := env.SendDelete(r.Context(), apID)
	if err != nil {
		return classify(err)
	}
	return to.JSON(w, summary(obj))
}

func classify(err error) error {
	if errors.Is(err, activitypub.ErrValidation) {
		return httpx.Error(http.StatusUnprocessableEntity, err)
	}
	return fmt.Errorf("admin: %w", err)
}

func summary(obj *models.OutboxObject) map[string]any {
	return map[string]any{
		"id":         obj.APID,
		"type":       obj.APType,
		"public_id":  obj.PublicID,
		"visibility": obj.Visibility,
		"published":  obj.APPublishedAt,
	}
}
