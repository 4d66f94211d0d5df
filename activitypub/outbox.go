package activitypub

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/davecheney/solo/internal/algorithms"
	"github.com/davecheney/solo/internal/httpx"
	"github.com/davecheney/solo/internal/to"
	"github.com/davecheney/solo/models"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// outboxPageSize is the number of items shown in the outbox collection.
const outboxPageSize = 20

// Activity returns the document delivered for obj. Objects are wrapped in
// the Create that published them; edits are delivered as their own Update.
func (e *Env) Activity(obj *models.OutboxObject) map[string]any {
	if !IsObjectType(obj.APType) {
		return obj.APObject
	}
	return e.create(obj)
}

// create wraps obj in the Create that published it.
func (e *Env) create(obj *models.OutboxObject) map[string]any {
	inner := clone(obj.APObject)
	delete(inner, "@context")
	return map[string]any{
		"@context":  activityStreamsContext,
		"type":      "Create",
		"id":        obj.APID + "/activity",
		"actor":     e.Local.ID(),
		"published": inner["published"],
		"to":        inner["to"],
		"cc":        inner["cc"],
		"object":    inner,
	}
}

// Outbox serves the most recent public posts and announces.
func Outbox(env *Env, w http.ResponseWriter, r *http.Request) error {
	objs, err := models.NewOutboxObjects(env.DB).Published(outboxPageSize)
	if err != nil {
		return err
	}
	items := algorithms.Map(objs, func(obj *models.OutboxObject) any {
		if IsObjectType(obj.APType) {
			doc := env.create(obj)
			delete(doc, "@context")
			return doc
		}
		doc := clone(obj.APObject)
		delete(doc, "@context")
		return doc
	})
	return to.ActivityJSON(w, map[string]any{
		"@context":     activityStreamsContext,
		"id":           env.Local.Outbox(),
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	})
}

// ObjectShow serves the local object named by the id URL parameter.
func ObjectShow(env *Env, w http.ResponseWriter, r *http.Request) error {
	obj, err := findPublished(env, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	if obj.IsDeleted {
		w.Header().Set("Content-Type", to.ActivityStreamsContentType)
		w.WriteHeader(http.StatusGone)
		return to.ActivityJSON(w, map[string]any{
			"@context": activityStreamsContext,
			"type":     "Tombstone",
			"id":       obj.APID,
		})
	}
	return to.ActivityJSON(w, obj.APObject)
}

// ObjectActivity serves the Create wrapping a local object.
func ObjectActivity(env *Env, w http.ResponseWriter, r *http.Request) error {
	obj, err := findPublished(env, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	if obj.IsDeleted || !IsObjectType(obj.APType) {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("no activity for %s", obj.APID))
	}
	return to.ActivityJSON(w, env.create(obj))
}

// findPublished returns the local object publicID if it may be shown
// without authentication.
func findPublished(env *Env, publicID string) (*models.OutboxObject, error) {
	obj, err := models.NewOutboxObjects(env.DB).FindByPublicID(publicID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, httpx.Error(http.StatusNotFound, fmt.Errorf("object %q not found", publicID))
	case err != nil:
		return nil, err
	}
	if !obj.Visibility.IsPublic() || obj.IsTransient {
		return nil, httpx.Error(http.StatusNotFound, fmt.Errorf("object %q not found", publicID))
	}
	return obj, nil
}
