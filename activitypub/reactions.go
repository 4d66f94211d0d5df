package activitypub

import (
	"context"
	"errors"
	"time"

	"github.com/davecheney/solo/models"
	"gorm.io/gorm"
)

// ensureInbox returns the stored remote object apID, fetching and saving it
// when it is not yet known.
func (e *Env) ensureInbox(ctx context.Context, apID string) (*models.InboxObject, error) {
	if e.Local.IsLocal(apID) {
		return nil, validationError("%s is a local object", apID)
	}
	obj, err := models.NewInboxObjects(e.DB).FindByAPID(apID)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return obj, err
	}

	var raw map[string]any
	if err := e.Fetcher.Fetch(ctx, apID, &raw); err != nil {
		return nil, err
	}
	if typeOf(raw) == "Create" {
		inner := mapFromAny(raw["object"])
		if inner == nil {
			if err := e.Fetcher.Fetch(ctx, idFromAny(raw["object"]), &inner); err != nil {
				return nil, err
			}
		}
		raw = inner
	}
	if !IsObjectType(typeOf(raw)) {
		return nil, validationError("%s is a %s, not an object", apID, typeOf(raw))
	}
	err = e.Transaction(func(tx *gorm.DB) error {
		obj, err = e.saveObject(ctx, tx, raw)
		return err
	})
	return obj, err
}

// SendLike likes the remote object apID.
func (e *Env) SendLike(ctx context.Context, apID string) (*models.OutboxObject, error) {
	target, err := e.ensureInbox(ctx, apID)
	if err != nil {
		return nil, err
	}
	if target.LikedViaOutboxObjectAPID != "" {
		return nil, validationError("%s is already liked", apID)
	}
	publicID, id := e.newObject()
	to, cc := []string{target.APActorID}, []string{}
	if target.Visibility.IsPublic() {
		cc = []string{PublicCollection}
	}
	doc := map[string]any{
		"@context": activityStreamsContext,
		"type":     "Like",
		"id":       id,
		"actor":    e.Local.ID(),
		"object":   target.APID,
		"to":       to,
		"cc":       cc,
	}
	recipients, err := e.Recipients(ctx, e.DB, doc)
	if err != nil {
		return nil, err
	}

	var like *models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		if like, err = e.saveActivity(tx, publicID, doc, target.Ref(), recipients); err != nil {
			return err
		}
		return tx.Model(target).UpdateColumn("liked_via_outbox_object_ap_id", like.APID).Error
	})
	if err != nil {
		return nil, err
	}
	authored(like)
	return like, nil
}

// SendAnnounce boosts the remote object apID to the local actor's followers.
func (e *Env) SendAnnounce(ctx context.Context, apID string) (*models.OutboxObject, error) {
	target, err := e.ensureInbox(ctx, apID)
	if err != nil {
		return nil, err
	}
	if !target.Visibility.IsPublic() {
		return nil, validationError("cannot announce %s object %s", target.Visibility, apID)
	}
	if target.AnnouncedViaOutboxObjectAPID != "" {
		return nil, validationError("%s is already announced", apID)
	}
	publicID, id := e.newObject()
	doc := map[string]any{
		"@context":  activityStreamsContext,
		"type":      "Announce",
		"id":        id,
		"actor":     e.Local.ID(),
		"object":    target.APID,
		"published": formatTime(time.Now()),
		"to":        []string{PublicCollection},
		"cc":        []string{e.Local.Followers(), target.APActorID},
	}
	recipients, err := e.Recipients(ctx, e.DB, doc)
	if err != nil {
		return nil, err
	}

	var announce *models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		if announce, err = e.saveActivity(tx, publicID, doc, target.Ref(), recipients); err != nil {
			return err
		}
		return tx.Model(target).UpdateColumn("announced_via_outbox_object_ap_id", announce.APID).Error
	})
	if err != nil {
		return nil, err
	}
	authored(announce)
	return announce, nil
}

// SendUndo reverts the local Follow, Like or Announce apID.
func (e *Env) SendUndo(ctx context.Context, apID string) (*models.OutboxObject, error) {
	obj, err := e.findOwn(apID)
	if err != nil {
		return nil, err
	}
	switch obj.APType {
	case "Follow", "Like", "Announce":
	default:
		return nil, validationError("cannot undo %s %s", obj.APType, apID)
	}
	if obj.UndoneByID != nil || obj.IsDeleted {
		return nil, validationError("%s is already undone", apID)
	}
	recipients, err := e.undoRecipients(ctx, e.DB, obj)
	if err != nil {
		return nil, err
	}
	var undo *models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		undo, err = e.sendUndo(ctx, tx, obj, recipients)
		return err
	})
	if err != nil {
		return nil, err
	}
	authored(undo)
	return undo, nil
}

// undoRecipients returns the inboxes an Undo of obj is delivered to.
func (e *Env) undoRecipients(ctx context.Context, db *gorm.DB, obj *models.OutboxObject) ([]string, error) {
	if obj.APType == "Follow" {
		return e.Recipients(ctx, db, map[string]any{
			"to": []any{obj.ActivityObjectAPID},
		})
	}
	return e.Recipients(ctx, db, obj.APObject)
}

// sendUndo stores and enqueues an Undo of obj, then reverts its side effects.
func (e *Env) sendUndo(ctx context.Context, tx *gorm.DB, obj *models.OutboxObject, recipients []string) (*models.OutboxObject, error) {
	publicID, id := e.newObject()
	embedded := clone(obj.APObject)
	delete(embedded, "@context")
	doc := map[string]any{
		"@context": activityStreamsContext,
		"type":     "Undo",
		"id":       id,
		"actor":    e.Local.ID(),
		"object":   embedded,
	}
	if obj.APType == "Follow" {
		doc["to"] = []string{obj.ActivityObjectAPID}
	} else {
		doc["to"] = obj.APObject["to"]
		doc["cc"] = obj.APObject["cc"]
	}

	undo, err := e.saveActivity(tx, publicID, doc, obj.Ref(), recipients)
	if err != nil {
		return nil, err
	}
	obj.UndoneByID = &undo.ID
	obj.IsDeleted = true
	if err := tx.Model(obj).UpdateColumns(map[string]any{
		"undone_by_id": undo.ID,
		"is_deleted":   true,
	}).Error; err != nil {
		return nil, err
	}

	switch obj.APType {
	case "Follow":
		actor, err := models.NewActors(tx).FindByAPID(obj.ActivityObjectAPID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return undo, nil
		case err != nil:
			return nil, err
		}
		return undo, models.NewFollowings(tx).Remove(actor.ID)
	case "Like":
		return undo, tx.Model(&models.InboxObject{}).
			Where("liked_via_outbox_object_ap_id = ?", obj.APID).
			UpdateColumn("liked_via_outbox_object_ap_id", "").Error
	case "Announce":
		return undo, tx.Model(&models.InboxObject{}).
			Where("announced_via_outbox_object_ap_id = ?", obj.APID).
			UpdateColumn("announced_via_outbox_object_ap_id", "").Error
	}
	return undo, nil
}
