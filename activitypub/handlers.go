package activitypub

import (
	"errors"
	"time"

	"github.com/davecheney/solo/internal/activitypub"
	"github.com/davecheney/solo/internal/algorithms"
	"github.com/davecheney/solo/models"
	"gorm.io/gorm"
)

func handleUpdate(in *inbox) error {
	obj := mapFromAny(in.activity.APObject["object"])
	if obj == nil {
		in.log.Info("Update without an embedded object")
		return nil
	}
	typ := typeOf(obj)
	switch {
	case models.IsActorType(typ):
		if idOf(obj) != in.actor.APID {
			return validationError("Update of actor %s by %s", idOf(obj), in.actor.APID)
		}
		if typ != in.actor.Type {
			return validationError("Update changes type of %s from %s to %s", in.actor.APID, in.actor.Type, typ)
		}
		if username := stringFromAny(obj["preferredUsername"]); in.actor.Handle != "" && "@"+username+"@"+in.actor.Server != in.actor.Handle {
			return validationError("Update changes handle of %s", in.actor.APID)
		}
		_, err := in.env.Actors().Refresh(in.tx, in.actor, obj)
		return err
	case IsObjectType(typ):
		inboxObjects := models.NewInboxObjects(in.tx)
		existing, err := inboxObjects.FindByAPID(idOf(obj))
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			in.log.Info("Update of unknown object", "object", idOf(obj))
			return nil
		case err != nil:
			return err
		}
		if existing.APActorID != in.actor.APID {
			in.log.Warn("Update of object owned by another actor", "object", existing.APID, "owner", existing.APActorID)
			return nil
		}
		existing.APObject = obj
		return inboxObjects.Save(existing)
	default:
		in.log.Info("Update of unsupported type", "object_type", typ)
		return nil
	}
}

func handleMove(in *inbox) error {
	if moved := idFromAny(in.activity.APObject["object"]); moved != in.actor.APID {
		in.log.Warn("Move of another actor", "object", moved)
		return nil
	}
	target := idFromAny(in.activity.APObject["target"])
	if target == "" {
		in.log.Info("Move without a target")
		return nil
	}
	newActor, err := in.env.Actors().Fetch(in.ctx, in.tx, target, true)
	if err != nil {
		return err
	}
	if !algorithms.Contains(newActor.AlsoKnownAs(), in.actor.APID) {
		in.log.Warn("Move target does not list the actor as an alias", "target", target)
		return nil
	}

	following, err := models.NewFollowings(in.tx).Find(in.actor.APID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		in.log.Info("Move of an actor that is not followed")
		return nil
	case err != nil:
		return err
	}
	follow, err := models.NewOutboxObjects(in.tx).FindByID(following.OutboxObjectID)
	if err != nil {
		return err
	}
	recipients, err := in.env.undoRecipients(in.ctx, in.tx, follow)
	if err != nil {
		return err
	}
	if _, err := in.env.sendUndo(in.ctx, in.tx, follow, recipients); err != nil {
		return err
	}

	ok, err := models.NewFollowings(in.tx).IsFollowing(newActor.APID)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := in.env.sendFollow(in.tx, newActor); err != nil {
			return err
		}
	}
	return in.notify(models.NotificationMove, newActor, in.activity, nil)
}

func handleDelete(in *inbox) error {
	if in.relatesTo != nil {
		if in.relatesTo.IsLocal() {
			in.log.Warn("Delete of a local object")
			return nil
		}
		deleted := in.relatesTo.Inbox
		if deleted.APActorID != in.actor.APID {
			in.log.Warn("Delete of object owned by another actor", "object", deleted.APID, "owner", deleted.APActorID)
			return nil
		}
		if deleted.IsDeleted {
			return nil
		}
		return in.revert(deleted)
	}

	target := in.activity.ActivityObjectAPID
	actor, err := in.env.Actors().Fetch(in.ctx, in.tx, target, false)
	switch {
	case errors.Is(err, activitypub.ErrObjectNotFound):
		in.log.Debug("Delete of unknown object", "object", target)
		return nil
	case err != nil:
		return err
	}
	if actor.APID != in.actor.APID {
		in.log.Warn("Delete of actor by another actor", "object", target)
		return nil
	}
	return in.deleteActor(actor)
}

// deleteActor removes every trace of actor from the relationship tables and
// reverts the side effects of its objects.
func (in *inbox) deleteActor(actor *models.Actor) error {
	if err := models.NewFollowers(in.tx).Remove(actor.ID); err != nil {
		return err
	}
	if err := models.NewFollowings(in.tx).Remove(actor.ID); err != nil {
		return err
	}
	if err := models.NewActors(in.tx).MarkDeleted(actor); err != nil {
		return err
	}
	objs, err := models.NewInboxObjects(in.tx).ByActor(actor.ID)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if obj.ID == in.activity.ID {
			continue
		}
		if err := in.revert(obj); err != nil {
			return err
		}
	}
	return nil
}

// revert marks deleted as deleted and undoes what it caused: the replies
// count of its parent, the counter it bumped on a local object, and the
// activities pointing at it. A Delete of a reply to a local object is
// forwarded to followers if it carries a linked data signature.
func (in *inbox) revert(deleted *models.InboxObject) error {
	if err := models.NewInboxObjects(in.tx).MarkDeleted(deleted); err != nil {
		return err
	}

	forward := false
	if deleted.InReplyTo != "" {
		parent, err := in.objects().ByAPID(deleted.InReplyTo)
		switch {
		case err == nil:
			forward = parent.IsLocal()
			if err := in.objects().RecountReplies(parent.APID()); err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
	}

	if in.env.Local.IsLocal(deleted.ActivityObjectAPID) {
		outbox := models.NewOutboxObjects(in.tx)
		target, err := outbox.FindByAPID(deleted.ActivityObjectAPID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case deleted.APType == "Like" && deleted.UndoneByID == nil:
			if err := outbox.AdjustLikes(target, -1); err != nil {
				return err
			}
		case deleted.APType == "Announce" && deleted.UndoneByID == nil:
			if err := outbox.AdjustAnnounces(target, -1); err != nil {
				return err
			}
		}
	}

	if err := in.objects().CascadeDelete(deleted.APID); err != nil {
		return err
	}

	if forward && in.activity.APType == "Delete" && in.activity.ActivityObjectAPID == deleted.APID && in.activity.HasLDSignature {
		skip := []string{in.activity.APActorID}
		if in.forwardedBy != nil {
			skip = append(skip, in.forwardedBy.APID)
		}
		return in.forward(in.activity, skip...)
	}
	return nil
}

func handleFollow(in *inbox) error {
	if in.activity.ActivityObjectAPID != in.env.Local.ID() {
		in.log.Info("discarding Follow of another actor", "object", in.activity.ActivityObjectAPID)
		return in.discard()
	}
	if in.env.Config != nil && in.env.Config.ManuallyApprovesFollowers {
		return in.notify(models.NotificationPendingIncomingFollower, in.actor, in.activity, nil)
	}
	_, err := in.env.acceptFollow(in.tx, in.actor, in.activity)
	return err
}

func handleUndo(in *inbox) error {
	if in.relatesTo == nil || in.relatesTo.IsLocal() {
		in.log.Info("Undo of unknown activity", "object", in.activity.ActivityObjectAPID)
		return nil
	}
	original := in.relatesTo.Inbox
	if original.APActorID != in.actor.APID {
		return validationError("Undo by %s of activity by %s", in.actor.APID, original.APActorID)
	}
	if original.UndoneByID != nil {
		return validationError("%s is already undone", original.APID)
	}
	original.UndoneByID = &in.activity.ID
	original.IsDeleted = true
	if err := in.tx.Model(original).UpdateColumns(map[string]any{
		"undone_by_id": in.activity.ID,
		"is_deleted":   true,
	}).Error; err != nil {
		return err
	}

	switch original.APType {
	case "Follow":
		if _, err := models.NewFollowers(in.tx).RemoveByFollow(original.ID); err != nil {
			return err
		}
		return in.notify(models.NotificationUnfollow, in.actor, in.activity, nil)
	case "Like", "Announce":
		outbox := models.NewOutboxObjects(in.tx)
		target, err := outbox.FindByAPID(original.ActivityObjectAPID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			in.log.Info("Undo of reaction to unknown object", "object", original.ActivityObjectAPID)
			return nil
		case err != nil:
			return err
		}
		if original.APType == "Like" {
			if err := outbox.AdjustLikes(target, -1); err != nil {
				return err
			}
			return in.notify(models.NotificationUndoLike, in.actor, in.activity, target)
		}
		if err := outbox.AdjustAnnounces(target, -1); err != nil {
			return err
		}
		return in.notify(models.NotificationUndoAnnounce, in.actor, in.activity, target)
	default:
		in.log.Info("Undo of unsupported activity", "object_type", original.APType)
		return nil
	}
}

// followOf returns the local Follow the Accept or Reject refers to.
func (in *inbox) followOf() (*models.OutboxObject, bool) {
	if in.relatesTo == nil || !in.relatesTo.IsLocal() || in.relatesTo.APType() != "Follow" {
		in.log.Info("response to unknown Follow", "object", in.activity.ActivityObjectAPID)
		return nil, false
	}
	follow := in.relatesTo.Outbox
	if follow.ActivityObjectAPID != in.actor.APID {
		in.log.Warn("response to Follow of another actor", "followed", follow.ActivityObjectAPID)
		return nil, false
	}
	return follow, true
}

func handleAccept(in *inbox) error {
	follow, ok := in.followOf()
	if !ok {
		return nil
	}
	if err := in.notify(models.NotificationFollowRequestAccepted, in.actor, in.activity, follow); err != nil {
		return err
	}
	if err := models.NewFollowings(in.tx).Add(in.actor, follow.ID); err != nil {
		return err
	}
	in.prefetch()
	return nil
}

func handleReject(in *inbox) error {
	follow, ok := in.followOf()
	if !ok {
		return nil
	}
	if err := in.notify(models.NotificationFollowRequestRejected, in.actor, in.activity, follow); err != nil {
		return err
	}
	return models.NewFollowings(in.tx).Remove(in.actor.ID)
}

const (
	prefetchWindow = 20
	prefetchLimit  = 5
)

// prefetch seeds the stream with the recent notes of a newly followed
// actor. Failures are logged.
func (in *inbox) prefetch() {
	outbox := in.actor.OutboxURL()
	if outbox == "" {
		return
	}
	items, err := in.env.Fetcher.FetchCollection(in.ctx, outbox, prefetchWindow)
	if err != nil {
		in.log.Warn("unable to prefetch outbox", "outbox", outbox, "error", err)
		return
	}
	saved := 0
	for _, item := range items {
		if saved >= prefetchLimit {
			break
		}
		err := in.tx.Transaction(func(tx *gorm.DB) error {
			in := in.withTx(tx)
			activity, err := in.fetchObject(item)
			if err != nil {
				return err
			}
			if typeOf(activity) != "Create" {
				return nil
			}
			obj, err := in.fetchObject(activity["object"])
			if err != nil {
				return err
			}
			if attributedTo(obj) != in.actor.APID {
				return nil
			}
			ok, err := models.NewInboxObjects(tx).Exists(idOf(obj))
			if err != nil || ok {
				return err
			}
			note, err := in.env.saveObject(in.ctx, tx, obj)
			if err != nil {
				return err
			}
			saved++
			if note.InReplyTo == "" {
				return in.setHidden(note, false)
			}
			return nil
		})
		if err != nil {
			in.log.Warn("unable to prefetch object", "object", idFromAny(item), "error", err)
		}
	}
}

func handleLike(in *inbox) error {
	if in.relatesTo == nil || !in.relatesTo.IsLocal() {
		in.log.Debug("discarding Like of unknown object", "object", in.activity.ActivityObjectAPID)
		return in.discard()
	}
	target := in.relatesTo.Outbox
	if err := models.NewOutboxObjects(in.tx).AdjustLikes(target, 1); err != nil {
		return err
	}
	return in.notify(models.NotificationLike, in.actor, in.activity, target)
}

// announceWindow is how long a boost suppresses further boosts of the same object.
const announceWindow = time.Hour

func handleAnnounce(in *inbox) error {
	if in.relatesTo != nil && in.relatesTo.IsLocal() {
		target := in.relatesTo.Outbox
		if err := models.NewOutboxObjects(in.tx).AdjustAnnounces(target, 1); err != nil {
			return err
		}
		return in.notify(models.NotificationAnnounce, in.actor, in.activity, target)
	}

	following, err := models.NewFollowings(in.tx).IsFollowing(in.actor.APID)
	if err != nil {
		return err
	}

	if in.relatesTo != nil {
		target := in.relatesTo.Inbox
		recent, err := models.NewInboxObjects(in.tx).RecentAnnounces(target.APID, time.Now().Add(-announceWindow))
		if err != nil {
			return err
		}
		fresh := !target.IsHiddenFromStream && time.Since(target.APPublishedAt) < announceWindow
		if fresh || recent > 0 {
			return in.setHidden(in.activity, true)
		}
		return in.setHidden(in.activity, !following)
	}

	err = in.tx.Transaction(func(tx *gorm.DB) error {
		in := in.withTx(tx)
		obj, err := in.fetchObject(in.activity.APObject["object"])
		if err != nil {
			return err
		}
		if typeOf(obj) == "Create" {
			if obj, err = in.fetchObject(obj["object"]); err != nil {
				return err
			}
		}
		author, err := in.env.Actors().Fetch(in.ctx, tx, attributedTo(obj), true)
		if err != nil {
			return err
		}
		if author.IsBlocked {
			in.log.Info("ignoring Announce of object by blocked actor", "author", author.APID)
			return nil
		}
		announced, err := in.env.saveObject(in.ctx, tx, obj)
		if err != nil {
			return err
		}
		return in.setRelatesTo(in.activity, announced.Ref())
	})
	if err != nil {
		in.log.Warn("unable to fetch announced object", "object", in.activity.ActivityObjectAPID, "error", err)
	}
	return in.setHidden(in.activity, !following)
}
