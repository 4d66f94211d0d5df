package activitypub

import (
	"context"
	"errors"

	"github.com/davecheney/solo/internal/algorithms"
	"github.com/davecheney/solo/internal/snowflake"
	"github.com/davecheney/solo/models"
	"gorm.io/gorm"
)

// SendFollow asks the remote actor actorID to accept the local actor as a
// follower.
func (e *Env) SendFollow(ctx context.Context, actorID string) (*models.OutboxObject, error) {
	if e.Local.IsLocal(actorID) {
		return nil, validationError("cannot follow the local actor")
	}
	actor, err := e.Actors().Fetch(ctx, e.DB, actorID, true)
	if err != nil {
		return nil, err
	}
	following, err := models.NewFollowings(e.DB).IsFollowing(actor.APID)
	if err != nil {
		return nil, err
	}
	if following {
		return nil, validationError("already following %s", actor.APID)
	}
	var follow *models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		follow, err = e.sendFollow(tx, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	authored(follow)
	return follow, nil
}

func (e *Env) sendFollow(tx *gorm.DB, actor *models.Actor) (*models.OutboxObject, error) {
	publicID, id := e.newObject()
	doc := map[string]any{
		"@context": activityStreamsContext,
		"type":     "Follow",
		"id":       id,
		"actor":    e.Local.ID(),
		"object":   actor.APID,
		"to":       []string{actor.APID},
	}
	return e.saveActivity(tx, publicID, doc, models.Ref{}, []string{actor.Inbox()})
}

// respond stores and enqueues an Accept or Reject of follow.
func (e *Env) respond(tx *gorm.DB, typ string, actor *models.Actor, follow *models.InboxObject) (*models.OutboxObject, error) {
	publicID, id := e.newObject()
	embedded := clone(follow.APObject)
	delete(embedded, "@context")
	doc := map[string]any{
		"@context": activityStreamsContext,
		"type":     typ,
		"id":       id,
		"actor":    e.Local.ID(),
		"object":   embedded,
		"to":       []string{actor.APID},
	}
	return e.saveActivity(tx, publicID, doc, follow.Ref(), []string{actor.Inbox()})
}

// acceptFollow records actor as a follower and replies with an Accept.
func (e *Env) acceptFollow(tx *gorm.DB, actor *models.Actor, follow *models.InboxObject) (*models.OutboxObject, error) {
	if err := models.NewFollowers(tx).Add(actor, follow.ID); err != nil {
		return nil, err
	}
	accept, err := e.respond(tx, "Accept", actor, follow)
	if err != nil {
		return nil, err
	}
	_, err = models.NewNotifications(tx).Notify(models.NotificationNewFollower, actor, follow, nil)
	return accept, err
}

func (e *Env) rejectFollow(tx *gorm.DB, actor *models.Actor, follow *models.InboxObject) (*models.OutboxObject, error) {
	reject, err := e.respond(tx, "Reject", actor, follow)
	if err != nil {
		return nil, err
	}
	_, err = models.NewNotifications(tx).Notify(models.NotificationRejectedFollower, actor, follow, nil)
	return reject, err
}

// pendingFollow returns the Follow behind an unresolved pending follower
// notification.
func (e *Env) pendingFollow(id snowflake.ID) (*models.Notification, *models.InboxObject, error) {
	notif, err := models.NewNotifications(e.DB).FindByID(id)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil, validationError("unknown notification %d", id)
	case err != nil:
		return nil, nil, err
	}
	if notif.Type != models.NotificationPendingIncomingFollower || notif.InboxObjectID == nil || notif.Actor == nil {
		return nil, nil, validationError("notification %d is not a pending follower", id)
	}
	if notif.IsAccepted || notif.IsRejected {
		return nil, nil, validationError("notification %d is already resolved", id)
	}
	follow, err := models.NewInboxObjects(e.DB).FindByID(*notif.InboxObjectID)
	if err != nil {
		return nil, nil, err
	}
	return notif, follow, nil
}

// SendAccept accepts the pending follower of notification id.
func (e *Env) SendAccept(ctx context.Context, id snowflake.ID) (*models.OutboxObject, error) {
	return e.resolvePending(id, true)
}

// SendReject rejects the pending follower of notification id.
func (e *Env) SendReject(ctx context.Context, id snowflake.ID) (*models.OutboxObject, error) {
	return e.resolvePending(id, false)
}

func (e *Env) resolvePending(id snowflake.ID, accept bool) (*models.OutboxObject, error) {
	notif, follow, err := e.pendingFollow(id)
	if err != nil {
		return nil, err
	}
	var obj *models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		if accept {
			obj, err = e.acceptFollow(tx, notif.Actor, follow)
		} else {
			obj, err = e.rejectFollow(tx, notif.Actor, follow)
		}
		if err != nil {
			return err
		}
		return models.NewNotifications(tx).Resolve(notif, accept)
	})
	if err != nil {
		return nil, err
	}
	authored(obj)
	return obj, nil
}

// SendMove announces to the local actor's followers that it has moved to
// target. target must already list the local actor as an alias.
func (e *Env) SendMove(ctx context.Context, target string) (*models.OutboxObject, error) {
	actor, err := e.Actors().Fetch(ctx, e.DB, target, true)
	if err != nil {
		return nil, err
	}
	if actor, err = e.Actors().Refetch(ctx, e.DB, actor); err != nil {
		return nil, err
	}
	if !algorithms.Contains(actor.AlsoKnownAs(), e.Local.ID()) {
		return nil, validationError("%s does not list %s in alsoKnownAs", actor.APID, e.Local.ID())
	}
	publicID, id := e.newObject()
	doc := map[string]any{
		"@context": activityStreamsContext,
		"type":     "Move",
		"id":       id,
		"actor":    e.Local.ID(),
		"object":   e.Local.ID(),
		"target":   actor.APID,
		"to":       []string{e.Local.Followers()},
	}
	recipients, err := e.Recipients(ctx, e.DB, doc)
	if err != nil {
		return nil, err
	}
	var move *models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		move, err = e.saveActivity(tx, publicID, doc, models.Ref{}, recipients)
		return err
	})
	if err != nil {
		return nil, err
	}
	authored(move)
	return move, nil
}

// SendSelfDestruct deletes the local actor, telling every known actor.
func (e *Env) SendSelfDestruct(ctx context.Context) (*models.OutboxObject, error) {
	actors, err := models.NewActors(e.DB).Known()
	if err != nil {
		return nil, err
	}
	recipients := algorithms.Uniq(algorithms.Filter(algorithms.Map(actors, (*models.Actor).Inbox), func(inbox string) bool {
		return inbox != ""
	}))
	publicID, id := e.newObject()
	doc := map[string]any{
		"@context": activityStreamsContext,
		"type":     "Delete",
		"id":       id,
		"actor":    e.Local.ID(),
		"object":   e.Local.ID(),
		"to":       []string{PublicCollection},
	}
	var del *models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		del, err = e.saveActivity(tx, publicID, doc, models.Ref{}, recipients)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.Log().Warn("self-destruct queued", "recipients", len(recipients))
	authored(del)
	return del, nil
}
