package activitypub

import (
	"context"
	"errors"

	"github.com/davecheney/solo/models"
	"gorm.io/gorm"
)

func handleCreate(in *inbox) error {
	obj, err := in.fetchObject(in.activity.APObject["object"])
	if err != nil {
		return err
	}
	if author := attributedTo(obj); author != in.actor.APID {
		return validationError("Create by %s of object attributed to %s", in.actor.APID, author)
	}

	del, err := models.NewInboxObjects(in.tx).FindDeleteFor(idOf(obj))
	switch {
	case err == nil:
		if del.APActorID != in.actor.APID {
			in.log.Warn("ignoring Create of object deleted by another actor", "deleted_by", del.APActorID)
			return nil
		}
		in.log.Info("object was deleted before it was created")
		return models.NewInboxObjects(in.tx).MarkDeleted(in.activity)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	_, err = in.processObject(in.activity, in.actor, obj, true)
	return err
}

func handleRead(in *inbox) error {
	obj, err := in.fetchObject(in.activity.APObject["object"])
	if err != nil {
		return err
	}
	author, err := in.env.Actors().Fetch(in.ctx, in.tx, attributedTo(obj), true)
	if err != nil {
		return err
	}
	if author.IsBlocked {
		in.log.Info("ignoring Read of object by blocked actor", "author", author.APID)
		return nil
	}
	_, err = in.processObject(in.activity, author, obj, true)
	return err
}

// processObject materialises obj, authored by author and delivered by the
// activity parent. Replies to local objects are forwarded to followers and
// quoted objects materialised when processQuote is set.
func (in *inbox) processObject(parent *models.InboxObject, author *models.Actor, obj map[string]any, processQuote bool) (*models.InboxObject, error) {
	inboxObjects := models.NewInboxObjects(in.tx)
	id := idOf(obj)
	if existing, err := inboxObjects.FindByAPID(id); err == nil {
		in.log.Debug("object already stored", "object", id)
		if processQuote {
			return existing, in.setRelatesTo(parent, existing.Ref())
		}
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	following, err := models.NewFollowings(in.tx).IsFollowing(author.APID)
	if err != nil {
		return nil, err
	}
	inReplyTo := inReplyToOf(obj)
	isReply := inReplyTo != ""
	isLocalReply := isReply && in.env.Local.IsLocal(inReplyTo) && contentOf(obj) != ""
	isMention := in.env.mentions(obj)

	replies, err := in.objects().CountReplies(id)
	if err != nil {
		return nil, err
	}

	note := &models.InboxObject{
		ActorID:            author.ID,
		Server:             author.Server,
		IsHiddenFromStream: !((!isReply && following) || isMention || isLocalReply),
		APActorID:          author.APID,
		APType:             typeOf(obj),
		APID:               id,
		APContext:          contextOf(obj),
		Conversation:       in.env.resolveRoot(in.ctx, in.tx, obj),
		APPublishedAt:      publishedOf(obj),
		APObject:           obj,
		Visibility:         visibilityOf(obj, followersOf(author, obj)),
		InReplyTo:          inReplyTo,
		RelatesTo:          parent.Ref(),
		RepliesCount:       int32(replies),
	}
	if err := inboxObjects.Create(note); err != nil {
		return nil, err
	}
	note.Actor = author
	if processQuote {
		if err := in.setRelatesTo(parent, note.Ref()); err != nil {
			return nil, err
		}
	}

	if isReply {
		if err := in.processReply(parent, note, processQuote); err != nil {
			return nil, err
		}
	}

	if isMention {
		if err := in.notify(models.NotificationMention, author, note, nil); err != nil {
			return nil, err
		}
	}

	if quoted := quoteURL(obj); processQuote && quoted != "" {
		in.processQuote(note, quoted)
	}
	return note, nil
}

// processReply updates the parent of note, handles poll answers, and
// forwards replies to local objects.
func (in *inbox) processReply(parent, note *models.InboxObject, forward bool) error {
	replied, err := in.objects().ByAPID(note.InReplyTo)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	case err != nil:
		return err
	}

	if replied.IsLocal() && replied.APType() == "Question" && stringFromAny(note.APObject["name"]) != "" {
		return in.handleVote(note, replied.Outbox)
	}
	if err := in.objects().RecountReplies(replied.APID()); err != nil {
		return err
	}

	if forward && parent.APType == "Create" && replied.IsLocal() && replied.APType() != "Question" && parent.HasLDSignature {
		skip := []string{parent.APActorID}
		if in.forwardedBy != nil {
			skip = append(skip, in.forwardedBy.APID)
		}
		return in.forward(parent, skip...)
	}
	return nil
}

// forward enqueues the stored activity for delivery to the local actor's
// followers.
func (in *inbox) forward(activity *models.InboxObject, skip ...string) error {
	recipients, err := in.env.Recipients(in.ctx, in.tx, map[string]any{
		"to": []any{in.env.Local.Followers()},
	}, skip...)
	if err != nil {
		return err
	}
	in.log.Info("forwarding activity", "recipients", len(recipients))
	return in.env.enqueue(in.tx, activity.Ref(), recipients...)
}

// processQuote materialises the object note quotes. Failures are logged.
func (in *inbox) processQuote(note *models.InboxObject, quoted string) {
	err := in.tx.Transaction(func(tx *gorm.DB) error {
		in := in.withTx(tx)
		obj, err := in.objects().ByAPID(quoted)
		switch {
		case err == nil:
			if obj.IsLocal() {
				return nil
			}
			return tx.Model(note).UpdateColumn("quoted_inbox_object_id", obj.Inbox.ID).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		var raw map[string]any
		if err := in.env.Fetcher.Fetch(in.ctx, quoted, &raw); err != nil {
			return err
		}
		author, err := in.env.Actors().Fetch(in.ctx, tx, attributedTo(raw), true)
		if err != nil {
			return err
		}
		if author.IsBlocked {
			return nil
		}
		q, err := in.processObject(note, author, raw, false)
		if err != nil {
			return err
		}
		note.QuotedInboxObjectID = &q.ID
		return tx.Model(note).UpdateColumn("quoted_inbox_object_id", q.ID).Error
	})
	if err != nil {
		in.log.Warn("unable to process quoted object", "quote", quoted, "error", err)
	}
}

// saveObject stores a fetched remote object hidden from the stream.
func (e *Env) saveObject(ctx context.Context, tx *gorm.DB, obj map[string]any) (*models.InboxObject, error) {
	author, err := e.Actors().Fetch(ctx, tx, attributedTo(obj), true)
	if err != nil {
		return nil, err
	}
	replies, err := e.objects(tx).CountReplies(idOf(obj))
	if err != nil {
		return nil, err
	}
	saved := &models.InboxObject{
		ActorID:            author.ID,
		Server:             author.Server,
		IsHiddenFromStream: true,
		APActorID:          author.APID,
		APType:             typeOf(obj),
		APID:               idOf(obj),
		APContext:          contextOf(obj),
		Conversation:       e.resolveRoot(ctx, tx, obj),
		APPublishedAt:      publishedOf(obj),
		APObject:           obj,
		Visibility:         visibilityOf(obj, followersOf(author, obj)),
		InReplyTo:          inReplyToOf(obj),
		RepliesCount:       int32(replies),
	}
	if err := models.NewInboxObjects(tx).Create(saved); err != nil {
		return nil, err
	}
	saved.Actor = author
	if saved.InReplyTo != "" {
		if err := e.objects(tx).RecountReplies(saved.InReplyTo); err != nil {
			return nil, err
		}
	}
	return saved, nil
}
