package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/davecheney/solo/internal/activitypub"
	"github.com/davecheney/solo/internal/ldsig"
	"github.com/davecheney/solo/internal/metrics"
	"github.com/davecheney/solo/models"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// inbox is the state of one inbound activity while it is being applied.
type inbox struct {
	env *Env
	ctx context.Context
	tx  *gorm.DB
	log *slog.Logger

	// actor is the author of the activity.
	actor *models.Actor
	// forwardedBy is the actor that delivered the activity on behalf of
	// actor, if any.
	forwardedBy *models.Actor

	activity *models.InboxObject
	// relatesTo is the stored object activity.ActivityObjectAPID points at, if any.
	relatesTo *models.Object
}

// withTx returns a copy of in operating on tx.
func (in *inbox) withTx(tx *gorm.DB) *inbox {
	c := *in
	c.tx = tx
	return &c
}

func (in *inbox) objects() *models.Objects { return in.env.objects(in.tx) }

func (in *inbox) notify(typ models.NotificationType, actor *models.Actor, inbox *models.InboxObject, outbox *models.OutboxObject) error {
	_, err := models.NewNotifications(in.tx).Notify(typ, actor, inbox, outbox)
	return err
}

// discard removes the just stored activity; it turned out to be irrelevant.
func (in *inbox) discard() error {
	return models.NewInboxObjects(in.tx).Delete(in.activity)
}

// Ingest applies one inbound activity, delivered by the actor sentBy.
// Activities that should not be processed are logged and dropped. A
// forwarded activity that can be neither verified nor refetched returns
// ErrInvalidSignature.
func (e *Env) Ingest(ctx context.Context, raw map[string]any, sentBy string) error {
	typ := typeOf(raw)
	kind := ParseKind(typ)
	log := e.Log().With("type", typ, "ap_id", idOf(raw), "sent_by", sentBy)
	result := "ok"
	defer func() {
		metrics.Ingested.WithLabelValues(kind.String(), result).Inc()
	}()
	drop := func(msg string, args ...any) error {
		result = "dropped"
		log.Info(msg, args...)
		return nil
	}

	if models.IsActorType(typ) {
		if idOf(raw) != sentBy {
			return drop("actor payload not sent by the actor")
		}
		actor, err := e.Actors().Fetch(ctx, e.DB, sentBy, true)
		if err != nil {
			return drop("unable to resolve actor", "error", err)
		}
		if _, err := e.Actors().Refresh(e.DB, actor, raw); err != nil {
			result = "error"
			return err
		}
		return nil
	}

	actorID := idFromAny(raw["actor"])
	if actorID == "" {
		return drop("activity has no actor")
	}
	if e.isBlockedServer(hostOf(actorID)) {
		return drop("actor server is blocked")
	}
	actor, err := e.Actors().Fetch(ctx, e.DB, actorID, true)
	if err != nil {
		return drop("unable to resolve actor", "error", err)
	}
	if actor.IsBlocked {
		return drop("actor is blocked")
	}
	log = log.With("actor", actor.APID)

	if idOf(raw) == "" {
		result = "transient"
		e.ingestTransient(log, kind, raw)
		return nil
	}

	var forwardedBy *models.Actor
	if sentBy != actor.APID {
		if forwardedBy, err = e.Actors().Fetch(ctx, e.DB, sentBy, true); err != nil {
			log.Warn("unable to resolve forwarding actor", "error", err)
			forwardedBy = nil
		}
		verified, err := e.verifyForward(ctx, raw)
		if err != nil {
			log.Info("linked data signature not verified", "error", err)
		}
		if !verified {
			var fetched map[string]any
			if err := e.Fetcher.Fetch(ctx, idOf(raw), &fetched); err != nil {
				result = "rejected"
				return fmt.Errorf("forwarded activity %s: %v: %w", idOf(raw), err, ErrInvalidSignature)
			}
			if idOf(fetched) != idOf(raw) {
				return drop("refetched forwarded activity has a different id", "fetched", idOf(fetched))
			}
			raw = fetched
		}
	}

	// advisory; the unique index on ap_id is the authority.
	if ok, err := models.NewInboxObjects(e.DB).Exists(idOf(raw)); err != nil {
		result = "error"
		return err
	} else if ok {
		return drop("duplicate activity")
	}

	err = e.Transaction(func(tx *gorm.DB) error {
		in := &inbox{
			env:         e,
			ctx:         ctx,
			tx:          tx,
			log:         log,
			actor:       actor,
			forwardedBy: forwardedBy,
		}
		return in.persist(kind, raw)
	})
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return drop("duplicate activity")
	case errors.Is(err, ErrValidation):
		result = "rejected"
		return err
	case err != nil:
		result = "error"
		return fmt.Errorf("Ingest: %s: %w", idOf(raw), err)
	}
	return nil
}

func (e *Env) verifyForward(ctx context.Context, raw map[string]any) (bool, error) {
	if e.Verifier == nil || !ldsig.HasSignature(raw) {
		return false, nil
	}
	return e.Verifier.Verify(ctx, raw)
}

// ingestTransient handles an activity without an id. Nothing is stored.
func (e *Env) ingestTransient(log *slog.Logger, kind Kind, raw map[string]any) {
	switch kind {
	case KindAdd, KindRemove:
		log.Debug("ignoring transient collection update", "target", idFromAny(raw["target"]))
	default:
		log.Info("ignoring transient activity")
	}
}

// persist stores the activity hidden from the stream, resolves the object
// it refers to and dispatches it to its handler.
func (in *inbox) persist(kind Kind, raw map[string]any) error {
	objID := activityObjectAPID(raw)
	if objID != "" {
		obj, err := in.objects().ByAPID(objID)
		switch {
		case err == nil:
			in.relatesTo = obj
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
	}

	in.activity = &models.InboxObject{
		ActorID:            in.actor.ID,
		Server:             in.actor.Server,
		IsHiddenFromStream: true,
		APActorID:          in.actor.APID,
		APType:             typeOf(raw),
		APID:               idOf(raw),
		APContext:          contextOf(raw),
		APPublishedAt:      publishedOf(raw),
		APObject:           raw,
		Visibility:         visibilityOf(raw, followersOf(in.actor, raw)),
		InReplyTo:          inReplyToOf(raw),
		ActivityObjectAPID: objID,
		HasLDSignature:     ldsig.HasSignature(raw),
	}
	if in.relatesTo != nil {
		in.activity.RelatesTo = in.relatesTo.Ref()
	}
	if err := models.NewInboxObjects(in.tx).Create(in.activity); err != nil {
		return err
	}
	in.activity.Actor = in.actor
	return handlers[kind](in)
}

// setRelatesTo points the stored activity at ref.
func (in *inbox) setRelatesTo(obj *models.InboxObject, ref models.Ref) error {
	obj.RelatesTo = ref
	return in.tx.Model(obj).UpdateColumns(map[string]any{
		"relates_to_store": ref.Store,
		"relates_to_id":    ref.ID,
	}).Error
}

func (in *inbox) setHidden(obj *models.InboxObject, hidden bool) error {
	obj.IsHiddenFromStream = hidden
	return in.tx.Model(obj).UpdateColumn("is_hidden_from_stream", hidden).Error
}

// fetchObject returns the object v, which is either embedded or an id to fetch.
func (in *inbox) fetchObject(v any) (map[string]any, error) {
	if obj := mapFromAny(v); obj != nil && (len(obj) > 1 || idOf(obj) == "") {
		return obj, nil
	}
	id := idFromAny(v)
	if id == "" {
		return nil, validationError("activity has no object")
	}
	var obj map[string]any
	if err := in.env.Fetcher.Fetch(in.ctx, id, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func handleUnknown(in *inbox) error {
	in.log.Info("unsupported activity type, stored without side effects")
	return nil
}

func handleInert(in *inbox) error {
	in.log.Debug("activity stored without side effects")
	return nil
}

func handleView(in *inbox) error {
	in.log.Debug("discarding View")
	return in.discard()
}

func handleEmojiReact(in *inbox) error {
	if in.relatesTo == nil || !in.relatesTo.IsLocal() {
		in.log.Debug("discarding EmojiReact of unknown object", "object", in.activity.ActivityObjectAPID)
		return in.discard()
	}
	in.log.Info("EmojiReact is not supported")
	return nil
}

// isGone reports whether err means the remote object will never be available.
func isGone(err error) bool {
	return errors.Is(err, activitypub.ErrObjectNotFound) ||
		errors.Is(err, activitypub.ErrObjectGone) ||
		errors.Is(err, activitypub.ErrNotAnObject) ||
		errors.Is(err, activitypub.ErrObjectUnavailable) ||
		activitypub.IsClientError(err)
}
