package activitypub

import (
	"context"
	"errors"
	"sort"

	"github.com/davecheney/solo/internal/algorithms"
	"github.com/davecheney/solo/models"
	"gorm.io/gorm"
)

// Recipients expands the addressing of doc into the sorted, deduplicated
// inboxes it should be delivered to. Actors named in skip are left out.
// Recipients that cannot be resolved are logged and skipped.
func (e *Env) Recipients(ctx context.Context, db *gorm.DB, doc map[string]any, skip ...string) ([]string, error) {
	skipped := func(apID string) bool {
		return algorithms.Contains(skip, apID)
	}
	var inboxes []string
	for _, addr := range recipientsOf(doc) {
		switch {
		case isPublic(addr), addr == e.Local.ID():
			continue
		case addr == e.Local.Followers():
			followers, err := models.NewFollowers(db).All()
			if err != nil {
				return nil, err
			}
			for _, f := range followers {
				if !skipped(f.Actor.APID) {
					inboxes = append(inboxes, f.Actor.Inbox())
				}
			}
		case e.Local.IsLocal(addr):
			e.Log().Debug("skipping local recipient", "recipient", addr)
		case skipped(addr):
			continue
		default:
			found, err := e.remoteRecipients(ctx, db, addr, skipped)
			if err != nil {
				return nil, err
			}
			inboxes = append(inboxes, found...)
		}
	}
	inboxes = algorithms.Filter(inboxes, func(s string) bool { return s != "" })
	sort.Strings(inboxes)
	return algorithms.Uniq(inboxes), nil
}

// remoteRecipients resolves addr, which is either an actor or a collection
// of actors. Only database errors are returned.
func (e *Env) remoteRecipients(ctx context.Context, db *gorm.DB, addr string, skipped func(string) bool) ([]string, error) {
	actor, err := models.NewActors(db).FindByAPID(addr)
	switch {
	case err == nil:
		if actor.IsDeleted {
			return nil, nil
		}
		return []string{actor.Inbox()}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	var doc map[string]any
	if err := e.Fetcher.Fetch(ctx, addr, &doc); err != nil {
		e.Log().Warn("unable to resolve recipient", "recipient", addr, "error", err)
		return nil, nil
	}
	if models.IsActorType(typeOf(doc)) {
		actor, err := e.Actors().save(db, addr, doc)
		if err != nil {
			e.Log().Warn("unable to save recipient", "recipient", addr, "error", err)
			return nil, nil
		}
		return []string{actor.Inbox()}, nil
	}

	items, err := e.Fetcher.FetchCollection(ctx, addr, 0)
	if err != nil {
		e.Log().Warn("unable to expand recipient collection", "recipient", addr, "error", err)
		return nil, nil
	}
	var inboxes []string
	for _, item := range items {
		id := idFromAny(item)
		if id == "" || skipped(id) {
			continue
		}
		member, err := e.Actors().Fetch(ctx, db, id, true)
		if err != nil {
			e.Log().Warn("unable to resolve collection member", "recipient", addr, "member", id, "error", err)
			continue
		}
		if !member.IsDeleted {
			inboxes = append(inboxes, member.Inbox())
		}
	}
	return inboxes, nil
}
