package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/davecheney/solo/internal/activitypub"
	"github.com/davecheney/solo/models"
	"gorm.io/gorm"
)

// Actors is the actor directory. It resolves actor ids to cached actors,
// fetching and saving actors it has not seen before.
type Actors struct {
	env *Env
}

func (e *Env) Actors() *Actors {
	return &Actors{env: e}
}

// Fetch returns the actor apID. If the actor is not cached and
// saveIfNotFound is set, the actor is fetched and saved, flagged as
// blocked if its server is on the block list. A missing, gone or non
// actor document is reported as activitypub.ErrObjectNotFound.
func (a *Actors) Fetch(ctx context.Context, db *gorm.DB, apID string, saveIfNotFound bool) (*models.Actor, error) {
	actors := models.NewActors(db)
	actor, err := actors.FindByAPID(apID)
	switch {
	case err == nil:
		return actor, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	case !saveIfNotFound:
		return nil, fmt.Errorf("%s: %w", apID, activitypub.ErrObjectNotFound)
	}

	var doc map[string]any
	if err := a.env.Fetcher.Fetch(ctx, apID, &doc); err != nil {
		if errors.Is(err, activitypub.ErrObjectGone) || errors.Is(err, activitypub.ErrNotAnObject) {
			return nil, fmt.Errorf("%s: %v: %w", apID, err, activitypub.ErrObjectNotFound)
		}
		return nil, err
	}
	return a.save(db, apID, doc)
}

// Refresh overwrites the stored document of actor with doc.
func (a *Actors) Refresh(db *gorm.DB, actor *models.Actor, doc map[string]any) (*models.Actor, error) {
	return a.save(db, actor.APID, doc)
}

// Refetch fetches the current document of actor and stores it.
func (a *Actors) Refetch(ctx context.Context, db *gorm.DB, actor *models.Actor) (*models.Actor, error) {
	var doc map[string]any
	if err := a.env.Fetcher.Fetch(ctx, actor.APID, &doc); err != nil {
		return nil, err
	}
	return a.save(db, actor.APID, doc)
}

func (a *Actors) save(db *gorm.DB, apID string, doc map[string]any) (*models.Actor, error) {
	if !models.IsActorType(typeOf(doc)) {
		return nil, fmt.Errorf("%s: unexpected type %q: %w", apID, typeOf(doc), activitypub.ErrObjectNotFound)
	}
	if idOf(doc) != apID {
		return nil, fmt.Errorf("%s: document has id %q: %w", apID, idOf(doc), activitypub.ErrObjectNotFound)
	}
	actors := models.NewActors(db)
	blocked := a.env.isBlockedServer(hostOf(apID))
	if existing, err := actors.FindByAPID(apID); err == nil && existing.IsBlocked {
		blocked = true
	}
	return actors.Save(doc, blocked)
}
