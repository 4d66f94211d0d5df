package main

import (
	"context"
	"fmt"

	"github.com/davecheney/solo/activitypub"
)

type FetchActorCmd struct {
	Actor string `arg:"" help:"actor id or @user@host handle to fetch"`
}

func (f *FetchActorCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		actorID, err := resolveActor(c, env, f.Actor)
		if err != nil {
			return err
		}
		actor, err := env.Actors().Fetch(c, env.DB, actorID, true)
		if err != nil {
			return fmt.Errorf("failed to fetch actor: %w", err)
		}
		// Fetch serves the cached copy when there is one
		if actor, err = env.Actors().Refetch(c, env.DB, actor); err != nil {
			return fmt.Errorf("failed to refresh actor: %w", err)
		}
		return printJSON(actor.Document)
	})
}
