package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/davecheney/solo/activitypub"
	"github.com/davecheney/solo/internal/snowflake"
	"github.com/davecheney/solo/models"
	"gorm.io/gorm"
)

// resolveActor turns a @user@host handle into an actor id. Anything that is
// not a handle is returned unchanged.
func resolveActor(ctx context.Context, env *activitypub.Env, s string) (string, error) {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s, nil
	}
	return env.Finger(ctx, s)
}

type FollowCmd struct {
	Actor string `arg:"" help:"actor id or @user@host handle to follow"`
}

func (f *FollowCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		actorID, err := resolveActor(c, env, f.Actor)
		if err != nil {
			return err
		}
		follow, err := env.SendFollow(c, actorID)
		if err != nil {
			return err
		}
		fmt.Println(follow.APID)
		return nil
	})
}

type UnfollowCmd struct {
	Actor string `arg:"" help:"actor id or @user@host handle to unfollow"`
}

func (u *UnfollowCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		actorID, err := resolveActor(c, env, u.Actor)
		if err != nil {
			return err
		}
		follow, err := models.NewOutboxObjects(env.DB).FindFollow(actorID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("not following %s", actorID)
		}
		if err != nil {
			return err
		}
		undo, err := env.SendUndo(c, follow.APID)
		if err != nil {
			return err
		}
		fmt.Println(undo.APID)
		return nil
	})
}

type PendingCmd struct {
	All bool `help:"include requests that have been resolved"`
}

func (p *PendingCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	notifs, err := models.NewNotifications(db.Preload("Actor")).OfType(models.NotificationPendingIncomingFollower)
	if err != nil {
		return err
	}
	for _, n := range notifs {
		state := "pending"
		switch {
		case n.IsAccepted:
			state = "accepted"
		case n.IsRejected:
			state = "rejected"
		}
		if state != "pending" && !p.All {
			continue
		}
		actor := "(unknown)"
		if n.Actor != nil {
			actor = n.Actor.APID
		}
		fmt.Printf("%d\t%s\t%s\t%s\n", n.ID, n.CreatedAt.Format("2006-01-02 15:04"), state, actor)
	}
	return nil
}

type AcceptCmd struct {
	ID snowflake.ID `arg:"" help:"id of the pending follow request, see pending"`
}

func (a *AcceptCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		accept, err := env.SendAccept(c, a.ID)
		if err != nil {
			return err
		}
		fmt.Println(accept.APID)
		return nil
	})
}

type RejectCmd struct {
	ID snowflake.ID `arg:"" help:"id of the pending follow request, see pending"`
}

func (r *RejectCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		reject, err := env.SendReject(c, r.ID)
		if err != nil {
			return err
		}
		fmt.Println(reject.APID)
		return nil
	})
}

type MoveCmd struct {
	Target string `arg:"" help:"actor id or @user@host handle of the new account"`
}

func (m *MoveCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		target, err := resolveActor(c, env, m.Target)
		if err != nil {
			return err
		}
		move, err := env.SendMove(c, target)
		if err != nil {
			return err
		}
		fmt.Println(move.APID)
		return nil
	})
}

type SelfDestructCmd struct {
	Confirm string `required:"" help:"the handle of the local actor, to confirm"`
}

func (s *SelfDestructCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		if s.Confirm != env.Local.Handle() {
			return fmt.Errorf("--confirm must be %s", env.Local.Handle())
		}
		del, err := env.SendSelfDestruct(c)
		if err != nil {
			return err
		}
		fmt.Println(del.APID)
		return nil
	})
}
