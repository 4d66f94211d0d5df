package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/davecheney/solo/activitypub"
	"github.com/davecheney/solo/models"
)

type PostCmd struct {
	Source     string   `arg:"" optional:"" help:"markdown source, read from stdin when omitted"`
	Type       string   `help:"Note, Article or Question" default:"Note" enum:"Note,Article,Question"`
	Visibility string   `help:"public, unlisted, followers-only or direct" default:"public" enum:"public,unlisted,followers-only,direct"`
	InReplyTo  string   `help:"id of the object to reply to"`
	CW         string   `name:"cw" help:"content warning"`
	Sensitive  bool     `help:"mark attachments as sensitive"`
	Name       string   `help:"title of an Article"`
	Answers    []string `name:"answer" help:"poll answer, repeat for each answer"`
	Multiple   bool     `help:"allow choosing several answers"`
	Duration   int      `help:"poll duration in minutes" default:"1440"`
	Attachment []string `help:"url of an attachment, repeat for each"`
}

func (p *PostCmd) Run(ctx *Context) error {
	source := p.Source
	if source == "" {
		buf, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		source = string(buf)
	}
	params := activitypub.CreateParams{
		Type:           p.Type,
		Source:         source,
		Visibility:     models.Visibility(p.Visibility),
		InReplyTo:      p.InReplyTo,
		ContentWarning: p.CW,
		Sensitive:      p.Sensitive,
		Name:           p.Name,
	}
	if p.Type == "Question" {
		params.PollType = "oneOf"
		if p.Multiple {
			params.PollType = "anyOf"
		}
		params.PollAnswers = p.Answers
		params.PollDurationMinutes = p.Duration
	}
	for _, url := range p.Attachment {
		params.Attachments = append(params.Attachments, activitypub.Attachment{
			URL:       url,
			MediaType: mime.TypeByExtension(path.Ext(url)),
		})
	}
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		obj, err := env.SendCreate(c, params)
		if err != nil {
			return err
		}
		fmt.Println(obj.APID)
		return nil
	})
}

type EditCmd struct {
	Object string `arg:"" help:"id of the local object"`
	Source string `arg:"" help:"new markdown source"`
}

func (e *EditCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		obj, err := env.SendUpdate(c, e.Object, e.Source)
		if err != nil {
			return err
		}
		fmt.Println(obj.APID, "revision", len(obj.Revisions))
		return nil
	})
}

type DeleteCmd struct {
	Object string `arg:"" help:"id of the local object"`
}

func (d *DeleteCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		del, err := env.SendDelete(c, d.Object)
		if err != nil {
			return err
		}
		fmt.Println(del.APID)
		return nil
	})
}

type LikeCmd struct {
	Object string `arg:"" help:"id of the object to like"`
}

func (l *LikeCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		like, err := env.SendLike(c, l.Object)
		if err != nil {
			return err
		}
		fmt.Println(like.APID)
		return nil
	})
}

type AnnounceCmd struct {
	Object string `arg:"" help:"id of the object to announce"`
}

func (a *AnnounceCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		announce, err := env.SendAnnounce(c, a.Object)
		if err != nil {
			return err
		}
		fmt.Println(announce.APID)
		return nil
	})
}

type UndoCmd struct {
	Activity string `arg:"" help:"id of the local Like, Announce or Follow"`
}

func (u *UndoCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		undo, err := env.SendUndo(c, u.Activity)
		if err != nil {
			return err
		}
		fmt.Println(undo.APID)
		return nil
	})
}

type VoteCmd struct {
	Question string   `arg:"" help:"id of the remote Question"`
	Answers  []string `arg:"" help:"names of the chosen answers"`
}

func (v *VoteCmd) Run(ctx *Context) error {
	return ctx.withEnv(func(c context.Context, env *activitypub.Env) error {
		votes, err := env.SendVote(c, v.Question, v.Answers)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(votes))
		for _, vote := range votes {
			ids = append(ids, vote.APID)
		}
		fmt.Println(strings.Join(ids, "\n"))
		return nil
	})
}
