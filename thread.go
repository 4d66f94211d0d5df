package main

import (
	"fmt"
	"strings"

	"github.com/davecheney/solo/activitypub"
	"github.com/davecheney/solo/models"
)

type ThreadCmd struct {
	Object  string `arg:"" help:"id of any object in the conversation"`
	Private bool   `help:"include followers-only and direct replies"`
}

func (t *ThreadCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	env, _, err := ctx.newEnv(db)
	if err != nil {
		return err
	}
	obj, err := models.NewObjects(db, env.Local.BaseURL).ByAPID(t.Object)
	if err != nil {
		return fmt.Errorf("%s: %w", t.Object, err)
	}
	tree, err := env.BuildReplyTree(obj, t.Private)
	if err != nil {
		return err
	}

	type frame struct {
		node  *activitypub.ReplyNode
		depth int
	}
	stack := []frame{{node: tree}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		marker := " "
		if f.node.IsRequested {
			marker = "*"
		}
		o := f.node.Object
		fmt.Printf("%s%s %s %s [%s, %d replies]\n", strings.Repeat("  ", f.depth), marker,
			o.PublishedAt().Format("2006-01-02 15:04"), o.APID(), o.Visibility(), len(f.node.Children))
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Children[i], depth: f.depth + 1})
		}
	}
	return nil
}
