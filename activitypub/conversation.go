package activitypub

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// maxRootDepth bounds the inReplyTo chain followed to find a conversation root.
const maxRootDepth = 32

// resolveRoot returns the conversation obj belongs to. The inReplyTo chain is
// followed through the store, then the network, until an object with a known
// conversation or the root of the thread is found. Any failure along the
// way makes the current object the root.
func (e *Env) resolveRoot(ctx context.Context, db *gorm.DB, obj map[string]any) string {
	seen := make(map[string]bool)
	current := obj
	for depth := 0; depth < maxRootDepth; depth++ {
		id := idOf(current)
		if seen[id] {
			break
		}
		seen[id] = true

		inReplyTo := inReplyToOf(current)
		if inReplyTo == "" {
			break
		}
		parent, err := e.objects(db).ByAPID(inReplyTo)
		switch {
		case err == nil:
			if conv := parent.Conversation(); conv != "" {
				return conv
			}
			current = parent.APObject()
			continue
		case !errors.Is(err, gorm.ErrRecordNotFound):
			e.Log().Warn("unable to look up parent", "object", id, "parent", inReplyTo, "error", err)
			return rootOf(current)
		}

		var fetched map[string]any
		if err := e.Fetcher.Fetch(ctx, inReplyTo, &fetched); err != nil {
			if !isGone(err) {
				e.Log().Warn("unable to fetch parent", "object", id, "parent", inReplyTo, "error", err)
			}
			return rootOf(current)
		}
		current = fetched
	}
	return rootOf(current)
}

// rootOf returns the conversation started by obj.
func rootOf(obj map[string]any) string {
	if c := contextOf(obj); c != "" {
		return c
	}
	return "root:" + idOf(obj)
}
